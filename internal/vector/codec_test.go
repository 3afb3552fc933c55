package vector

import (
	"errors"
	"testing"

	"github.com/latticemem/engine/internal/errs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := sampleVector()
	blob := Encode(v)
	if len(blob) != BlobSize {
		t.Fatalf("blob length = %d, want %d", len(blob), BlobSize)
	}
	decoded, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	for i := range v {
		if decoded[i] != v[i] {
			t.Fatalf("decode(encode(v))[%d] = %v, want %v (bit-exact)", i, decoded[i], v[i])
		}
	}
}

func TestDecodeRejectsMisalignedLength(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for length not a multiple of 4")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindCodec {
		t.Fatalf("expected CodecError, got %v", err)
	}
}

func TestDecodeRejectsWrongDimension(t *testing.T) {
	_, err := Decode(make([]byte, 4*10))
	if err == nil {
		t.Fatal("expected error for wrong dimension")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindCodec {
		t.Fatalf("expected CodecError, got %v", err)
	}
}
