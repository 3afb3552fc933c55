package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/latticemem/engine/internal/errs"
)

// BlobSize is the byte length of an encoded vector: Dim little-endian
// float32 components, no header.
const BlobSize = Dim * 4

// Encode reinterprets v as a little-endian byte blob. Callers must ensure
// len(v) == Dim; Encode does not validate dimensionality, since it is only
// ever called on vectors the engine itself produced.
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// Decode reverses Encode, validating that blob's length is a multiple of 4
// and decodes to exactly Dim components.
func Decode(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errs.Codec(fmt.Sprintf("blob length %d is not a multiple of 4", len(blob)), nil)
	}
	n := len(blob) / 4
	if n != Dim {
		return nil, errs.Codec(fmt.Sprintf("blob decodes to %d components, want %d", n, Dim), nil)
	}
	out := make([]float32, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}
