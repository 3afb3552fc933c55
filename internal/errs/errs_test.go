package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Store("write failed", cause)

	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if got := errors.Unwrap(e); got != cause {
		t.Fatalf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := Timeout("embed call", nil)
	b := Timeout("different message", errors.New("x"))
	c := Store("write failed", nil)

	if !errors.Is(a, b) {
		t.Fatalf("expected two Timeout errors to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Fatalf("expected Timeout and Store errors not to match")
	}
}

func TestKindOf(t *testing.T) {
	e := InvalidArgument("bad topK", nil)
	kind, ok := KindOf(e)
	if !ok || kind != KindInvalidArgument {
		t.Fatalf("KindOf() = (%v, %v), want (%v, true)", kind, ok, KindInvalidArgument)
	}

	wrapped := fmt.Errorf("pipeline: %w", e)
	kind, ok = KindOf(wrapped)
	if !ok || kind != KindInvalidArgument {
		t.Fatalf("KindOf(wrapped) = (%v, %v), want (%v, true)", kind, ok, KindInvalidArgument)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("KindOf(plain error) should report ok=false")
	}
}

func TestErrorMessageFormat(t *testing.T) {
	e := Codec("bad vector length", errors.New("got 100 bytes"))
	want := "codec: bad vector length: got 100 bytes"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}
