// Package errs provides the typed error taxonomy used across the engine.
//
// Every error that crosses a package boundary is wrapped into an *Error
// carrying one of the fixed Kind values below, so callers can branch on
// errors.Is / errors.As instead of parsing message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the engine's seven failure modes.
type Kind string

const (
	KindCodec             Kind = "codec"
	KindEmbedding          Kind = "embedding"
	KindTimeout            Kind = "timeout"
	KindStore              Kind = "store"
	KindCacheUnavailable   Kind = "cache_unavailable"
	KindIndexInconsistency Kind = "index_inconsistency"
	KindInvalidArgument    Kind = "invalid_argument"
)

// Error is the engine's single error type. Message is a human-readable
// summary; Cause is the wrapped underlying error, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errs.New(errs.KindTimeout, "", nil)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Codec(message string, cause error) *Error {
	return New(KindCodec, message, cause)
}

func Embedding(message string, cause error) *Error {
	return New(KindEmbedding, message, cause)
}

func Timeout(message string, cause error) *Error {
	return New(KindTimeout, message, cause)
}

func Store(message string, cause error) *Error {
	return New(KindStore, message, cause)
}

func CacheUnavailable(message string, cause error) *Error {
	return New(KindCacheUnavailable, message, cause)
}

func IndexInconsistency(message string, cause error) *Error {
	return New(KindIndexInconsistency, message, cause)
}

func InvalidArgument(message string, cause error) *Error {
	return New(KindInvalidArgument, message, cause)
}

// KindOf extracts the Kind from err, returning ok=false if err is not (or
// does not wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
