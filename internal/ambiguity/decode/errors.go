package decode

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed covers payloads that are not a well-formed event and
	// required fields whose value cannot be parsed.
	ErrMalformed = errors.New("malformed event")

	// ErrMissingField is returned when a required key is absent or blank.
	ErrMissingField = errors.New("missing required field")
)

// Error describes why a raw event was rejected before reaching the detector.
type Error struct {
	// Kind is ErrMalformed or ErrMissingField.
	Kind error

	// Field names the offending key, if any.
	Field string

	// Err is the underlying parser error, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap exposes Kind so callers can use errors.Is with the sentinels.
func (e *Error) Unwrap() error { return e.Kind }

// IsDecodeError reports whether err (or anything it wraps) is a decode failure.
func IsDecodeError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

func malformed(field string, err error) *Error {
	return &Error{Kind: ErrMalformed, Field: field, Err: err}
}

func missing(field string) *Error {
	return &Error{Kind: ErrMissingField, Field: field}
}
