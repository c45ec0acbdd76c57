package telemetry

import (
	"errors"
	"fmt"
)

// Decode fault causes. A *DecodeError always wraps exactly one of them.
var (
	ErrEmptyFrame       = errors.New("empty frame")
	ErrInvalidUTF8      = errors.New("frame is not valid UTF-8")
	ErrSyntax           = errors.New("malformed frame")
	ErrType             = errors.New("channel value is not a number")
	ErrDuplicateChannel = errors.New("duplicate channel")
	ErrTrailingData     = errors.New("trailing data after frame")
	ErrSchema           = errors.New("frame does not match schema")
)

// DecodeError reports a rejected frame.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", truncate(e.Raw, 64), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func fault(raw []byte, cause error, format string, args ...any) *DecodeError {
	err := cause
	if format != "" {
		err = fmt.Errorf("%w: "+format, append([]any{cause}, args...)...)
	}
	return &DecodeError{Raw: raw, Err: err}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
