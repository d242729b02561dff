package attachment

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when an inline attachment is not valid base64.
var ErrInvalidPayload = errors.New("invalid attachment payload")

// IOError reports a filesystem failure while materializing an attachment.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("attachment %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CompressionError reports a failure to decode, resize or re-encode an image.
type CompressionError struct {
	Filename string
	Err      error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("failed to compress %s: %v", e.Filename, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}
