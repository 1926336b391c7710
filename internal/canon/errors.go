package canon

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDecode is matched by every DecodeError.
	ErrDecode = errors.New("canon: cannot decode image")
	// ErrDimensionMismatch is matched by every DimensionMismatchError.
	ErrDimensionMismatch = errors.New("canon: unexpected image dimensions")
)

// DecodeError reports bytes the codec could not parse.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode image: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// DimensionMismatchError reports a decoded geometry that differs from the
// configured expectation.
type DimensionMismatchError struct {
	Got  Expect
	Want Expect
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("image is %s, expected %s", e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }
