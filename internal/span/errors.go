package span

import "errors"

var (
	ErrUnknownID    = errors.New("unknown span id")
	ErrInvalidRange = errors.New("invalid span range")
	// ErrDuplicate is an ErrInvalidRange: another span already covers the
	// same range with the same type.
	ErrDuplicate error = &duplicateError{}
)

type duplicateError struct{}

func (*duplicateError) Error() string { return "duplicate span" }

func (*duplicateError) Unwrap() error { return ErrInvalidRange }
