package marker

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMarker reports an unterminated, illegally nested or
	// otherwise unparsable marker.
	ErrMalformedMarker = errors.New("malformed marker")
	// ErrUnbracketableOverlap reports two spans that cross without nesting
	// and therefore cannot be written as balanced markers.
	ErrUnbracketableOverlap = errors.New("unbracketable overlap")
	// ErrInvalidSpan reports a span that does not fit the text it is
	// encoded against.
	ErrInvalidSpan = errors.New("invalid span")
)

// SyntaxError locates a malformed marker. Pos is a code point index into
// the marker-embedded document.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at %d: %s", ErrMalformedMarker, e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return ErrMalformedMarker
}

// OverlapError names the two crossing spans.
type OverlapError struct {
	Outer Span
	Inner Span
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: %s [%d,%d) crosses %s [%d,%d)", ErrUnbracketableOverlap,
		e.Outer.ID, e.Outer.Start, e.Outer.End,
		e.Inner.ID, e.Inner.Start, e.Inner.End)
}

func (e *OverlapError) Unwrap() error {
	return ErrUnbracketableOverlap
}

func syntaxErr(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
