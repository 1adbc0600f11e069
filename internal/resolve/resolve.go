// Package resolve maps structural positions in a stored or rendered
// document to canonical plain-text offsets. Both implementations honor the
// same contract: only literal text counts, markup and overlays count zero,
// and a position that falls inside markup resolves to the offset of the
// next literal character.
package resolve

import "errors"

var ErrPositionOutOfRange = errors.New("position out of range")

// Position addresses a caret location. Node is the ordinal of a text node
// in document order (always 0 for flat marker text); Offset counts code
// points within it.
type Position struct {
	Node   int `json:"node"`
	Offset int `json:"offset"`
}

// Resolver maps positions to canonical offsets.
type Resolver interface {
	Offset(pos Position) (int, error)
	// Len is the canonical plain text length.
	Len() int
}
