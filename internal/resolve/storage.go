package resolve

import (
	"fmt"
	"unicode/utf8"

	"qanun/api/internal/marker"
)

// StorageResolver resolves caret positions in marker-embedded text. The
// position's Offset is a code point index into the marker text.
type StorageResolver struct {
	// offsets[i] is the canonical offset of the caret before marker rune i.
	offsets []int
	// literals[k] is the marker index where literal character k starts.
	literals []int
}

func NewStorage(doc string) (*StorageResolver, error) {
	tokens, err := marker.Scan(doc)
	if err != nil {
		return nil, err
	}
	n := utf8.RuneCountInString(doc)
	r := &StorageResolver{offsets: make([]int, 0, n+1)}
	total := 0
	for _, tok := range tokens {
		switch tok.Kind {
		case marker.TokenText:
			for i := tok.Start; i < tok.End; i++ {
				r.literals = append(r.literals, i)
				r.offsets = append(r.offsets, total)
				total++
			}
		case marker.TokenEscape:
			r.literals = append(r.literals, tok.Start)
			r.offsets = append(r.offsets, total, total)
			total++
		default:
			for i := tok.Start; i < tok.End; i++ {
				r.offsets = append(r.offsets, total)
			}
		}
	}
	r.offsets = append(r.offsets, total)
	return r, nil
}

func (r *StorageResolver) Offset(pos Position) (int, error) {
	if pos.Node != 0 || pos.Offset < 0 || pos.Offset >= len(r.offsets) {
		return 0, fmt.Errorf("%w: %d:%d in marker text of length %d", ErrPositionOutOfRange, pos.Node, pos.Offset, len(r.offsets)-1)
	}
	return r.offsets[pos.Offset], nil
}

func (r *StorageResolver) Len() int { return len(r.literals) }

// Index is the inverse mapping: the marker text index where the literal
// character at canonical offset off starts. Len() maps to the end of the
// marker text.
func (r *StorageResolver) Index(off int) (int, error) {
	switch {
	case off < 0 || off > len(r.literals):
		return 0, fmt.Errorf("%w: offset %d of %d", ErrPositionOutOfRange, off, len(r.literals))
	case off == len(r.literals):
		return len(r.offsets) - 1, nil
	}
	return r.literals[off], nil
}
