// Package marker converts between marker-embedded documents and
// (plain text, span list) pairs.
//
// A marker-embedded document interleaves the canonical plain text with
// inline entity markers:
//
//	[[ENT id=ENT_3 type=LAW norm="37.22" src=user]]القانون رقم 37.22[[/ENT]]
//
// Offsets are counted in Unicode code points of the plain text, never in
// bytes. Literal '[' and '\' characters of the plain text are written as
// `\[` and `\\`.
package marker

import (
	"sort"
	"strconv"
	"strings"
)

// Provenance records who produced a span.
type Provenance string

const (
	// ProvenanceModel marks spans produced by extraction. It is also the
	// meaning of the zero value.
	ProvenanceModel Provenance = "model"
	// ProvenanceUser marks spans created or edited by hand.
	ProvenanceUser Provenance = "user"
)

// Span is a typed half-open interval [Start, End) over canonical plain text.
type Span struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Normalized string     `json:"normalized,omitempty"`
	Provenance Provenance `json:"provenance,omitempty"`
}

// IsUser reports whether the span was created or edited by hand.
func (s Span) IsUser() bool {
	return s.Provenance == ProvenanceUser
}

// Len returns the span length in code points.
func (s Span) Len() int {
	return s.End - s.Start
}

// Less is the canonical total order over spans: ascending start, then
// ascending end (shorter first), then id.
func Less(a, b Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	return CompareID(a.ID, b.ID) < 0
}

// Sort orders spans canonically in place.
func Sort(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return Less(spans[i], spans[j])
	})
}

// CompareID orders ids naturally: ids sharing a prefix and ending in digits
// compare by their numeric suffix, so ENT_9 sorts before ENT_10.
func CompareID(a, b string) int {
	pa, na, oka := splitNumericSuffix(a)
	pb, nb, okb := splitNumericSuffix(b)
	if oka && okb && pa == pb && na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// NumericSuffix returns the trailing decimal number of an id, if any.
func NumericSuffix(id string) (int, bool) {
	_, n, ok := splitNumericSuffix(id)
	return n, ok
}

func splitNumericSuffix(id string) (string, int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return id, 0, false
	}
	digits := id[i:]
	// Cap the width so absurd suffixes cannot overflow.
	if len(digits) > 9 {
		return id, 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}
