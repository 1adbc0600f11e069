package span

import (
	"fmt"
	"unicode/utf8"

	"qanun/api/internal/marker"
)

// RebaseReport describes what a text replacement did to the spans.
type RebaseReport struct {
	// Removed lists, in canonical order, the spans that no longer denote
	// any surviving text.
	Removed []Span
	// Changed lists the ids whose offsets moved or shrank.
	Changed []string
	Delta   int
}

// Conflict reports whether the edit dropped spans.
func (r RebaseReport) Conflict() bool { return len(r.Removed) > 0 }

// RemovedIDs returns the ids of the removed spans.
func (r RebaseReport) RemovedIDs() []string {
	ids := make([]string, len(r.Removed))
	for i, sp := range r.Removed {
		ids[i] = sp.ID
	}
	return ids
}

// Message is the notice shown to the editor after a lossy edit.
func (r RebaseReport) Message() string {
	switch n := len(r.Removed); n {
	case 0:
		return ""
	case 1:
		return "1 annotation was removed by this edit"
	default:
		return fmt.Sprintf("%d annotations were removed by this edit", n)
	}
}

// ReplaceText replaces the plain text [a, b) with repl and rebases every
// span. It is the only operation that changes the text.
func (s *Store) ReplaceText(a, b int, repl string) (RebaseReport, error) {
	if a < 0 || b > len(s.text) || a > b {
		return RebaseReport{}, fmt.Errorf("%w: edit [%d,%d) for text of length %d", ErrInvalidRange, a, b, len(s.text))
	}
	newLen := utf8.RuneCountInString(repl)
	delta := newLen - (b - a)
	report := RebaseReport{Delta: delta}

	text := make([]rune, 0, len(s.text)+delta)
	text = append(text, s.text[:a]...)
	text = append(text, []rune(repl)...)
	text = append(text, s.text[b:]...)

	kept := make([]Span, 0, len(s.spans))
	for _, sp := range s.spans {
		next, ok := rebase(sp, a, b, newLen, delta)
		if !ok {
			report.Removed = append(report.Removed, sp)
			continue
		}
		if next.Start != sp.Start || next.End != sp.End {
			report.Changed = append(report.Changed, sp.ID)
		}
		kept = append(kept, next)
	}
	kept = sorted(kept)

	// Truncation can make two spans of one type coincide; the lower id wins.
	survivors := make([]Span, 0, len(kept))
	for _, sp := range kept {
		if j := findDuplicate(survivors, sp); j >= 0 {
			if marker.CompareID(sp.ID, survivors[j].ID) < 0 {
				report.Removed = append(report.Removed, survivors[j])
				survivors[j] = sp
			} else {
				report.Removed = append(report.Removed, sp)
			}
			continue
		}
		survivors = append(survivors, sp)
	}
	sorted(report.Removed)
	report.Changed = removeIDs(report.Changed, report.Removed)

	s.text = text
	s.spans = sorted(survivors)
	return report, nil
}

// rebase maps one span through the replacement of [a, b) by newLen code
// points. It reports false when the span is gone.
func rebase(sp Span, a, b, newLen, delta int) (Span, bool) {
	s, e := sp.Start, sp.End
	switch {
	case e <= a:
	case s >= b:
		s, e = s+delta, e+delta
	case a <= s && e <= b:
		return sp, false
	case s < a && e > b:
		e += delta
	case s < a:
		e = a
	default:
		s, e = a+newLen, e+delta
	}
	if s >= e {
		return sp, false
	}
	sp.Start, sp.End = s, e
	return sp, true
}

func findDuplicate(spans []Span, sp Span) int {
	for i, o := range spans {
		if o.Start == sp.Start && o.End == sp.End && o.Type == sp.Type {
			return i
		}
	}
	return -1
}

func removeIDs(ids []string, removed []Span) []string {
	if len(removed) == 0 {
		return ids
	}
	gone := make(map[string]bool, len(removed))
	for _, sp := range removed {
		gone[sp.ID] = true
	}
	out := ids[:0]
	for _, id := range ids {
		if !gone[id] {
			out = append(out, id)
		}
	}
	return out
}
