package annotate

import (
	"errors"
	"strconv"

	"qanun/api/internal/span"
)

// MergeReport lists extracted spans Merge did not take.
type MergeReport struct {
	Replaced   int      `json:"replaced"`
	Added      int      `json:"added"`
	Duplicates []string `json:"duplicates,omitempty"`
	// Conflicts are spans that would cross a kept span and could not be
	// written as markers.
	Conflicts []string `json:"conflicts,omitempty"`
}

// Merge folds a fresh extraction into st. Model spans are replaced
// wholesale; user spans are never touched. An extracted span that repeats
// a kept span, or crosses one, is skipped. Extracted ids that collide with
// a kept span are renumbered.
func Merge(st *span.Store, extracted []span.Span) (*span.Store, MergeReport, error) {
	var (
		report MergeReport
		kept   []span.Span
	)
	for _, sp := range st.All() {
		if sp.IsUser() {
			kept = append(kept, sp)
			continue
		}
		report.Replaced++
	}
	next, err := span.New(st.Text(), kept, st.NextID())
	if err != nil {
		return nil, MergeReport{}, err
	}

	for _, sp := range extracted {
		orig := sp.ID
		if crossesAny(sp, next.All()) {
			report.Conflicts = append(report.Conflicts, orig)
			continue
		}
		if _, err := next.Get(sp.ID); err == nil {
			sp.ID = span.IDPrefix + strconv.Itoa(next.NextID())
		}
		if err := next.Insert(sp); err != nil {
			if !errors.Is(err, span.ErrDuplicate) {
				return nil, MergeReport{}, err
			}
			report.Duplicates = append(report.Duplicates, orig)
			continue
		}
		report.Added++
	}
	return next, report, nil
}

// crosses reports whether a and b overlap without one containing the other.
func crosses(a, b span.Span) bool {
	return (a.Start < b.Start && b.Start < a.End && a.End < b.End) ||
		(b.Start < a.Start && a.Start < b.End && b.End < a.End)
}

func crossesAny(sp span.Span, spans []span.Span) bool {
	for _, o := range spans {
		if crosses(sp, o) {
			return true
		}
	}
	return false
}
