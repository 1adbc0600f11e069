// Package render produces the annotated HTML view of a document: the plain
// text interleaved with highlight markup, drag handles and the entity popup.
package render

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"qanun/api/internal/marker"
)

// Attributes and classes the offset resolver treats as overlays.
const (
	RootAttr     = "data-text-root"
	OverlayAttr  = "data-overlay"
	HandleClass  = "ner-handle"
	PopupClass   = "entity-popup"
	OverlayClass = "selection-overlay"
	MarkClass    = "entity-mark"
)

type Options struct {
	// ActiveID selects the span that shows drag handles and the popup.
	ActiveID string
	// Dir is the text direction, rtl when empty.
	Dir string
}

// Document renders text with spans highlighted. Nested spans become nested
// marks; spans that cross are split into fragments so the markup stays
// well formed.
func Document(text string, spans []marker.Span, opts Options) string {
	runes := []rune(text)
	dir := opts.Dir
	if dir == "" {
		dir = "rtl"
	}

	ordered := make([]marker.Span, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool { return outerFirst(ordered[i], ordered[j]) })

	cuts := map[int]bool{0: true, len(runes): true}
	for _, sp := range ordered {
		cuts[clamp(sp.Start, len(runes))] = true
		cuts[clamp(sp.End, len(runes))] = true
	}
	points := make([]int, 0, len(cuts))
	for p := range cuts {
		points = append(points, p)
	}
	sort.Ints(points)

	var b strings.Builder
	b.WriteString(`<div class="annotated-text" dir="`)
	b.WriteString(html.EscapeString(dir))
	b.WriteString(`" ` + RootAttr + `="true">`)

	var (
		open   []marker.Span
		active marker.Span
		found  bool
	)
	for i := 0; i+1 < len(points); i++ {
		p, q := points[i], points[i+1]
		want := covering(ordered, p, q)

		keep := 0
		for keep < len(open) && keep < len(want) && open[keep].ID == want[keep].ID {
			keep++
		}
		for j := len(open) - 1; j >= keep; j-- {
			if open[j].ID == opts.ActiveID && open[j].End == p {
				writeHandle(&b, open[j].ID, "end")
			}
			b.WriteString("</mark>")
		}
		open = open[:keep]
		for _, sp := range want[keep:] {
			writeMark(&b, sp, sp.Start < p)
			if sp.ID == opts.ActiveID && sp.Start == p {
				writeHandle(&b, sp.ID, "start")
				active, found = sp, true
			}
			open = append(open, sp)
		}
		writeText(&b, string(runes[p:q]))
	}
	for j := len(open) - 1; j >= 0; j-- {
		if open[j].ID == opts.ActiveID {
			writeHandle(&b, open[j].ID, "end")
		}
		b.WriteString("</mark>")
	}
	if found {
		writePopup(&b, active)
	}
	b.WriteString("</div>")
	return b.String()
}

// TypeCount is one legend row.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Legend counts spans per type, most frequent first.
func Legend(spans []marker.Span) []TypeCount {
	counts := map[string]int{}
	for _, sp := range spans {
		counts[sp.Type]++
	}
	out := make([]TypeCount, 0, len(counts))
	for typ, n := range counts {
		out = append(out, TypeCount{Type: typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func covering(ordered []marker.Span, p, q int) []marker.Span {
	var out []marker.Span
	for _, sp := range ordered {
		if sp.Start <= p && q <= sp.End {
			out = append(out, sp)
		}
	}
	return out
}

func outerFirst(a, b marker.Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End > b.End
	}
	return marker.CompareID(a.ID, b.ID) < 0
}

func writeMark(b *strings.Builder, sp marker.Span, continued bool) {
	b.WriteString(`<mark class="` + MarkClass + `" data-id="`)
	b.WriteString(html.EscapeString(sp.ID))
	b.WriteString(`" data-type="`)
	b.WriteString(html.EscapeString(sp.Type))
	b.WriteString(`" data-start="`)
	b.WriteString(strconv.Itoa(sp.Start))
	b.WriteString(`" data-end="`)
	b.WriteString(strconv.Itoa(sp.End))
	b.WriteByte('"')
	if sp.IsUser() {
		b.WriteString(` data-src="user"`)
	}
	if sp.Normalized != "" {
		b.WriteString(` title="`)
		b.WriteString(html.EscapeString(sp.Normalized))
		b.WriteByte('"')
	}
	if continued {
		b.WriteString(` data-continued="true"`)
	}
	b.WriteByte('>')
}

func writeHandle(b *strings.Builder, id, edge string) {
	b.WriteString(`<span class="` + HandleClass + `" ` + OverlayAttr + `="handle" data-edge="` + edge + `" data-id="`)
	b.WriteString(html.EscapeString(id))
	b.WriteString(`">`)
	if edge == "start" {
		b.WriteString("&#x25B6;")
	} else {
		b.WriteString("&#x25C0;")
	}
	b.WriteString("</span>")
}

func writePopup(b *strings.Builder, sp marker.Span) {
	b.WriteString(`<div class="` + PopupClass + `" ` + OverlayAttr + `="popup" data-id="`)
	b.WriteString(html.EscapeString(sp.ID))
	b.WriteString(`"><span class="entity-popup-type">`)
	b.WriteString(html.EscapeString(sp.Type))
	b.WriteString(`</span>`)
	if sp.Normalized != "" {
		b.WriteString(`<span class="entity-popup-norm">`)
		b.WriteString(html.EscapeString(sp.Normalized))
		b.WriteString(`</span>`)
	}
	b.WriteString(`</div>`)
}

// controlRefs rewrites characters that HTML parsing would otherwise fold
// (CR into LF) or drop (NUL). &#0; parses to U+FFFD, still one code point.
var controlRefs = strings.NewReplacer("\r", "&#13;", "\x00", "&#0;")

// writeText escapes a text run.
func writeText(b *strings.Builder, s string) {
	s = html.EscapeString(s)
	if strings.ContainsAny(s, "\r\x00") {
		s = controlRefs.Replace(s)
	}
	b.WriteString(s)
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
