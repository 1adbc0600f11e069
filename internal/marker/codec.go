package marker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decode parses a marker-embedded document into its plain text and spans.
// Spans are returned in canonical order.
func Decode(doc string) (string, []Span, error) {
	tokens, err := Scan(doc)
	if err != nil {
		return "", nil, err
	}

	type openSpan struct {
		span Span
		at   int
	}
	var (
		text  strings.Builder
		pos   int
		stack []openSpan
		spans []Span
		seen  = map[string]bool{}
	)
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenText, TokenEscape:
			text.WriteString(tok.Text)
			pos += tok.Literal()
		case TokenOpen:
			sp, err := spanFromAttrs(tok)
			if err != nil {
				return "", nil, err
			}
			if seen[sp.ID] {
				return "", nil, syntaxErr(tok.Start, "duplicate id %q", sp.ID)
			}
			seen[sp.ID] = true
			sp.Start = pos
			stack = append(stack, openSpan{span: sp, at: tok.Start})
		case TokenClose:
			if len(stack) == 0 {
				return "", nil, syntaxErr(tok.Start, "close marker without open marker")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if pos == top.span.Start {
				return "", nil, syntaxErr(top.at, "empty span %q", top.span.ID)
			}
			top.span.End = pos
			spans = append(spans, top.span)
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return "", nil, syntaxErr(top.at, "unterminated span %q", top.span.ID)
	}
	Sort(spans)
	return text.String(), spans, nil
}

func spanFromAttrs(tok Token) (Span, error) {
	sp := Span{
		ID:         tok.Attrs["id"],
		Type:       tok.Attrs["type"],
		Normalized: tok.Attrs["norm"],
	}
	if sp.ID == "" {
		return Span{}, syntaxErr(tok.Start, "marker without id")
	}
	if sp.Type == "" {
		return Span{}, syntaxErr(tok.Start, "marker %q without type", sp.ID)
	}
	switch src := Provenance(tok.Attrs["src"]); src {
	case "", ProvenanceModel, ProvenanceUser:
		sp.Provenance = src
	default:
		return Span{}, syntaxErr(tok.Start, "marker %q has unknown src %q", sp.ID, src)
	}
	return sp, nil
}

// Encode writes text with spans embedded as markers. Spans may nest and
// may share ranges; spans that cross without nesting cannot be bracketed
// and yield an *OverlapError.
func Encode(text string, spans []Span) (string, error) {
	n := utf8.RuneCountInString(text)
	ids := make(map[string]bool, len(spans))
	for _, sp := range spans {
		if err := validate(sp, n); err != nil {
			return "", err
		}
		if ids[sp.ID] {
			return "", fmt.Errorf("%w: duplicate id %q", ErrInvalidSpan, sp.ID)
		}
		ids[sp.ID] = true
	}

	order := make([]Span, len(spans))
	copy(order, spans)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return CompareID(a.ID, b.ID) < 0
	})

	var (
		b     strings.Builder
		stack []Span
		next  int
		pos   int
	)
	b.Grow(len(text) + len(spans)*32)
	emit := func() error {
		for len(stack) > 0 && stack[len(stack)-1].End == pos {
			b.WriteString(closeTag)
			stack = stack[:len(stack)-1]
		}
		for next < len(order) && order[next].Start == pos {
			sp := order[next]
			if len(stack) > 0 && sp.End > stack[len(stack)-1].End {
				return &OverlapError{Outer: stack[len(stack)-1], Inner: sp}
			}
			writeOpen(&b, sp)
			stack = append(stack, sp)
			next++
		}
		return nil
	}
	for _, r := range text {
		if err := emit(); err != nil {
			return "", err
		}
		writeEscaped(&b, r)
		pos++
	}
	if err := emit(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Escape returns text with every literal '[' and '\' escaped, so that it
// can be embedded in a marker document verbatim.
func Escape(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		writeEscaped(&b, r)
	}
	return b.String()
}

// Contains reports whether s carries any entity marker.
func Contains(s string) bool {
	return strings.Contains(s, openPrefix) || strings.Contains(s, closeTag)
}

func validate(sp Span, n int) error {
	switch {
	case sp.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidSpan)
	case sp.Type == "":
		return fmt.Errorf("%w: span %q has no type", ErrInvalidSpan, sp.ID)
	case sp.Start < 0 || sp.End > n || sp.Start >= sp.End:
		return fmt.Errorf("%w: span %q [%d,%d) outside text of length %d", ErrInvalidSpan, sp.ID, sp.Start, sp.End, n)
	}
	return nil
}

func writeEscaped(b *strings.Builder, r rune) {
	if r == '[' || r == '\\' {
		b.WriteByte('\\')
	}
	b.WriteRune(r)
}

func writeOpen(b *strings.Builder, sp Span) {
	b.WriteString(openPrefix)
	writeAttr(b, "id", sp.ID)
	writeAttr(b, "type", sp.Type)
	if sp.Normalized != "" {
		writeAttr(b, "norm", sp.Normalized)
	}
	if sp.Provenance != "" {
		writeAttr(b, "src", string(sp.Provenance))
	}
	b.WriteString(markerEnd)
}

func writeAttr(b *strings.Builder, key, value string) {
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	if bareValue(value) {
		b.WriteString(value)
		return
	}
	b.WriteString(strconv.Quote(value))
}

func bareValue(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if !isBare(r) {
			return false
		}
	}
	return true
}
