package marker

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	openPrefix = "[[ENT"
	closeTag   = "[[/ENT]]"
	markerEnd  = "]]"
)

// TokenKind classifies a lexical unit of a marker-embedded document.
type TokenKind int

const (
	// TokenText is a run of literal characters.
	TokenText TokenKind = iota
	// TokenEscape is a backslash escape standing for one literal character.
	TokenEscape
	// TokenOpen is an opening [[ENT ...]] marker.
	TokenOpen
	// TokenClose is a closing [[/ENT]] marker.
	TokenClose
)

// Token is one lexical unit. Start and End are code point indexes into the
// marker-embedded document, half-open.
type Token struct {
	Kind  TokenKind
	Start int
	End   int
	// Text holds the literal characters contributed by a text or escape
	// token. It is empty for markers.
	Text  string
	Attrs map[string]string
}

// Literal returns the number of plain-text code points the token stands for.
func (t Token) Literal() int {
	return utf8.RuneCountInString(t.Text)
}

var knownAttrs = map[string]bool{
	"id":   true,
	"type": true,
	"norm": true,
	"src":  true,
}

// Scan splits a marker-embedded document into tokens. It validates marker
// syntax but not nesting; Decode does that.
func Scan(doc string) ([]Token, error) {
	runes := []rune(doc)
	var (
		tokens []Token
		lit    strings.Builder
		litAt  = -1
	)
	flush := func(end int) {
		if litAt < 0 {
			return
		}
		tokens = append(tokens, Token{Kind: TokenText, Start: litAt, End: end, Text: lit.String()})
		lit.Reset()
		litAt = -1
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes) && isEscapable(runes[i+1]):
			flush(i)
			tokens = append(tokens, Token{Kind: TokenEscape, Start: i, End: i + 2, Text: string(runes[i+1])})
			i += 2
		case r == '[' && i+1 < len(runes) && runes[i+1] == '[':
			flush(i)
			switch {
			case hasPrefixAt(runes, i, closeTag):
				n := utf8.RuneCountInString(closeTag)
				tokens = append(tokens, Token{Kind: TokenClose, Start: i, End: i + n})
				i += n
			case hasPrefixAt(runes, i, openPrefix) && i+5 < len(runes) && (runes[i+5] == ' ' || runes[i+5] == ']'):
				tok, err := scanOpen(runes, i)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, tok)
				i = tok.End
			default:
				return nil, syntaxErr(i, "unescaped %q does not start a marker", "[[")
			}
		default:
			if litAt < 0 {
				litAt = i
			}
			lit.WriteRune(r)
			i++
		}
	}
	flush(len(runes))
	return tokens, nil
}

func scanOpen(runes []rune, at int) (Token, error) {
	attrs := map[string]string{}
	j := at + utf8.RuneCountInString(openPrefix)
	for {
		for j < len(runes) && runes[j] == ' ' {
			j++
		}
		if j >= len(runes) {
			return Token{}, syntaxErr(at, "unterminated marker")
		}
		if hasPrefixAt(runes, j, markerEnd) {
			j += 2
			break
		}

		keyAt := j
		for j < len(runes) && runes[j] >= 'a' && runes[j] <= 'z' {
			j++
		}
		key := string(runes[keyAt:j])
		if key == "" || j >= len(runes) || runes[j] != '=' {
			return Token{}, syntaxErr(keyAt, "expected attribute")
		}
		if !knownAttrs[key] {
			return Token{}, syntaxErr(keyAt, "unknown attribute %q", key)
		}
		if _, dup := attrs[key]; dup {
			return Token{}, syntaxErr(keyAt, "repeated attribute %q", key)
		}
		j++

		value, next, err := scanValue(runes, j)
		if err != nil {
			return Token{}, err
		}
		j = next
		if j < len(runes) && runes[j] != ' ' && !hasPrefixAt(runes, j, markerEnd) {
			return Token{}, syntaxErr(j, "expected space or %q after attribute %q", markerEnd, key)
		}
		attrs[key] = value
	}
	return Token{Kind: TokenOpen, Start: at, End: j, Attrs: attrs}, nil
}

func scanValue(runes []rune, at int) (string, int, error) {
	if at >= len(runes) {
		return "", at, syntaxErr(at, "missing value")
	}
	if runes[at] == '"' {
		j := at + 1
		for j < len(runes) && runes[j] != '"' {
			if runes[j] == '\\' {
				j++
			}
			j++
		}
		if j >= len(runes) {
			return "", at, syntaxErr(at, "unterminated quoted value")
		}
		value, err := strconv.Unquote(string(runes[at : j+1]))
		if err != nil {
			return "", at, syntaxErr(at, "bad quoted value: %v", err)
		}
		return value, j + 1, nil
	}

	j := at
	for j < len(runes) && isBare(runes[j]) {
		j++
	}
	if j == at {
		return "", at, syntaxErr(at, "missing value")
	}
	return string(runes[at:j]), j, nil
}

func isEscapable(r rune) bool {
	return r == '[' || r == ']' || r == '\\'
}

func isBare(r rune) bool {
	switch r {
	case '"', '[', ']', '\\':
		return false
	}
	return !unicode.IsSpace(r) && !unicode.IsControl(r)
}

func hasPrefixAt(runes []rune, at int, prefix string) bool {
	for _, p := range prefix {
		if at >= len(runes) || runes[at] != p {
			return false
		}
		at++
	}
	return true
}
