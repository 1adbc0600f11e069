// Package span holds the ordered span collection of one document and
// enforces its invariants. Every mutating method is all-or-nothing: it
// validates against a candidate copy and only then swaps the result in.
package span

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"

	"qanun/api/internal/marker"
)

type Span = marker.Span

// IDPrefix prefixes generated span ids.
const IDPrefix = "ENT_"

// Store is the span collection of a single document. It is not safe for
// concurrent use; callers serialize access per document.
type Store struct {
	text   []rune
	spans  []Span
	nextID int
}

// Patch carries the fields of an update. Nil fields are left unchanged.
type Patch struct {
	Start      *int
	End        *int
	Type       *string
	Normalized *string
}

// New builds a store over text. nextID is the persisted id high-water mark;
// it is raised when spans carry larger numeric suffixes.
func New(text string, spans []Span, nextID int) (*Store, error) {
	s := &Store{text: []rune(text), nextID: nextID}
	for _, sp := range spans {
		if err := s.insert(sp); err != nil {
			return nil, err
		}
	}
	if s.nextID < 1 {
		s.nextID = 1
	}
	return s, nil
}

// Load decodes a marker-embedded document into a store.
func Load(doc string, nextID int) (*Store, error) {
	text, spans, err := marker.Decode(doc)
	if err != nil {
		return nil, err
	}
	return New(text, spans, nextID)
}

// Encode serializes the store back to a marker-embedded document.
func (s *Store) Encode() (string, error) {
	return marker.Encode(string(s.text), s.spans)
}

func (s *Store) Text() string { return string(s.text) }

// Len returns the plain text length in code points.
func (s *Store) Len() int { return len(s.text) }

// NextID returns the numeric suffix the next generated id will use.
func (s *Store) NextID() int { return s.nextID }

// Slice returns the plain text of [start, end), clamped to the text.
func (s *Store) Slice(start, end int) string {
	start = clamp(start, 0, len(s.text))
	end = clamp(end, start, len(s.text))
	return string(s.text[start:end])
}

// All returns a copy of the spans ordered by (start, end, id).
func (s *Store) All() []Span {
	out := make([]Span, len(s.spans))
	copy(out, s.spans)
	return out
}

// Get returns the span with the given id.
func (s *Store) Get(id string) (Span, error) {
	i := s.index(id)
	if i < 0 {
		return Span{}, fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	return s.spans[i], nil
}

// Add validates and inserts a user span and returns its generated id.
func (s *Store) Add(start, end int, typ, normalized string) (string, error) {
	id := IDPrefix + strconv.Itoa(s.nextID)
	for s.index(id) >= 0 {
		s.nextID++
		id = IDPrefix + strconv.Itoa(s.nextID)
	}
	sp := Span{
		ID:         id,
		Type:       typ,
		Start:      start,
		End:        end,
		Normalized: normalized,
		Provenance: marker.ProvenanceUser,
	}
	if err := s.insert(sp); err != nil {
		return "", err
	}
	return id, nil
}

// Insert adds a span that already carries an id, such as one produced by
// extraction.
func (s *Store) Insert(sp Span) error {
	return s.insert(sp)
}

// Update applies p to the span with the given id. When both Start and End
// are set and reversed they are swapped. An updated span becomes a user span.
func (s *Store) Update(id string, p Patch) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	sp := s.spans[i]
	if p.Start != nil && p.End != nil && *p.Start > *p.End {
		sp.Start, sp.End = *p.End, *p.Start
	} else {
		if p.Start != nil {
			sp.Start = *p.Start
		}
		if p.End != nil {
			sp.End = *p.End
		}
	}
	if p.Type != nil {
		sp.Type = *p.Type
	}
	if p.Normalized != nil {
		sp.Normalized = *p.Normalized
	}
	sp.Provenance = marker.ProvenanceUser

	rest := s.without(i)
	if err := check(sp, len(s.text), rest); err != nil {
		return err
	}
	s.spans = sorted(append(rest, sp))
	return nil
}

// Delete removes the span. Its id is never handed out again.
func (s *Store) Delete(id string) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	s.spans = s.without(i)
	return nil
}

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	c := &Store{
		text:   make([]rune, len(s.text)),
		spans:  s.All(),
		nextID: s.nextID,
	}
	copy(c.text, s.text)
	return c
}

// Fingerprint is a hex digest of the plain text. It changes only when the
// text does, so span-only edits keep it stable.
func (s *Store) Fingerprint() string {
	sum := blake3.Sum256([]byte(string(s.text)))
	return hex.EncodeToString(sum[:])
}

func (s *Store) insert(sp Span) error {
	if s.index(sp.ID) >= 0 {
		return fmt.Errorf("%w: id %q already in use", ErrInvalidRange, sp.ID)
	}
	if err := check(sp, len(s.text), s.spans); err != nil {
		return err
	}
	s.spans = sorted(append(s.All(), sp))
	if n, ok := marker.NumericSuffix(sp.ID); ok && n >= s.nextID {
		s.nextID = n + 1
	}
	return nil
}

func (s *Store) index(id string) int {
	for i := range s.spans {
		if s.spans[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) without(i int) []Span {
	out := make([]Span, 0, len(s.spans)-1)
	out = append(out, s.spans[:i]...)
	return append(out, s.spans[i+1:]...)
}

func check(sp Span, n int, others []Span) error {
	if sp.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRange)
	}
	if sp.Type == "" {
		return fmt.Errorf("%w: span %q has no type", ErrInvalidRange, sp.ID)
	}
	if sp.Start < 0 || sp.End > n || sp.Start >= sp.End {
		return fmt.Errorf("%w: [%d,%d) for text of length %d", ErrInvalidRange, sp.Start, sp.End, n)
	}
	for _, o := range others {
		if o.Start == sp.Start && o.End == sp.End && o.Type == sp.Type {
			return fmt.Errorf("%w: %s [%d,%d) already annotated as %q", ErrDuplicate, o.ID, o.Start, o.End, o.Type)
		}
	}
	return nil
}

func sorted(spans []Span) []Span {
	marker.Sort(spans)
	return spans
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
