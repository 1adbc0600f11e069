package annotate

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"qanun/api/internal/marker"
	"qanun/api/internal/span"
)

// realignWindow bounds how far an extracted entity may be re-anchored.
const realignWindow = 50

// Extraction is the JSON an extraction run produces for one document.
type Extraction struct {
	Metadata  Metadata   `json:"metadata"`
	Text      string     `json:"text,omitempty"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations,omitempty"`
}

type Metadata struct {
	DocumentNumber string `json:"document_number,omitempty"`
	ShortTitle     string `json:"short_title,omitempty"`
	OfficialTitle  string `json:"official_title,omitempty"`
	DocumentType   string `json:"document_type,omitempty"`
}

type Entity struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	Normalized string `json:"normalized,omitempty"`
}

type Relation struct {
	RelationID string `json:"relation_id"`
	Type       string `json:"type"`
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
}

// IngestReport lists what had to be adjusted while importing entities.
type IngestReport struct {
	Realigned  []string `json:"realigned,omitempty"`
	Dropped    []string `json:"dropped,omitempty"`
	Duplicates []string `json:"duplicates,omitempty"`
	Conflicts  []string `json:"conflicts,omitempty"`
}

// ReadExtraction decodes extraction JSON.
func ReadExtraction(r io.Reader) (Extraction, error) {
	var ext Extraction
	if err := json.NewDecoder(r).Decode(&ext); err != nil {
		return Extraction{}, fmt.Errorf("%w: extraction json: %v", ErrInvalidRequest, err)
	}
	return ext, nil
}

// Ingest builds a store from plain text plus extracted entities. Entities
// whose offsets drifted are realigned; those that cannot be found, lack a
// type, or duplicate an earlier entity are dropped and reported.
func Ingest(text string, entities []Entity) (*span.Store, IngestReport, error) {
	st, err := span.New(text, nil, 1)
	if err != nil {
		return nil, IngestReport{}, err
	}
	spans, report := Extracted(st, entities)
	merged, mreport, err := Merge(st, spans)
	if err != nil {
		return nil, IngestReport{}, err
	}
	report.Duplicates = append(report.Duplicates, mreport.Duplicates...)
	report.Conflicts = append(report.Conflicts, mreport.Conflicts...)
	return merged, report, nil
}

// Extracted converts entities into model spans anchored in st's text.
func Extracted(st *span.Store, entities []Entity) ([]span.Span, IngestReport) {
	var (
		report IngestReport
		out    []span.Span
		text   = []rune(st.Text())
		next   = st.NextID()
	)
	for _, ent := range entities {
		if n, ok := marker.NumericSuffix(ent.ID); ok && n >= next {
			next = n + 1
		}
	}
	for _, ent := range entities {
		id := ent.ID
		if id == "" {
			id = span.IDPrefix + strconv.Itoa(next)
			next++
		}
		if ent.Type == "" {
			report.Dropped = append(report.Dropped, id)
			continue
		}
		start, end, ok := Realign(text, ent)
		if !ok {
			report.Dropped = append(report.Dropped, id)
			continue
		}
		if start != ent.StartChar || end != ent.EndChar {
			report.Realigned = append(report.Realigned, id)
		}
		out = append(out, span.Span{
			ID:         id,
			Type:       ent.Type,
			Start:      start,
			End:        end,
			Normalized: ent.Normalized,
			Provenance: marker.ProvenanceModel,
		})
	}
	return out, report
}

// Realign anchors an extracted entity in text. Offsets that already name
// the entity's text are kept. Otherwise the occurrence of the text nearest
// the stated start, within realignWindow code points, wins. Entities
// without text are accepted when their offsets are in range.
func Realign(text []rune, ent Entity) (int, int, bool) {
	start, end := ent.StartChar, ent.EndChar
	inRange := 0 <= start && start < end && end <= len(text)
	want := []rune(ent.Text)
	if len(want) == 0 {
		return start, end, inRange
	}
	if inRange && string(text[start:end]) == ent.Text {
		return start, end, true
	}

	lo := max(0, start-realignWindow)
	hi := min(len(text), start+realignWindow+len(want))
	best, bestDist := -1, 0
	for i := lo; i+len(want) <= hi; i++ {
		if !hasRunes(text[i:], want) {
			continue
		}
		dist := i - start
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, best + len(want), true
}

func hasRunes(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}
