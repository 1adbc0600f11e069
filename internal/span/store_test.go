package span

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"qanun/api/internal/marker"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func mustNew(t *testing.T, text string, spans ...Span) *Store {
	t.Helper()
	s, err := New(text, spans, 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestAddAssignsMonotonicIDs(t *testing.T) {
	s := mustNew(t, "ABCDEFGHIJ", Span{ID: "ENT_4", Type: "LAW", Start: 0, End: 2})
	id, err := s.Add(3, 5, "DATE", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id != "ENT_5" {
		t.Fatalf("expected ENT_5, got %s", id)
	}
	if err := s.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	again, err := s.Add(3, 5, "DATE", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if again != "ENT_6" {
		t.Fatalf("deleted id reused: %s", again)
	}
	sp, _ := s.Get(again)
	if !sp.IsUser() {
		t.Fatalf("added span should be a user span: %+v", sp)
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := mustNew(t, "ABCDEFGHIJ", Span{ID: "ENT_1", Type: "LAW", Start: 2, End: 5})
	before := s.All()
	_, err := s.Add(2, 5, "LAW", "")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("duplicate should also be an invalid range: %v", err)
	}
	if diff := cmp.Diff(before, s.All()); diff != "" {
		t.Fatalf("store changed (-before +after):\n%s", diff)
	}
	if _, err := s.Add(2, 5, "PERSON", ""); err != nil {
		t.Fatalf("same range with another type should be allowed: %v", err)
	}
}

func TestAddRejectsInvalidRanges(t *testing.T) {
	s := mustNew(t, "abc")
	for _, r := range [][2]int{{-1, 1}, {1, 1}, {2, 1}, {0, 4}} {
		if _, err := s.Add(r[0], r[1], "T", ""); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("range %v: expected ErrInvalidRange, got %v", r, err)
		}
	}
	if _, err := s.Add(0, 1, "", ""); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("missing type: expected ErrInvalidRange, got %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatalf("store should be empty: %v", s.All())
	}
}

func TestUpdate(t *testing.T) {
	s := mustNew(t, "ABCDEFGHIJ",
		Span{ID: "ENT_1", Type: "LAW", Start: 0, End: 3, Provenance: marker.ProvenanceModel},
		Span{ID: "ENT_2", Type: "LAW", Start: 5, End: 8},
	)

	if err := s.Update("ENT_1", Patch{Start: intPtr(6), End: intPtr(2)}); err != nil {
		t.Fatalf("swap update: %v", err)
	}
	sp, _ := s.Get("ENT_1")
	if sp.Start != 2 || sp.End != 6 || !sp.IsUser() {
		t.Fatalf("unexpected span after swap: %+v", sp)
	}

	if err := s.Update("ENT_1", Patch{Start: intPtr(7)}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("single-sided reversal: expected ErrInvalidRange, got %v", err)
	}
	if err := s.Update("ENT_1", Patch{Start: intPtr(5), End: intPtr(8)}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.Update("ENT_9", Patch{Type: strPtr("X")}); !errors.Is(err, ErrUnknownID) {
		t.Fatalf("expected ErrUnknownID, got %v", err)
	}
	if err := s.Update("ENT_2", Patch{Type: strPtr("ARTICLE"), Normalized: strPtr("art. 3")}); err != nil {
		t.Fatalf("type update: %v", err)
	}
	sp, _ = s.Get("ENT_2")
	if sp.Type != "ARTICLE" || sp.Normalized != "art. 3" {
		t.Fatalf("unexpected span after type update: %+v", sp)
	}
}

func TestDeleteUnknown(t *testing.T) {
	s := mustNew(t, "abc")
	if err := s.Delete("ENT_1"); !errors.Is(err, ErrUnknownID) {
		t.Fatalf("expected ErrUnknownID, got %v", err)
	}
}

func TestAllIsCanonical(t *testing.T) {
	s := mustNew(t, "ABCDEFGHIJ")
	for _, r := range [][2]int{{5, 9}, {0, 4}, {0, 2}, {5, 6}} {
		if _, err := s.Add(r[0], r[1], "T", ""); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	var got [][2]int
	for _, sp := range s.All() {
		got = append(got, [2]int{sp.Start, sp.End})
	}
	want := [][2]int{{0, 2}, {0, 4}, {5, 6}, {5, 9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRandomEditsPreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := mustNew(t, "في إطار تطبيق أحكام القانون رقم 37.22 المتعلق بالمسطرة الجنائية")
	n := s.Len()
	types := []string{"LAW", "ARTICLE", "DATE"}

	for step := 0; step < 500; step++ {
		ids := s.All()
		switch op := rng.Intn(3); {
		case op == 0 || len(ids) == 0:
			_, _ = s.Add(rng.Intn(n+2)-1, rng.Intn(n+2)-1, types[rng.Intn(len(types))], "")
		case op == 1:
			id := ids[rng.Intn(len(ids))].ID
			_ = s.Update(id, Patch{Start: intPtr(rng.Intn(n + 1)), End: intPtr(rng.Intn(n + 1))})
		default:
			_ = s.Delete(ids[rng.Intn(len(ids))].ID)
		}

		seen := map[string]bool{}
		for _, sp := range s.All() {
			if sp.Start < 0 || sp.Start >= sp.End || sp.End > n {
				t.Fatalf("step %d: invalid span %+v", step, sp)
			}
			if seen[sp.ID] {
				t.Fatalf("step %d: duplicate id %s", step, sp.ID)
			}
			seen[sp.ID] = true
		}
	}
}

func TestLoadEncode(t *testing.T) {
	doc := `[[ENT id=ENT_2 type=LAW]]القانون 37.22[[/ENT]] \[ملحق]`
	s, err := Load(doc, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.NextID() != 3 {
		t.Fatalf("next id = %d, want 3", s.NextID())
	}
	if s.Text() != "القانون 37.22 [ملحق]" {
		t.Fatalf("text = %q", s.Text())
	}
	out, err := s.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out != doc {
		t.Fatalf("encode:\n got %s\nwant %s", out, doc)
	}
}

func TestLoadKeepsPersistedHighWaterMark(t *testing.T) {
	s, err := Load(`[[ENT id=ENT_2 type=LAW]]x[[/ENT]]`, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	id, err := s.Add(0, 1, "DATE", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id != "ENT_10" {
		t.Fatalf("expected ENT_10, got %s", id)
	}
}

func TestFingerprintTracksText(t *testing.T) {
	s := mustNew(t, "abcdef")
	before := s.Fingerprint()
	if _, err := s.Add(0, 2, "T", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if s.Fingerprint() != before {
		t.Fatal("span edits must not change the fingerprint")
	}
	if _, err := s.ReplaceText(0, 1, "z"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if s.Fingerprint() == before {
		t.Fatal("text edits must change the fingerprint")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := mustNew(t, "abcdef")
	c := s.Clone()
	if _, err := c.Add(0, 2, "T", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatal("clone shares spans with the original")
	}
}
