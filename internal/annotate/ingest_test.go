package annotate

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"qanun/api/internal/marker"
	"qanun/api/internal/span"
)

const plain = "نص القانون رقم 37.22 المتعلق بالمسطرة الجنائية"

func TestRealign(t *testing.T) {
	text := []rune(plain)
	cases := []struct {
		name       string
		ent        Entity
		start, end int
		ok         bool
	}{
		{name: "exact", ent: Entity{Text: "37.22", StartChar: 15, EndChar: 20}, start: 15, end: 20, ok: true},
		{name: "drifted", ent: Entity{Text: "37.22", StartChar: 10, EndChar: 15}, start: 15, end: 20, ok: true},
		{name: "missing", ent: Entity{Text: "مدونة", StartChar: 3, EndChar: 8}, ok: false},
		{name: "no text in range", ent: Entity{StartChar: 3, EndChar: 10}, start: 3, end: 10, ok: true},
		{name: "no text out of range", ent: Entity{StartChar: 3, EndChar: 900}, start: 3, end: 900, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, ok := Realign(text, tc.ent)
			if ok != tc.ok || (ok && (start != tc.start || end != tc.end)) {
				t.Fatalf("got (%d,%d,%v) want (%d,%d,%v)", start, end, ok, tc.start, tc.end, tc.ok)
			}
		})
	}
}

func TestIngest(t *testing.T) {
	ext, err := ReadExtraction(strings.NewReader(`{
		"metadata": {"document_number": "37.22"},
		"entities": [
			{"id": "ENT_1", "type": "LAW", "text": "القانون رقم 37.22", "start_char": 3, "end_char": 20, "normalized": "37.22"},
			{"id": "ENT_2", "type": "NUM", "text": "37.22", "start_char": 12, "end_char": 17},
			{"id": "ENT_3", "type": "LAW", "text": "القانون رقم 37.22", "start_char": 3, "end_char": 20},
			{"id": "ENT_4", "type": "", "text": "نص", "start_char": 0, "end_char": 2},
			{"id": "ENT_5", "type": "X", "text": "غائب", "start_char": 0, "end_char": 4}
		],
		"relations": [{"relation_id": "REL_1", "type": "refers_to", "source_id": "ENT_1", "target_id": "ENT_2"}]
	}`))
	if err != nil {
		t.Fatalf("read extraction: %v", err)
	}
	st, report, err := Ingest(plain, ext.Entities)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	want := IngestReport{
		Realigned:  []string{"ENT_2"},
		Dropped:    []string{"ENT_4", "ENT_5"},
		Duplicates: []string{"ENT_3"},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	all := st.All()
	if len(all) != 2 || all[0].ID != "ENT_1" || all[1].Start != 15 {
		t.Fatalf("unexpected spans %v", all)
	}
	if st.NextID() != 3 {
		t.Fatalf("next id = %d, want 3", st.NextID())
	}
	if len(ext.Relations) != 1 || ext.Relations[0].TargetID != "ENT_2" {
		t.Fatalf("relations not decoded: %+v", ext.Relations)
	}
}

func TestMergeKeepsUserSpans(t *testing.T) {
	st, err := span.New(plain, []span.Span{
		{ID: "ENT_1", Type: "LAW", Start: 3, End: 20, Provenance: marker.ProvenanceUser},
		{ID: "ENT_2", Type: "NUM", Start: 15, End: 20, Provenance: marker.ProvenanceModel},
	}, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	extracted := []span.Span{
		{ID: "ENT_1", Type: "LAW", Start: 3, End: 20},
		{ID: "ENT_1", Type: "DOC", Start: 3, End: 20},
		{ID: "ENT_7", Type: "TOPIC", Start: 10, End: 25},
		{ID: "ENT_8", Type: "TOPIC", Start: 21, End: 28},
	}
	merged, report, err := Merge(st, extracted)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if report.Replaced != 1 || report.Added != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if diff := cmp.Diff([]string{"ENT_1"}, report.Duplicates); diff != "" {
		t.Fatalf("duplicates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ENT_7"}, report.Conflicts); diff != "" {
		t.Fatalf("conflicts mismatch (-want +got):\n%s", diff)
	}
	user, err := merged.Get("ENT_1")
	if err != nil || !user.IsUser() || user.Type != "LAW" {
		t.Fatalf("user span clobbered: %+v %v", user, err)
	}
	if _, err := merged.Get("ENT_2"); err == nil {
		t.Fatal("stale model span survived the merge")
	}
	if _, err := merged.Encode(); err != nil {
		t.Fatalf("merged store must encode: %v", err)
	}
}

func TestCanonicalNum(t *testing.T) {
	cases := []struct{ in, want string }{
		{"القانون رقم 37.22", "37.22"},
		{"الظهير الشريف رقم ١.٢٢.٣٨", "1.22.38"},
		{"المرسوم 2.19/ 1086", "2.19/1086"},
		{"رقم ۱۲", "12"},
	}
	for _, tc := range cases {
		got, ok := CanonicalNum(tc.in)
		if !ok || got != tc.want {
			t.Fatalf("CanonicalNum(%q) = %q, %v; want %q", tc.in, got, ok, tc.want)
		}
	}
	if _, ok := CanonicalNum("بدون رقم"); ok {
		t.Fatal("expected no number")
	}
}
