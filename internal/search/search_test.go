package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

func rawHit(t *testing.T, fields map[string]any) meili.Hit {
	t.Helper()
	hit := meili.Hit{}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", k, err)
		}
		hit[k] = raw
	}
	return hit
}

func TestHitToResultEntity(t *testing.T) {
	hit := rawHit(t, map[string]any{
		"id":         EntityKey("doc-1", "ENT_4"),
		"entId":      "ENT_4",
		"documentId": "doc-1",
		"type":       "LAW",
		"text":       "القانون رقم 37.22",
		"normalized": "37.22",
		"start":      12,
		"end":        29,
		"_formatted": map[string]string{"text": "<mark>القانون</mark> رقم 37.22"},
	})

	got := hitToResult(hit, ResultEntity)
	if got.ID != "ENT_4" || got.DocumentID != "doc-1" || got.EntityType != "LAW" {
		t.Fatalf("unexpected identity fields: %+v", got)
	}
	if got.Title != "<mark>القانون</mark> رقم 37.22" {
		t.Fatalf("expected highlighted title, got %q", got.Title)
	}
	if got.Snippet != "37.22" || got.Start != 12 || got.End != 29 {
		t.Fatalf("unexpected snippet/offsets: %+v", got)
	}
}

func TestHitToResultDocument(t *testing.T) {
	hit := rawHit(t, map[string]any{
		"id":        "doc-1",
		"title":     "قانون المسطرة الجنائية",
		"docNumber": "22.01",
	})
	got := hitToResult(hit, ResultDocument)
	if got.ID != "doc-1" || got.DocumentID != "doc-1" || got.Snippet != "22.01" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestEntityFilters(t *testing.T) {
	got := entityFilters(Query{EntityType: "LAW", DocumentID: "doc-1"})
	if len(got) != 2 || got[0] != `type = "LAW"` || got[1] != `documentId = "doc-1"` {
		t.Fatalf("unexpected filters: %v", got)
	}
	if len(entityFilters(Query{})) != 0 {
		t.Fatal("expected no filters")
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "قانون"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "قانون" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// Must not panic without Meilisearch.
	svc.IndexDocument(DocumentRecord{ID: "doc-1"}, nil)
	svc.ReindexAllFromPG(context.Background())
}

func TestPgFTSEmptyQuery(t *testing.T) {
	results, total, err := NewPgFTS(nil).Search(Query{Text: "   "})
	if err != nil || total != 0 || results != nil {
		t.Fatalf("expected empty result, got %v %d %v", results, total, err)
	}
}

type fakeBackend struct {
	mu       sync.Mutex
	healthy  bool
	searched int
	indexed  []string
	entities map[string]int
	entered  chan string
	gate     chan struct{}
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(q Query) ([]Result, int, error) {
	f.mu.Lock()
	f.searched++
	f.mu.Unlock()
	return nil, 0, errors.New("index offline")
}

func (f *fakeBackend) IndexDocument(doc DocumentRecord) error {
	if f.entered != nil {
		f.entered <- doc.Title
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc.Title)
	return nil
}

func (f *fakeBackend) ReplaceEntities(documentID string, entities []EntityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entities == nil {
		f.entities = map[string]int{}
	}
	f.entities[documentID] = len(entities)
	return nil
}

func (f *fakeBackend) IndexDocuments([]DocumentRecord) error { return nil }
func (f *fakeBackend) IndexEntities([]EntityRecord) error    { return nil }

func (f *fakeBackend) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...)
}

func TestServiceCoalescesQueuedUpdates(t *testing.T) {
	backend := &fakeBackend{healthy: true, entered: make(chan string, 4), gate: make(chan struct{})}
	svc := newService(backend, nil)
	defer svc.Close()

	svc.IndexDocument(DocumentRecord{ID: "doc-1", Title: "v1"}, nil)
	if got := <-backend.entered; got != "v1" {
		t.Fatalf("first update = %s", got)
	}
	// v1 is in flight; v2 is superseded by v3 before the worker gets to it.
	svc.IndexDocument(DocumentRecord{ID: "doc-1", Title: "v2"}, []EntityRecord{{ID: "a"}})
	svc.IndexDocument(DocumentRecord{ID: "doc-1", Title: "v3"}, []EntityRecord{{ID: "a"}, {ID: "b"}})
	close(backend.gate)

	deadline := time.After(2 * time.Second)
	for {
		got := backend.snapshot()
		if len(got) == 2 {
			if got[0] != "v1" || got[1] != "v3" {
				t.Fatalf("indexed %v, want [v1 v3]", got)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, indexed %v", got)
		case <-time.After(10 * time.Millisecond):
		}
	}
	for {
		backend.mu.Lock()
		n := backend.entities["doc-1"]
		backend.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("entities of v3 never indexed, have %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestServiceSkipsUnhealthyBackend(t *testing.T) {
	backend := &fakeBackend{healthy: false}
	svc := newService(backend, nil)
	defer svc.Close()

	svc.IndexDocument(DocumentRecord{ID: "doc-1", Title: "v1"}, nil)
	resp := svc.Search(Query{Text: "22.01"})
	if backend.searched != 0 || len(resp.Results) != 0 {
		t.Fatalf("unhealthy backend was used: searched=%d", backend.searched)
	}
	if len(svc.order) != 0 {
		t.Fatal("unhealthy backend should not queue updates")
	}
}

func TestServiceFallsBackOnSearchError(t *testing.T) {
	backend := &fakeBackend{healthy: true}
	svc := newService(backend, nil)
	defer svc.Close()

	resp := svc.Search(Query{Text: "22.01"})
	if backend.searched != 1 || resp.Results == nil || resp.Query != "22.01" {
		t.Fatalf("unexpected fallback response %+v (searched=%d)", resp, backend.searched)
	}
}
