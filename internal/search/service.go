package search

import (
	"context"
	"log"
	"sync"
)

// backend is a primary search engine that can also be fed.
type backend interface {
	Searcher
	Indexer
}

type indexJob struct {
	doc      DocumentRecord
	entities []EntityRecord
}

// Service tries Meilisearch first and falls back to Postgres FTS.
//
// Index updates run on one background worker in arrival order. Updates for
// a document still waiting in the queue are replaced by newer ones, so a
// slow index never ends up holding an older version of a document.
type Service struct {
	primary backend
	pgfts   *PgFTS

	mu      sync.Mutex
	pending map[string]indexJob
	order   []string
	wake    chan struct{}
	done    chan struct{}
	start   sync.Once
	stop    sync.Once
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured; pgfts may be nil when running without a database.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	var primary backend
	if meili != nil {
		primary = meili
	}
	return newService(primary, pgfts)
}

func newService(primary backend, pgfts *PgFTS) *Service {
	return &Service{
		primary: primary,
		pgfts:   pgfts,
		pending: map[string]indexJob{},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument queues a document and its spans for indexing.
func (s *Service) IndexDocument(doc DocumentRecord, entities []EntityRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.mu.Lock()
	if _, queued := s.pending[doc.ID]; !queued {
		s.order = append(s.order, doc.ID)
	}
	s.pending[doc.ID] = indexJob{doc: doc, entities: entities}
	s.mu.Unlock()

	s.start.Do(func() { go s.run() })
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the index worker. Queued updates are dropped; the next
// bootstrap reindex picks them up.
func (s *Service) Close() {
	s.stop.Do(func() { close(s.done) })
}

func (s *Service) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			job, ok := s.next()
			if !ok {
				break
			}
			if err := s.primary.IndexDocument(job.doc); err != nil {
				log.Printf("search: index document %s: %v", job.doc.ID, err)
			}
			if err := s.primary.ReplaceEntities(job.doc.ID, job.entities); err != nil {
				log.Printf("search: index entities of %s: %v", job.doc.ID, err)
			}
		}
	}
}

func (s *Service) next() (indexJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return indexJob{}, false
	}
	id := s.order[0]
	s.order = s.order[1:]
	job := s.pending[id]
	delete(s.pending, id)
	return job, true
}

// ReindexAllFromPG reindexes every document and span from Postgres into
// Meilisearch. Called once during bootstrap.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.primary == nil || !s.primary.Healthy() || s.pgfts == nil {
		return
	}
	documents, entities, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.primary.IndexDocuments(documents); err != nil {
		log.Printf("search: reindex documents: %v", err)
	}
	if err := s.primary.IndexEntities(entities); err != nil {
		log.Printf("search: reindex entities: %v", err)
	}
	log.Printf("search: reindexed %d documents, %d spans", len(documents), len(entities))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
