package app

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"qanun/api/internal/config"
	"qanun/api/internal/gitrepo"
	"qanun/api/internal/search"
	"qanun/api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	documents map[string]store.Document
	entities  map[string][]store.Entity
	relations map[string][]store.Relation

	pingFn            func(context.Context) error
	replaceEntitiesFn func(context.Context, string, []store.Entity) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]store.User{},
		documents: map[string]store.Document{},
		entities:  map[string][]store.Entity{},
		relations: map[string][]store.Relation{},
	}
}

func (f *fakeStore) EnsureUserByName(_ context.Context, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.DisplayName == name {
			return u, nil
		}
	}
	u := store.User{ID: "user-" + name, DisplayName: name, Role: "annotator", CreatedAt: time.Now()}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) SetUserRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	f.users[id] = u
	return nil
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Document, 0, len(f.documents))
	for _, d := range f.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) InsertDocument(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[d.ID] = d
	return nil
}

func (f *fakeStore) UpdateDocumentState(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[d.ID]; !ok {
		return store.ErrNotFound
	}
	f.documents[d.ID] = d
	return nil
}

func (f *fakeStore) ReplaceEntities(ctx context.Context, documentID string, entities []store.Entity) error {
	if f.replaceEntitiesFn != nil {
		return f.replaceEntitiesFn(ctx, documentID, entities)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[documentID] = entities
	return nil
}

func (f *fakeStore) ReplaceRelations(_ context.Context, documentID string, relations []store.Relation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relations[documentID] = relations
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) entityIDs(documentID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.entities[documentID]))
	for _, e := range f.entities[documentID] {
		ids = append(ids, e.EntID)
	}
	return ids
}

type fakeSearch struct {
	mu       sync.Mutex
	indexed  map[string][]search.EntityRecord
	searchFn func(search.Query) search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord, entities []search.EntityRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexed == nil {
		f.indexed = map[string][]search.EntityRecord{}
	}
	f.indexed[doc.ID] = entities
}

func (f *fakeSearch) ReindexAllFromPG(context.Context) {}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	git    *gitrepo.Service
	search *fakeSearch
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	gs := gitrepo.New(t.TempDir())
	idx := &fakeSearch{}
	cfg := config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour, AdminUsers: []string{"Admin"}}
	return &testEnv{
		svc:    newService(cfg, fs, gs, nil, idx, nil),
		store:  fs,
		git:    gs,
		search: idx,
	}
}

func (e *testEnv) login(t *testing.T, name string) Session {
	t.Helper()
	session, err := e.svc.Login(context.Background(), name)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", name, err)
	}
	return session
}

func (e *testEnv) loginAs(t *testing.T, name, role string) Session {
	t.Helper()
	session := e.login(t, name)
	if err := e.store.SetUserRole(context.Background(), session.UserID, role); err != nil {
		t.Fatalf("SetUserRole() error = %v", err)
	}
	session.Role = role
	return session
}

const testMarkers = `[[ENT id=ENT_1 type=LAW norm=22.01]]القانون رقم 22.01[[/ENT]] المتعلق بالمسطرة الجنائية`

func (e *testEnv) seed(t *testing.T) string {
	t.Helper()
	admin := e.login(t, "Admin")
	res, err := e.svc.CreateDocument(context.Background(), admin, CreateDocumentInput{
		ID:      "doc-1",
		Title:   "قانون المسطرة الجنائية",
		Markers: testMarkers,
	})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	return res.Document.ID
}
