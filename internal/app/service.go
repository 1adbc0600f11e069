package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"qanun/api/internal/annotate"
	"qanun/api/internal/auth"
	"qanun/api/internal/config"
	"qanun/api/internal/doclock"
	"qanun/api/internal/export"
	"qanun/api/internal/gitrepo"
	"qanun/api/internal/rbac"
	"qanun/api/internal/render"
	"qanun/api/internal/search"
	"qanun/api/internal/span"
	"qanun/api/internal/store"
	"qanun/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SetUserRole(context.Context, string, string) error
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentState(context.Context, store.Document) error
	ReplaceEntities(context.Context, string, []store.Entity) error
	ReplaceRelations(context.Context, string, []store.Relation) error
	Ping(ctx context.Context) error
}

type gitService interface {
	EnsureDocumentRepo(string, gitrepo.Content, string) error
	Exists(string) bool
	CommitContent(string, gitrepo.Content, string, string) (store.CommitInfo, error)
	GetHeadContent(string) (gitrepo.Content, store.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, error)
	History(string, int) ([]store.CommitInfo, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexDocument(search.DocumentRecord, []search.EntityRecord)
	ReindexAllFromPG(context.Context)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	locker   doclock.Locker
	search   searchIndex
	signer   *auth.Signer
	exporter *export.Service
}

// New wires the service. searchSvc and uploader may be nil.
func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, locker doclock.Locker, searchSvc *search.Service, uploader export.Uploader) *Service {
	var idx searchIndex
	if searchSvc != nil {
		idx = searchSvc
	}
	return newService(cfg, dataStore, gitService, locker, idx, uploader)
}

func newService(cfg config.Config, ds dataStore, gs gitService, locker doclock.Locker, idx searchIndex, uploader export.Uploader) *Service {
	if locker == nil {
		locker = doclock.NewLocal()
	}
	s := &Service{
		cfg:    cfg,
		store:  ds,
		git:    gs,
		locker: locker,
		search: idx,
		signer: auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL),
	}
	s.exporter = export.NewService(exportStore{s}, uploader, export.Options{
		ChromePath: cfg.ChromePath,
		PandocPath: cfg.PandocPath,
	})
	return s
}

const seedDocument = `[[ENT id=ENT_1 type=LAW norm="22.01"]]القانون رقم 22.01[[/ENT]] المتعلق بالمسطرة الجنائية الصادر بتنفيذه [[ENT id=ENT_2 type=DECREE norm="1.02.255"]]الظهير الشريف رقم 1.02.255[[/ENT]] بتاريخ [[ENT id=ENT_3 type=DATE]]3 أكتوبر 2002[[/ENT]].`

// Bootstrap seeds a sample document into an empty installation and pushes
// everything into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) == 0 {
		owner, err := s.store.EnsureUserByName(ctx, "Avery")
		if err != nil {
			return err
		}
		st, err := span.Load(seedDocument, 0)
		if err != nil {
			return err
		}
		if _, err := s.createFromStore(ctx, owner.DisplayName, "qanun-22-01", "قانون المسطرة الجنائية",
			annotate.Metadata{DocumentNumber: "22.01", DocumentType: "قانون"}, st, nil); err != nil {
			return err
		}
	}
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	if slices.Contains(s.cfg.AdminUsers, user.DisplayName) && user.Role != string(rbac.RoleAdmin) {
		if err := s.store.SetUserRole(ctx, user.ID, string(rbac.RoleAdmin)); err != nil {
			return Session{}, err
		}
		user.Role = string(rbac.RoleAdmin)
	}
	token, claims, err := s.signer.Issue(user.ID, user.DisplayName, user.Role)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

// SessionFromToken verifies token and reloads the user so role changes
// apply without a new login.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type commitView struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

func toCommitView(c store.CommitInfo) commitView {
	return commitView{Hash: c.Hash, Message: strings.TrimSpace(c.Message), Author: c.Author, CreatedAt: c.CreatedAt}
}

type DocumentSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	DocNumber  string    `json:"docNumber"`
	DocType    string    `json:"docType"`
	Status     string    `json:"status"`
	TextLength int       `json:"textLength"`
	SpanCount  int       `json:"spanCount"`
	HeadCommit string    `json:"headCommit"`
	UpdatedBy  string    `json:"updatedBy"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func toSummary(d store.Document) DocumentSummary {
	return DocumentSummary{
		ID:         d.ID,
		Title:      d.Title,
		DocNumber:  d.DocNumber,
		DocType:    d.DocType,
		Status:     d.Status,
		TextLength: d.TextLength,
		SpanCount:  d.SpanCount,
		HeadCommit: d.HeadCommit,
		UpdatedBy:  d.UpdatedBy,
		UpdatedAt:  d.UpdatedAt,
	}
}

// DocumentView is everything an editor needs to show one version.
type DocumentView struct {
	DocumentSummary
	Text        string             `json:"text"`
	Markers     string             `json:"markers"`
	HTML        string             `json:"html"`
	Spans       []span.Span        `json:"spans"`
	NextID      int                `json:"nextId"`
	Fingerprint string             `json:"fingerprint"`
	Legend      []render.TypeCount `json:"legend"`
	Commit      commitView         `json:"commit"`
}

func (s *Service) view(doc store.Document, st *span.Store, markers string, commit store.CommitInfo, active string) DocumentView {
	spans := st.All()
	if spans == nil {
		spans = []span.Span{}
	}
	return DocumentView{
		DocumentSummary: toSummary(doc),
		Text:            st.Text(),
		Markers:         markers,
		HTML:            render.Document(st.Text(), spans, render.Options{ActiveID: active}),
		Spans:           spans,
		NextID:          st.NextID(),
		Fingerprint:     st.Fingerprint(),
		Legend:          render.Legend(spans),
		Commit:          toCommitView(commit),
	}
}

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]DocumentSummary, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, toSummary(d))
	}
	return out, nil
}

// GetDocument loads the head, or the commit named by version.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID, version, active string) (DocumentView, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return DocumentView{}, errForbidden
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	content, commit, err := s.loadVersion(documentID, version)
	if err != nil {
		return DocumentView{}, err
	}
	st, err := span.Load(content.Document, content.Meta.NextID)
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(doc, st, content.Document, commit, active), nil
}

func (s *Service) loadVersion(documentID, version string) (gitrepo.Content, store.CommitInfo, error) {
	if version == "" || version == "latest" {
		return s.git.GetHeadContent(documentID)
	}
	content, err := s.git.GetContentByHash(documentID, version)
	if err != nil {
		return gitrepo.Content{}, store.CommitInfo{}, err
	}
	return content, store.CommitInfo{Hash: version}, nil
}

// CreateDocumentInput is an extraction result plus the document identity.
// Markers, when set, is a ready marker-embedded document and replaces Text
// and Entities.
type CreateDocumentInput struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Markers string `json:"markers"`
	annotate.Extraction
}

type CreateResult struct {
	Document DocumentView          `json:"document"`
	Report   annotate.IngestReport `json:"report"`
}

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (CreateResult, error) {
	if !s.Can(session.Role, rbac.ActionImport) {
		return CreateResult{}, errForbidden
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = util.NewID("doc")
	}
	if !documentIDPattern.MatchString(id) {
		return CreateResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id may only contain letters, digits, '.', '_' and '-'", nil)
	}
	if s.git.Exists(id) {
		return CreateResult{}, domainError(http.StatusConflict, "DOCUMENT_EXISTS", "Document already exists", map[string]any{"id": id})
	}

	var (
		st     *span.Store
		report annotate.IngestReport
		err    error
	)
	if input.Markers != "" {
		st, err = span.Load(input.Markers, 0)
	} else {
		if strings.TrimSpace(input.Text) == "" {
			return CreateResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text or markers is required", nil)
		}
		st, report, err = annotate.Ingest(input.Text, input.Entities)
	}
	if err != nil {
		return CreateResult{}, err
	}

	title := firstNonEmpty(input.Title, input.Metadata.ShortTitle, input.Metadata.OfficialTitle, id)
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return CreateResult{}, err
	}
	defer unlock()

	view, err := s.createFromStore(ctx, session.UserName, id, title, input.Metadata, st, input.Relations)
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Document: view, Report: report}, nil
}

func (s *Service) createFromStore(ctx context.Context, author, id, title string, meta annotate.Metadata, st *span.Store, relations []annotate.Relation) (DocumentView, error) {
	markers, err := st.Encode()
	if err != nil {
		return DocumentView{}, err
	}
	rawRelations, err := encodeRelations(relations)
	if err != nil {
		return DocumentView{}, err
	}
	content := gitrepo.Content{
		Document: markers,
		Meta: gitrepo.Meta{
			Title:       title,
			DocNumber:   meta.DocumentNumber,
			DocType:     meta.DocumentType,
			NextID:      st.NextID(),
			Fingerprint: st.Fingerprint(),
			Relations:   rawRelations,
		},
	}
	if err := s.git.EnsureDocumentRepo(id, content, author); err != nil {
		return DocumentView{}, err
	}
	_, commit, err := s.git.GetHeadContent(id)
	if err != nil {
		return DocumentView{}, err
	}

	doc := store.Document{
		ID:        id,
		Title:     title,
		DocNumber: meta.DocumentNumber,
		DocType:   meta.DocumentType,
		Status:    "draft",
		UpdatedBy: author,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return DocumentView{}, err
	}
	doc, err = s.persist(ctx, doc, st, content.Meta, commit, author)
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(doc, st, markers, commit, ""), nil
}

// EditResult is the response to one edit request.
type EditResult struct {
	annotate.Result
	Document DocumentView `json:"document"`
	Warning  string       `json:"warning,omitempty"`
}

// Edit applies one flat edit request under the document's writer lock and
// commits the result. Nothing is committed when the request fails. Once the
// commit exists the edit succeeds; a failure to update the database rows
// after it is reported as a warning.
func (s *Service) Edit(ctx context.Context, session Session, documentID string, req annotate.Request) (EditResult, error) {
	if !s.Can(session.Role, rbac.ActionAnnotate) {
		return EditResult{}, errForbidden
	}
	unlock, err := s.locker.Lock(ctx, documentID)
	if err != nil {
		return EditResult{}, err
	}
	defer unlock()

	doc, content, st, err := s.loadHead(ctx, documentID)
	if err != nil {
		return EditResult{}, err
	}
	next, res, err := annotate.Apply(st, req)
	if err != nil {
		return EditResult{}, err
	}

	content.Document = res.Document
	content.Meta.NextID = next.NextID()
	content.Meta.Fingerprint = next.Fingerprint()
	commit, err := s.git.CommitContent(documentID, content, session.UserName, commitMessage(req, res))
	if err != nil {
		return EditResult{}, err
	}
	doc, err = s.persist(ctx, doc, next, content.Meta, commit, session.UserName)
	warning := persistWarning(documentID, err)
	if res.Message != "" {
		log.Printf("annotate: %s %s: %s (%s)", documentID, req.Action, res.Message, strings.Join(res.Removed, ","))
	}

	active := req.Active
	if active == "" && req.Action != annotate.ActionDelete {
		active = res.ID
	}
	return EditResult{Result: res, Document: s.view(doc, next, res.Document, commit, active), Warning: warning}, nil
}

// MergeResult is the response to re-running extraction over a document.
type MergeResult struct {
	Ingest   annotate.IngestReport `json:"ingest"`
	Merge    annotate.MergeReport  `json:"merge"`
	Document DocumentView          `json:"document"`
	Warning  string                `json:"warning,omitempty"`
}

// MergeExtraction replaces the model spans of a document with a fresh
// extraction. User spans survive.
func (s *Service) MergeExtraction(ctx context.Context, session Session, documentID string, ext annotate.Extraction) (MergeResult, error) {
	if !s.Can(session.Role, rbac.ActionImport) {
		return MergeResult{}, errForbidden
	}
	unlock, err := s.locker.Lock(ctx, documentID)
	if err != nil {
		return MergeResult{}, err
	}
	defer unlock()

	doc, content, st, err := s.loadHead(ctx, documentID)
	if err != nil {
		return MergeResult{}, err
	}
	if ext.Text != "" && ext.Text != st.Text() {
		return MergeResult{}, domainError(http.StatusUnprocessableEntity, "TEXT_MISMATCH", "Extraction was run on a different text", nil)
	}
	extracted, ingestReport := annotate.Extracted(st, ext.Entities)
	next, mergeReport, err := annotate.Merge(st, extracted)
	if err != nil {
		return MergeResult{}, err
	}
	markers, err := next.Encode()
	if err != nil {
		return MergeResult{}, err
	}

	content.Document = markers
	content.Meta.NextID = next.NextID()
	content.Meta.Fingerprint = next.Fingerprint()
	if ext.Relations != nil {
		if content.Meta.Relations, err = encodeRelations(ext.Relations); err != nil {
			return MergeResult{}, err
		}
	}
	commit, err := s.git.CommitContent(documentID, content, session.UserName, "Merge extraction")
	if err != nil {
		return MergeResult{}, err
	}
	doc, err = s.persist(ctx, doc, next, content.Meta, commit, session.UserName)
	return MergeResult{
		Ingest:   ingestReport,
		Merge:    mergeReport,
		Document: s.view(doc, next, markers, commit, ""),
		Warning:  persistWarning(documentID, err),
	}, nil
}

func (s *Service) loadHead(ctx context.Context, documentID string) (store.Document, gitrepo.Content, *span.Store, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, gitrepo.Content{}, nil, err
	}
	content, _, err := s.git.GetHeadContent(documentID)
	if err != nil {
		return store.Document{}, gitrepo.Content{}, nil, err
	}
	st, err := span.Load(content.Document, content.Meta.NextID)
	if err != nil {
		return store.Document{}, gitrepo.Content{}, nil, err
	}
	if doc.TextDigest != "" && doc.TextDigest != st.Fingerprint() {
		log.Printf("annotate: %s: database digest %s does not match repository, resyncing on commit", documentID, shortDigest(doc.TextDigest))
	}
	return doc, content, st, nil
}

// persistWarning logs a failed persist that followed a successful commit.
// The repository stays authoritative: the next commit rewrites every row.
func persistWarning(documentID string, err error) string {
	if err == nil {
		return ""
	}
	log.Printf("annotate: %s: committed but database not updated: %v", documentID, err)
	return "Changes were saved to history but the database could not be updated; it resyncs on the next edit"
}

// persist rewrites the derived Postgres rows and the search index from st.
// The returned document carries the new state even when a write fails.
func (s *Service) persist(ctx context.Context, doc store.Document, st *span.Store, meta gitrepo.Meta, commit store.CommitInfo, author string) (store.Document, error) {
	spans := st.All()
	doc.TextDigest = st.Fingerprint()
	doc.TextLength = st.Len()
	doc.SpanCount = len(spans)
	doc.HeadCommit = commit.Hash
	doc.UpdatedBy = author
	doc.UpdatedAt = time.Now()

	if err := s.store.UpdateDocumentState(ctx, doc); err != nil {
		return doc, fmt.Errorf("update document state: %w", err)
	}
	entities := toEntities(doc.ID, st)
	if err := s.store.ReplaceEntities(ctx, doc.ID, entities); err != nil {
		return doc, fmt.Errorf("replace entities: %w", err)
	}
	relations, err := decodeRelations(meta.Relations)
	if err != nil {
		return doc, err
	}
	if err := s.store.ReplaceRelations(ctx, doc.ID, toStoreRelations(doc.ID, relations)); err != nil {
		return doc, fmt.Errorf("replace relations: %w", err)
	}

	if s.search != nil {
		records := make([]search.EntityRecord, 0, len(entities))
		for _, e := range entities {
			records = append(records, search.EntityRecord{
				ID:           search.EntityKey(doc.ID, e.EntID),
				EntID:        e.EntID,
				DocumentID:   doc.ID,
				DocTitle:     doc.Title,
				Type:         e.Type,
				Text:         e.Text,
				Normalized:   e.Normalized,
				CanonicalNum: e.CanonicalNum,
				Start:        e.StartChar,
				End:          e.EndChar,
			})
		}
		s.search.IndexDocument(search.DocumentRecord{
			ID:        doc.ID,
			Title:     doc.Title,
			DocNumber: doc.DocNumber,
			DocType:   doc.DocType,
			Status:    doc.Status,
		}, records)
	}
	return doc, nil
}

func toEntities(documentID string, st *span.Store) []store.Entity {
	spans := st.All()
	out := make([]store.Entity, 0, len(spans))
	for _, sp := range spans {
		text := st.Slice(sp.Start, sp.End)
		canonical, _ := annotate.CanonicalNum(firstNonEmpty(sp.Normalized, text))
		provenance := string(sp.Provenance)
		if provenance == "" {
			provenance = "model"
		}
		out = append(out, store.Entity{
			DocumentID:   documentID,
			EntID:        sp.ID,
			Type:         sp.Type,
			Text:         text,
			StartChar:    sp.Start,
			EndChar:      sp.End,
			Normalized:   sp.Normalized,
			CanonicalNum: canonical,
			Provenance:   provenance,
		})
	}
	return out
}

func encodeRelations(relations []annotate.Relation) (json.RawMessage, error) {
	if len(relations) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(relations)
	if err != nil {
		return nil, fmt.Errorf("encode relations: %w", err)
	}
	return raw, nil
}

func decodeRelations(raw json.RawMessage) ([]annotate.Relation, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var relations []annotate.Relation
	if err := json.Unmarshal(raw, &relations); err != nil {
		return nil, fmt.Errorf("decode relations: %w", err)
	}
	return relations, nil
}

func toStoreRelations(documentID string, relations []annotate.Relation) []store.Relation {
	out := make([]store.Relation, 0, len(relations))
	for _, r := range relations {
		out = append(out, store.Relation{
			DocumentID: documentID,
			RelationID: r.RelationID,
			Type:       r.Type,
			SourceID:   r.SourceID,
			TargetID:   r.TargetID,
		})
	}
	return out
}

func commitMessage(req annotate.Request, res annotate.Result) string {
	switch req.Action {
	case annotate.ActionAdd:
		return fmt.Sprintf("Add %s", res.ID)
	case annotate.ActionUpdate, annotate.ActionMove, annotate.ActionDelete:
		return fmt.Sprintf("%s %s", strings.ToUpper(req.Action[:1])+req.Action[1:], req.ID)
	case annotate.ActionReplace:
		msg := fmt.Sprintf("Replace text [%d,%d)", deref(req.Start), deref(req.End))
		if len(res.Removed) > 0 {
			msg += "\n\nRemoved: " + strings.Join(res.Removed, ", ")
		}
		return msg
	case annotate.ActionSave:
		return "Save document"
	case annotate.ActionFixOffsets:
		return "Fix offsets"
	}
	return req.Action
}

func (s *Service) History(ctx context.Context, session Session, documentID string, limit int) ([]commitView, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	items, err := s.git.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]commitView, 0, len(items))
	for _, item := range items {
		out = append(out, toCommitView(item))
	}
	return out, nil
}

// Diff compares two versions; an empty to means head.
func (s *Service) Diff(ctx context.Context, session Session, documentID, from, to string) (gitrepo.SpanDiff, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return gitrepo.SpanDiff{}, errForbidden
	}
	if strings.TrimSpace(from) == "" {
		return gitrepo.SpanDiff{}, domainError(http.StatusBadRequest, "INVALID_REQUEST", "from is required", nil)
	}
	older, _, err := s.loadVersion(documentID, from)
	if err != nil {
		return gitrepo.SpanDiff{}, err
	}
	newer, _, err := s.loadVersion(documentID, to)
	if err != nil {
		return gitrepo.SpanDiff{}, err
	}
	return gitrepo.Diff(older, newer)
}

// ResolvePositions maps structural positions in one view of the head
// version to canonical offsets.
func (s *Service) ResolvePositions(ctx context.Context, session Session, documentID, space, active string, positions []string) ([]int, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden
	}
	_, _, st, err := s.loadHead(ctx, documentID)
	if err != nil {
		return nil, err
	}
	resolver, err := annotate.Resolver(st, space, active)
	if err != nil {
		return nil, err
	}
	offsets := make([]int, 0, len(positions))
	for _, raw := range positions {
		pos, err := annotate.ParsePosition(raw)
		if err != nil {
			return nil, err
		}
		off, err := resolver.Offset(pos)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, off)
	}
	return offsets, nil
}

// Reindex rebuilds the search index from Postgres.
func (s *Service) Reindex(ctx context.Context, session Session) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden
	}
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// SetUserRole changes another user's role. Unknown roles are rejected
// rather than normalized.
func (s *Service) SetUserRole(ctx context.Context, session Session, userID, role string) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden
	}
	if rbac.Normalize(role) != rbac.Role(role) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be viewer, annotator or admin", map[string]any{"role": role})
	}
	return s.store.SetUserRole(ctx, userID, role)
}

func (s *Service) Search(session Session, q search.Query) (search.Response, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return search.Response{}, errForbidden
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) Export(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden
	}
	return s.exporter.Export(ctx, req)
}

// exportStore adapts the service to export.DataStore.
type exportStore struct {
	s *Service
}

func (e exportStore) GetDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := e.s.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	return export.DocumentInfo{
		ID:        doc.ID,
		Title:     doc.Title,
		DocNumber: doc.DocNumber,
		DocType:   doc.DocType,
		UpdatedBy: doc.UpdatedBy,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (e exportStore) GetDocumentContent(_ context.Context, documentID, version string) (string, error) {
	content, _, err := e.s.loadVersion(documentID, version)
	if err != nil {
		return "", err
	}
	return content.Document, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
