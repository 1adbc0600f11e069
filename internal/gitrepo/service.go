// Package gitrepo keeps every document in its own git repository: the
// marker-embedded text in document.txt and bookkeeping in meta.json. Each
// committed edit is one commit on main.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"qanun/api/internal/marker"
	"qanun/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	documentFile = "document.txt"
	metaFile     = "meta.json"
	mainBranch   = "main"
)

var ErrDocumentNotFound = errors.New("document repository not found")

// Meta is the bookkeeping stored next to the document.
type Meta struct {
	Title     string `json:"title"`
	DocNumber string `json:"docNumber,omitempty"`
	DocType   string `json:"docType,omitempty"`
	// NextID is the span id high-water mark; ids below it are never reused.
	NextID      int             `json:"nextId"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Relations   json.RawMessage `json:"relations,omitempty"`
}

// Content is one version of a document.
type Content struct {
	Document string
	Meta     Meta
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) EnsureDocumentRepo(documentID string, initial Content, author string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	if _, err := s.commit(repo, initial, author, "Import document baseline"); err != nil {
		return err
	}
	return nil
}

// Exists reports whether the document has a repository.
func (s *Service) Exists(documentID string) bool {
	_, err := os.Stat(filepath.Join(s.repoPath(documentID), ".git"))
	return err == nil
}

// CommitContent records content as the new head. Committing unchanged
// content is a no-op that returns the current head.
func (s *Service) CommitContent(documentID string, content Content, author, message string) (store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return store.CommitInfo{}, err
	}

	hash, err := s.commit(repo, content, author, message)
	if errors.Is(err, git.ErrEmptyCommit) {
		ref, refErr := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
		if refErr != nil {
			return store.CommitInfo{}, fmt.Errorf("resolve main: %w", refErr)
		}
		hash, err = ref.Hash(), nil
	}
	if err != nil {
		return store.CommitInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) GetHeadContent(documentID string) (Content, store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return Content{}, store.CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

func (s *Service) GetContentByHash(documentID, hash string) (Content, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

func (s *Service) History(documentID string, limit int) ([]store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	meta, err := json.MarshalIndent(content.Meta, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal meta: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, documentFile), []byte(content.Document), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", documentFile, err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, metaFile), append(meta, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", metaFile, err)
	}
	for _, name := range []string{documentFile, metaFile} {
		if _, err := worktree.Add(name); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.qanun.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	doc, err := readFile(commitObj, documentFile)
	if err != nil {
		return Content{}, err
	}
	raw, err := readFile(commitObj, metaFile)
	if err != nil {
		return Content{}, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Content{}, fmt.Errorf("decode %s: %w", metaFile, err)
	}
	return Content{Document: string(doc), Meta: meta}, nil
}

func readFile(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// SpanDiff summarizes how the spans of two versions differ.
type SpanDiff struct {
	TextChanged bool     `json:"textChanged"`
	Added       []string `json:"added"`
	Removed     []string `json:"removed"`
	Changed     []string `json:"changed"`
}

// Diff compares two versions span by span. Spans are matched by id.
func Diff(from, to Content) (SpanDiff, error) {
	fromText, fromSpans, err := marker.Decode(from.Document)
	if err != nil {
		return SpanDiff{}, fmt.Errorf("decode old version: %w", err)
	}
	toText, toSpans, err := marker.Decode(to.Document)
	if err != nil {
		return SpanDiff{}, fmt.Errorf("decode new version: %w", err)
	}

	diff := SpanDiff{
		TextChanged: fromText != toText,
		Added:       []string{},
		Removed:     []string{},
		Changed:     []string{},
	}
	before := make(map[string]marker.Span, len(fromSpans))
	for _, sp := range fromSpans {
		before[sp.ID] = sp
	}
	for _, sp := range toSpans {
		old, ok := before[sp.ID]
		switch {
		case !ok:
			diff.Added = append(diff.Added, sp.ID)
		case old != sp:
			diff.Changed = append(diff.Changed, sp.ID)
		}
		delete(before, sp.ID)
	}
	for _, sp := range fromSpans {
		if _, gone := before[sp.ID]; gone {
			diff.Removed = append(diff.Removed, sp.ID)
		}
	}
	return diff, nil
}

// HasChanges reports whether two versions differ in text, spans or meta.
func HasChanges(from, to Content) bool {
	if from.Document != to.Document {
		return true
	}
	a, _ := json.Marshal(from.Meta)
	b, _ := json.Marshal(to.Meta)
	return !bytes.Equal(a, b)
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
