package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

type Document struct {
	ID         string
	Title      string
	DocNumber  string
	DocType    string
	Status     string
	TextDigest string
	TextLength int
	SpanCount  int
	HeadCommit string
	UpdatedBy  string
	UpdatedAt  time.Time
}

// Entity is one span as persisted for downstream consumers, keyed by
// document and stable span id.
type Entity struct {
	DocumentID   string
	EntID        string
	Type         string
	Text         string
	StartChar    int
	EndChar      int
	Normalized   string
	CanonicalNum string
	Provenance   string
}

type Relation struct {
	DocumentID string
	RelationID string
	Type       string
	SourceID   string
	TargetID   string
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
