package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name)
		VALUES ($1)
		ON CONFLICT (display_name) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, display_name, role, created_at
	`, name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const documentColumns = `id, title, doc_number, doc_type, status, text_digest, text_length, span_count, head_commit, updated_by_name, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	err := row.Scan(&item.ID, &item.Title, &item.DocNumber, &item.DocType, &item.Status, &item.TextDigest,
		&item.TextLength, &item.SpanCount, &item.HeadCommit, &item.UpdatedBy, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	item, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	status := item.Status
	if status == "" {
		status = "draft"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, doc_number, doc_type, status, text_digest, text_length, span_count, head_commit, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.DocNumber, item.DocType, status, item.TextDigest, item.TextLength, item.SpanCount, item.HeadCommit, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocumentState records the outcome of a committed edit.
func (s *PostgresStore) UpdateDocumentState(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, status=$3, text_digest=$4, text_length=$5, span_count=$6, head_commit=$7, updated_by_name=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Status, item.TextDigest, item.TextLength, item.SpanCount, item.HeadCommit, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	return nil
}

// ReplaceEntities rewrites the entity rows of one document in a single
// transaction.
func (s *PostgresStore) ReplaceEntities(ctx context.Context, documentID string, entities []Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entities tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (document_id, ent_id, type, text, start_char, end_char, normalized, canonical_num, provenance)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`)
	if err != nil {
		return fmt.Errorf("prepare entity insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entities {
		if _, err := stmt.ExecContext(ctx, documentID, e.EntID, e.Type, e.Text, e.StartChar, e.EndChar, e.Normalized, e.CanonicalNum, e.Provenance); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.EntID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entities: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, documentID string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, ent_id, type, text, start_char, end_char,
			COALESCE(normalized, ''), COALESCE(canonical_num, ''), provenance
		FROM entities
		WHERE document_id=$1
		ORDER BY start_char, end_char, ent_id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	items := make([]Entity, 0)
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.DocumentID, &e.EntID, &e.Type, &e.Text, &e.StartChar, &e.EndChar, &e.Normalized, &e.CanonicalNum, &e.Provenance); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return items, nil
}

// ReplaceRelations rewrites the relation rows of one document. Relations
// whose endpoints are no longer entities of the document are dropped.
func (s *PostgresStore) ReplaceRelations(ctx context.Context, documentID string, relations []Relation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin relations tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("clear relations: %w", err)
	}
	for _, r := range relations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relations (document_id, relation_id, type, source_id, target_id)
			SELECT $1::text, $2::text, $3::text, $4::text, $5::text
			WHERE EXISTS (SELECT 1 FROM entities WHERE document_id=$1 AND ent_id=$4)
				AND EXISTS (SELECT 1 FROM entities WHERE document_id=$1 AND ent_id=$5)
			ON CONFLICT (document_id, relation_id) DO NOTHING
		`, documentID, r.RelationID, r.Type, r.SourceID, r.TargetID); err != nil {
			return fmt.Errorf("insert relation %s: %w", r.RelationID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit relations: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRelations(ctx context.Context, documentID string) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, relation_id, type, source_id, target_id
		FROM relations
		WHERE document_id=$1
		ORDER BY relation_id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	items := make([]Relation, 0)
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.DocumentID, &r.RelationID, &r.Type, &r.SourceID, &r.TargetID); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
