package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteDocument is one document of a SQLite export.
type SQLiteDocument struct {
	FileName      string
	DocNumber     string
	ShortTitle    string
	OfficialTitle string
	DocType       string
	Entities      []Entity
	Relations     []Relation
}

const sqliteSchema = `
DROP TABLE IF EXISTS Documents;
DROP TABLE IF EXISTS Articles;
DROP TABLE IF EXISTS Entities;
DROP TABLE IF EXISTS Relations;

CREATE TABLE Documents(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name TEXT,
	doc_number TEXT,
	short_title TEXT,
	official_title TEXT,
	doc_type TEXT
);

CREATE TABLE Articles(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER,
	number TEXT,
	text TEXT,
	FOREIGN KEY(document_id) REFERENCES Documents(id)
);

CREATE TABLE Entities(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER,
	ent_id TEXT,
	type TEXT,
	text TEXT,
	start_char INTEGER,
	end_char INTEGER,
	normalized TEXT,
	canonical_num TEXT,
	global_id TEXT,
	FOREIGN KEY(document_id) REFERENCES Documents(id)
);

CREATE TABLE Relations(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER,
	relation_id TEXT,
	type TEXT,
	source_id TEXT,
	target_id TEXT,
	FOREIGN KEY(document_id) REFERENCES Documents(id)
);
`

const sqliteIndexes = `
CREATE INDEX IF NOT EXISTS idx_documents_doc_number ON Documents(doc_number);
CREATE INDEX IF NOT EXISTS idx_documents_filename ON Documents(file_name);
CREATE INDEX IF NOT EXISTS idx_articles_docid_number ON Articles(document_id, number);
CREATE INDEX IF NOT EXISTS idx_entities_norm_type ON Entities(normalized, type);
CREATE INDEX IF NOT EXISTS idx_entities_docid ON Entities(document_id);
CREATE INDEX IF NOT EXISTS idx_entities_global_id ON Entities(global_id);
`

// ExportSQLite writes docs into a fresh SQLite database at path, replacing
// any tables already there.
func ExportSQLite(ctx context.Context, path string, docs []SQLiteDocument) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, doc := range docs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO Documents(file_name, doc_number, short_title, official_title, doc_type) VALUES (?,?,?,?,?)`,
			doc.FileName, nullString(doc.DocNumber), nullString(doc.ShortTitle), nullString(doc.OfficialTitle), nullString(doc.DocType))
		if err != nil {
			return fmt.Errorf("insert document %s: %w", doc.FileName, err)
		}
		docID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("document id %s: %w", doc.FileName, err)
		}
		for _, e := range doc.Entities {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO Entities(document_id, ent_id, type, text, start_char, end_char, normalized, canonical_num, global_id) VALUES (?,?,?,?,?,?,?,?,NULL)`,
				docID, e.EntID, e.Type, e.Text, e.StartChar, e.EndChar, nullString(e.Normalized), nullString(e.CanonicalNum)); err != nil {
				return fmt.Errorf("insert entity %s/%s: %w", doc.FileName, e.EntID, err)
			}
		}
		for _, r := range doc.Relations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO Relations(document_id, relation_id, type, source_id, target_id) VALUES (?,?,?,?,?)`,
				docID, r.RelationID, r.Type, r.SourceID, r.TargetID); err != nil {
				return fmt.Errorf("insert relation %s/%s: %w", doc.FileName, r.RelationID, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, sqliteIndexes); err != nil {
		return fmt.Errorf("create sqlite indexes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite export: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
