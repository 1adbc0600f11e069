package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func openTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("QANUN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("QANUN_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db, ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, ctx := openTestDB(t)

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	migrations, err := loadMigrations(os.DirFS(migrationsDir))
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	downs := make([]string, 0, len(migrations))
	for _, m := range migrations {
		downs = append(downs, m.Down)
	}
	for i := len(downs) - 1; i >= 0; i-- {
		contents, err := os.ReadFile(filepath.Join(migrationsDir, downs[i]))
		if err != nil {
			t.Fatalf("read %s: %v", downs[i], err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			t.Fatalf("apply %s: %v", downs[i], err)
		}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestPostgresStoreEntities(t *testing.T) {
	db, ctx := openTestDB(t)
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.InsertDocument(ctx, Document{ID: "doc_1", Title: "القانون 37.22", UpdatedBy: "Amina"}); err != nil {
		t.Fatalf("insert document: %v", err)
	}

	entities := []Entity{
		{EntID: "ENT_2", Type: "NUM", Text: "37.22", StartChar: 8, EndChar: 13, CanonicalNum: "37.22", Provenance: "user"},
		{EntID: "ENT_1", Type: "LAW", Text: "القانون 37.22", StartChar: 0, EndChar: 13, Provenance: "model"},
	}
	if err := s.ReplaceEntities(ctx, "doc_1", entities); err != nil {
		t.Fatalf("replace entities: %v", err)
	}
	got, err := s.ListEntities(ctx, "doc_1")
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	if len(got) != 2 || got[0].EntID != "ENT_1" || got[1].CanonicalNum != "37.22" {
		t.Fatalf("unexpected entities %+v", got)
	}

	relations := []Relation{
		{RelationID: "REL_1", Type: "refers_to", SourceID: "ENT_1", TargetID: "ENT_2"},
		{RelationID: "REL_2", Type: "refers_to", SourceID: "ENT_1", TargetID: "ENT_9"},
	}
	if err := s.ReplaceRelations(ctx, "doc_1", relations); err != nil {
		t.Fatalf("replace relations: %v", err)
	}
	rels, err := s.ListRelations(ctx, "doc_1")
	if err != nil {
		t.Fatalf("list relations: %v", err)
	}
	if len(rels) != 1 || rels[0].RelationID != "REL_1" {
		t.Fatalf("dangling relation kept: %+v", rels)
	}

	first, err := s.EnsureUserByName(ctx, "Amina")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	second, err := s.EnsureUserByName(ctx, "Amina")
	if err != nil || second.ID != first.ID {
		t.Fatalf("ensure user not idempotent: %+v %+v %v", first, second, err)
	}
}
