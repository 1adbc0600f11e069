package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"regexp"
	"sort"
)

// migrationLockKey serializes migrations when several API replicas boot at
// once.
const migrationLockKey int64 = 0x71616e756e

var migrationName = regexp.MustCompile(`^(\d+)_[A-Za-z0-9_]+\.(up|down)\.sql$`)

// migration is one numbered schema step.
type migration struct {
	Version string
	Up      string
	Down    string
}

// ApplyMigrations runs every pending up migration of migrationsDir.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	return ApplyMigrationsFS(ctx, db, os.DirFS(migrationsDir))
}

// ApplyMigrationsFS runs pending up migrations in version order, each in its
// own transaction, while holding a Postgres advisory lock.
func ApplyMigrationsFS(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	migrations, err := loadMigrations(fsys)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration connection: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Up] {
			continue
		}
		contents, err := fs.ReadFile(fsys, m.Up)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.Up, err)
		}
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", m.Up, err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", m.Up, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Up, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Up, err)
		}
		log.Printf("store: applied migration %s", m.Up)
	}
	return nil
}

// loadMigrations pairs up and down files by version. A version missing
// either half, or carrying two of one direction, is an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	byVersion := map[string]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m := byVersion[match[1]]
		if m == nil {
			m = &migration{Version: match[1]}
			byVersion[match[1]] = m
		}
		slot := &m.Up
		if match[2] == "down" {
			slot = &m.Down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %s", match[2], match[1])
		}
		*slot = entry.Name()
	}
	if len(byVersion) == 0 {
		return nil, fmt.Errorf("no migrations found")
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("version %s must include both up and down files", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()
	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
