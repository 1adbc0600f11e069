package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestRepositoryMigrationsArePaired(t *testing.T) {
	migrations, err := loadMigrations(os.DirFS(filepath.Join("..", "..", "db", "migrations")))
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if migrations[0].Up != "0001_init.up.sql" || migrations[0].Down != "0001_init.down.sql" {
		t.Fatalf("unexpected first migration %+v", migrations[0])
	}
}

func TestLoadMigrations(t *testing.T) {
	file := &fstest.MapFile{Data: []byte("SELECT 1;")}
	cases := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
		want    []string
	}{
		{
			name: "ordered by version",
			fsys: fstest.MapFS{
				"0002_entities.up.sql": file, "0002_entities.down.sql": file,
				"0001_init.up.sql": file, "0001_init.down.sql": file,
				"README.md": file,
			},
			want: []string{"0001_init.up.sql", "0002_entities.up.sql"},
		},
		{
			name:    "missing down",
			fsys:    fstest.MapFS{"0001_init.up.sql": file},
			wantErr: "both up and down",
		},
		{
			name: "duplicate direction",
			fsys: fstest.MapFS{
				"0001_init.up.sql": file, "0001_other.up.sql": file, "0001_init.down.sql": file,
			},
			wantErr: "duplicate up",
		},
		{
			name:    "empty",
			fsys:    fstest.MapFS{},
			wantErr: "no migrations",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := loadMigrations(tc.fsys)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadMigrations() error = %v", err)
			}
			var ups []string
			for _, m := range got {
				ups = append(ups, m.Up)
			}
			if strings.Join(ups, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("got %v, want %v", ups, tc.want)
			}
		})
	}
}
