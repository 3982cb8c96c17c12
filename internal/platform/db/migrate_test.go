package db

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	src := fstest.MapFS{
		"003_aliases.sql":   {Data: []byte("ALTER TABLE conversion_templates ADD COLUMN alias TEXT;")},
		"001_templates.sql": {Data: []byte("CREATE TABLE conversion_templates (name TEXT);")},
		"002_index.sql":     {Data: []byte("CREATE INDEX idx ON conversion_templates (name);")},
		"README.md":         {Data: []byte("not a migration")},
		"notes.sql":         {Data: []byte("-- no version prefix")},
		"abc_bad.sql":       {Data: []byte("-- non-numeric prefix")},
		"sub/004_x.sql":     {Data: []byte("-- nested files are ignored")},
	}

	migrations, err := NewMigrator(nil, src).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []string{"001_templates.sql", "002_index.sql", "003_aliases.sql"} {
		if migrations[i].Name != want || migrations[i].Version != i+1 {
			t.Errorf("migration %d = %d %s, want %d %s", i, migrations[i].Version, migrations[i].Name, i+1, want)
		}
	}
	if !strings.HasPrefix(migrations[0].SQL, "CREATE TABLE") {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	src := fstest.MapFS{
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, src).LoadMigrations(); err == nil || !strings.Contains(err.Error(), "version 1") {
		t.Errorf("expected duplicate version error, got %v", err)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, Migrations()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected built-in migrations")
	}
	if !strings.Contains(migrations[0].SQL, "conversion_templates") {
		t.Errorf("first migration should create conversion_templates: %s", migrations[0].SQL)
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration versions should be contiguous, got %d at %d", m.Version, i)
		}
	}
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_a.sql"},
		{Version: 2, Name: "002_b.sql"},
		{Version: 3, Name: "003_c.sql"},
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	applied := map[int]time.Time{1: at, 3: at}

	p := pending(migrations, applied)
	if len(p) != 1 || p[0].Version != 2 {
		t.Errorf("pending = %v, want only version 2", p)
	}

	st := statuses(migrations, applied)
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("status 1 = %+v", st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil {
		t.Errorf("status 2 should be pending: %+v", st[1])
	}
}
