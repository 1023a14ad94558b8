package db

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/ehr/qeditor/migrations"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"010_tables.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql":  {Data: []byte("SELECT 2;")},
		"001_first.sql":   {Data: []byte("SELECT 1;")},
		"readme.sql":      {Data: []byte("-- no version prefix")},
		"abc_invalid.sql": {Data: []byte("-- non-numeric prefix")},
		"notes.txt":       {Data: []byte("not sql")},
	}
	migs, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migs))
	}
	for i, want := range []int{1, 2, 10} {
		if migs[i].Version != want {
			t.Errorf("migration[%d]: expected version %d, got %d", i, want, migs[i].Version)
		}
	}
	if migs[0].Name != "001_first.sql" || migs[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected first migration %+v", migs[0])
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migs, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migs))
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) == 0 || migs[0].Name != "001_snapshots.sql" {
		t.Fatalf("expected the snapshot migration first, got %+v", migs)
	}
}

func TestPendingAndStatus(t *testing.T) {
	migs := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_more.sql"},
		{Version: 3, Name: "003_last.sql"},
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	pending := Pending(migs, applied)
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Errorf("pending = %+v", pending)
	}

	statuses := BuildStatus(migs, applied)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("status[0] = %+v", statuses[0])
	}
	for _, s := range statuses[1:] {
		if s.Applied || s.AppliedAt != nil {
			t.Errorf("expected %s to be pending", s.Name)
		}
	}
}
