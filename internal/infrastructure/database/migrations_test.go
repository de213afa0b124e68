package database

import (
	"context"
	"testing"
	"testing/fstest"
)

var testMigrations = fstest.MapFS{
	"20260101_000000_bays.up.sql": {Data: []byte(
		"CREATE TABLE test_bays (id TEXT PRIMARY KEY);",
	)},
	"20260101_000000_bays.down.sql": {Data: []byte(
		"DROP TABLE test_bays;",
	)},
	"20260102_000000_logs.up.sql": {Data: []byte(
		"CREATE TABLE test_logs (id INTEGER PRIMARY KEY AUTOINCREMENT, bay_id TEXT);",
	)},
	"20260102_000000_logs.down.sql": {Data: []byte(
		"DROP TABLE test_logs;",
	)},
	"README.md": {Data: []byte("ignored")},
}

// useMigrations swaps the package-level source for the duration of a test.
func useMigrations(t *testing.T, src fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = src
	MigrationsDir = "."
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_bays") || !tableExists(t, db, "test_logs") {
		t.Fatal("expected both tables to exist")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("first record = %+v", applied[0])
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_logs") {
		t.Error("test_logs should have been dropped")
	}
	if !tableExists(t, db, "test_bays") {
		t.Error("test_bays should survive a single rollback")
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "logs" {
		t.Errorf("pending = %+v, want [logs]", pending)
	}
}

func TestMigrateDownNothingApplied(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)

	if err := db.MigrateDown(context.Background()); err != nil {
		t.Errorf("MigrateDown() on fresh db error = %v", err)
	}
}

func TestMigrateNoSource(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = nil

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABL broken;")},
		"20260103_000000_later.up.sql":  {Data: []byte("CREATE TABLE later_table (id INTEGER);")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() error = nil, want failure")
	}
	if !tableExists(t, db, "ok_table") {
		t.Error("migration before the failure should stay applied")
	}
	if tableExists(t, db, "later_table") {
		t.Error("migration after the failure should not run")
	}
}

func TestLoadMigrationsRejectsOrphanDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})

	if _, err := loadMigrations(); err == nil {
		t.Error("loadMigrations() error = nil, want orphan down error")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260101_000000_wash_logs.up.sql", "20260101_000000", true, true},
		{"20260101_000000_wash_logs.down.sql", "20260101_000000", false, true},
		{"readme.txt", "", false, false},
		{"20260101_000000_wash_logs.sql", "", false, false},
		{"invalid.up.sql", "", false, false},
		{"2026_01_x.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk || version != tt.wantVersion || isUp != tt.wantIsUp {
				t.Errorf("parseMigrationFilename(%q) = (%q, %v, %v), want (%q, %v, %v)",
					tt.filename, version, isUp, ok, tt.wantVersion, tt.wantIsUp, tt.wantOk)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := map[string]string{
		"20260101_000000_wash_logs.up.sql":   "wash_logs",
		"20260101_000001_bay_state.down.sql": "bay_state",
	}
	for filename, want := range tests {
		if got := extractMigrationName(filename); got != want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", filename, got, want)
		}
	}
}
