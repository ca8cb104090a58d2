package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocatorSqlitePath(t *testing.T) {
	root := t.TempDir()
	dsDir := filepath.Join(root, "bird_dev")
	if err := os.MkdirAll(dsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	dbFile := filepath.Join(dsDir, "bird_dev.db")
	if err := os.WriteFile(dbFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := New(root)

	path, err := l.SqlitePath("bird_dev")
	if err != nil {
		t.Fatalf("SqlitePath: %v", err)
	}
	if filepath.Base(path) != "bird_dev.db" {
		t.Errorf("SqlitePath() = %q, want basename bird_dev.db", path)
	}

	if _, err := l.SqlitePath("missing_dataset"); err == nil {
		t.Error("SqlitePath(missing_dataset) expected error, got nil")
	}
}

func TestLocatorTableDir(t *testing.T) {
	root := t.TempDir()
	dsDir := filepath.Join(root, "spider_dev")
	if err := os.MkdirAll(dsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	l := New(root)

	dir, err := l.TableDir("spider_dev")
	if err != nil {
		t.Fatalf("TableDir: %v", err)
	}
	if filepath.Base(dir) != "spider_dev" {
		t.Errorf("TableDir() = %q, want basename spider_dev", dir)
	}

	if _, err := l.TableDir("missing_dataset"); err == nil {
		t.Error("TableDir(missing_dataset) expected error, got nil")
	}
}

func TestLocatorExists(t *testing.T) {
	root := t.TempDir()

	dbDsDir := filepath.Join(root, "has_db")
	if err := os.MkdirAll(dbDsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dbDsDir, "has_db.db"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tableDsDir := filepath.Join(root, "has_tables")
	if err := os.MkdirAll(tableDsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tableDsDir, "singer.csv"), []byte("id,name\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	emptyDsDir := filepath.Join(root, "empty")
	if err := os.MkdirAll(emptyDsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	l := New(root)

	if !l.Exists("has_db") {
		t.Error("Exists(has_db) = false, want true")
	}
	if !l.Exists("has_tables") {
		t.Error("Exists(has_tables) = false, want true")
	}
	if l.Exists("empty") {
		t.Error("Exists(empty) = true, want false")
	}
	if l.Exists("nonexistent") {
		t.Error("Exists(nonexistent) = true, want false")
	}
}
