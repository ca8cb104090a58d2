package sqlbox

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"benchorch/internal/dataset"
)

func seedSingerDB(t *testing.T, root, datasetID string) {
	t.Helper()
	dir := filepath.Join(root, datasetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, datasetID+".db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening seed db: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE singer (id INTEGER, name TEXT)`,
		`INSERT INTO singer VALUES (1, 'alice')`,
		`INSERT INTO singer VALUES (2, 'bob')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seeding db: %v", err)
		}
	}
}

func TestSandboxExecuteRelationalSuccess(t *testing.T) {
	root := t.TempDir()
	seedSingerDB(t, root, "bird_dev")

	sb := New(dataset.New(root), nil)
	res, err := sb.Execute(context.Background(), Relational, "bird_dev", "SELECT COUNT(*) FROM singer", Options{})
	if err != nil {
		t.Fatalf("Execute returned a Go error: %v (SB must never surface execution faults this way)", err)
	}
	if !res.Success {
		t.Fatalf("Execute() Success = false, Error = %s", res.Error)
	}
	if len(res.OutputRows) != 1 || res.OutputRows[0][0] != int64(2) {
		t.Errorf("Execute() rows = %v, want [[2]]", res.OutputRows)
	}
}

func TestSandboxExecuteRelationalSyntaxError(t *testing.T) {
	root := t.TempDir()
	seedSingerDB(t, root, "bird_dev")

	sb := New(dataset.New(root), nil)
	res, err := sb.Execute(context.Background(), Relational, "bird_dev", "SELEKT * FROM singer", Options{})
	if err != nil {
		t.Fatalf("Execute returned a Go error: %v", err)
	}
	if res.Success {
		t.Fatal("Execute() Success = true for invalid SQL, want false")
	}
	if res.ErrorKind == "" {
		t.Error("Execute() ErrorKind is empty on failure")
	}
}

func TestSandboxExecuteUnknownDatasetIsAGoError(t *testing.T) {
	root := t.TempDir()
	sb := New(dataset.New(root), nil)

	_, err := sb.Execute(context.Background(), Relational, "does_not_exist", "SELECT 1", Options{})
	if err == nil {
		t.Fatal("Execute() with an unknown dataset id returned nil error, want *dataset.NotFoundError")
	}
	var notFound *dataset.NotFoundError
	if _, ok := err.(*dataset.NotFoundError); !ok {
		_ = notFound
		t.Errorf("Execute() error = %T, want *dataset.NotFoundError", err)
	}
}

func TestSandboxExecuteRowLimitExceededIsSoftTruncation(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "many_rows")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "many_rows.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening seed db: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE t (n INTEGER)`); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := db.Exec(`INSERT INTO t VALUES (?)`, i); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	sb := New(dataset.New(root), nil)
	res, err := sb.Execute(context.Background(), Relational, "many_rows", "SELECT n FROM t", Options{MaxRows: 3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute() Success = false on row-limit truncation, want true (soft truncation); Error=%s", res.Error)
	}
	if !res.RowsTruncated {
		t.Error("Execute() RowsTruncated = false, want true")
	}
	if res.ErrorKind != ErrRowLimitExceeded {
		t.Errorf("Execute() ErrorKind = %q, want %q", res.ErrorKind, ErrRowLimitExceeded)
	}
	if len(res.OutputRows) != 3 {
		t.Errorf("Execute() returned %d rows, want 3", len(res.OutputRows))
	}
}

func TestSandboxExecuteTimeoutExceeded(t *testing.T) {
	root := t.TempDir()
	seedSingerDB(t, root, "bird_dev")

	sb := New(dataset.New(root), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	res, err := sb.Execute(ctx, Relational, "bird_dev", "SELECT * FROM singer", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("Execute() Success = true with an already-expired context, want false")
	}
}
