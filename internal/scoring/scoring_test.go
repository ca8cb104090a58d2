package scoring

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"benchorch/internal/dataset"
	"benchorch/internal/sqlbox"
)

func TestNormalizeRowsNullHandling(t *testing.T) {
	rows := [][]any{
		{int64(1), nil, "alice"},
		{int64(2), "x", nil},
	}
	got := normalizeRows(rows)
	if len(got) != 2 {
		t.Fatalf("normalizeRows() returned %d rows, want 2", len(got))
	}
	want0 := "1\x1fNULL\x1falice"
	if got[0] != want0 {
		t.Errorf("normalizeRows()[0] = %q, want %q", got[0], want0)
	}
	want1 := "2\x1fx\x1fNULL"
	if got[1] != want1 {
		t.Errorf("normalizeRows()[1] = %q, want %q", got[1], want1)
	}
}

func TestRowsEqualOrderInsensitiveAfterSort(t *testing.T) {
	// rowsEqual itself is order-sensitive; the order-insensitivity comes
	// from sorting both sides first, as Score does.
	a := []string{"1", "2", "3"}
	b := []string{"1", "2", "3"}
	if !rowsEqual(a, b) {
		t.Errorf("rowsEqual(%v, %v) = false, want true", a, b)
	}

	c := []string{"1", "2"}
	if rowsEqual(a, c) {
		t.Errorf("rowsEqual(%v, %v) = true, want false (length mismatch)", a, c)
	}

	d := []string{"1", "2", "4"}
	if rowsEqual(a, d) {
		t.Errorf("rowsEqual(%v, %v) = true, want false (value mismatch)", a, d)
	}
}

func seedEngine(t *testing.T, datasetID string) *Engine {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, datasetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, datasetID+".db"))
	if err != nil {
		t.Fatalf("opening seed db: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE singer (id INTEGER, name TEXT)`,
		`INSERT INTO singer VALUES (2, 'bob')`,
		`INSERT INTO singer VALUES (1, 'alice')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seeding db: %v", err)
		}
	}

	sandbox := sqlbox.New(dataset.New(root), nil)
	return New(sandbox)
}

func TestScoreOrderInsensitiveMatch(t *testing.T) {
	engine := seedEngine(t, "bird_dev")

	verdict, err := engine.Score(context.Background(), "bird_dev",
		"SELECT name FROM singer ORDER BY id DESC",
		"SELECT name FROM singer ORDER BY id ASC")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if verdict.IsCorrect == nil || !*verdict.IsCorrect {
		t.Errorf("Score().IsCorrect = %v, want true (row order must not matter)", verdict.IsCorrect)
	}
	if verdict.MatchKind != MatchSortedStringRows {
		t.Errorf("Score().MatchKind = %q, want %q", verdict.MatchKind, MatchSortedStringRows)
	}
}

func TestScoreExecFailure(t *testing.T) {
	engine := seedEngine(t, "bird_dev")

	verdict, err := engine.Score(context.Background(), "bird_dev",
		"SELEKT name FROM singer",
		"SELECT name FROM singer")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if verdict.IsCorrect != nil {
		t.Errorf("Score().IsCorrect = %v, want nil when predicted SQL fails to execute", verdict.IsCorrect)
	}
	if verdict.MatchKind != MatchExecFailed {
		t.Errorf("Score().MatchKind = %q, want %q", verdict.MatchKind, MatchExecFailed)
	}
	if verdict.PredExecSuccess {
		t.Error("Score().PredExecSuccess = true for invalid SQL, want false")
	}
}

func TestToStringValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "string passthrough", in: "hello", want: "hello"},
		{name: "byte slice", in: []byte("hello"), want: "hello"},
		{name: "int64 fallback", in: int64(42), want: "42"},
		{name: "float fallback", in: 3.5, want: "3.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toStringValue(tt.in); got != tt.want {
				t.Errorf("toStringValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
