package sqlbox

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// executeColumnar runs code against a directory of columnar table files.
// Each <table>.csv in dir is materialized into an in-memory SQLite
// session (read-write during load, then treated as the read-only
// snapshot the statement executes against), mirroring how the original
// Python backend loads parquet-like files into a query engine per call.
func executeColumnar(ctx context.Context, dir, code string, opts Options) (*Result, error) {
	t0 := time.Now()

	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return connectError(t0, err), nil
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := loadTables(ctx, db, dir); err != nil {
		return &Result{Success: false, ElapsedMS: time.Since(t0).Seconds() * 1000, Error: err.Error(), ErrorKind: ErrRuntimeError}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	tx, err := db.BeginTx(runCtx, &sql.TxOptions{ReadOnly: false})
	if err != nil {
		return connectError(t0, err), nil
	}
	defer tx.Rollback()

	return runQuery(runCtx, tx.QueryContext, code, opts, t0)
}

// loadTables reads every *.csv file in dir and loads it as a table named
// after the file stem, with all columns typed TEXT; no column type
// inference is performed.
func loadTables(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		table := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if err := loadOneTable(ctx, db, filepath.Join(dir, e.Name()), table); err != nil {
			return fmt.Errorf("loading table %s: %w", table, err)
		}
	}
	return nil
}

func loadOneTable(ctx context.Context, db *sql.DB, path, table string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return err
	}

	quoted := make([]string, len(header))
	for i, h := range header {
		quoted[i] = `"` + strings.ReplaceAll(h, `"`, `""`) + `"`
	}
	createSQL := fmt.Sprintf(`CREATE TABLE "%s" (%s)`, table, strings.Join(quotedWithType(quoted), ", "))
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return err
	}

	placeholders := strings.Repeat("?, ", len(header))
	placeholders = strings.TrimSuffix(placeholders, ", ")
	insertSQL := fmt.Sprintf(`INSERT INTO "%s" VALUES (%s)`, table, placeholders)

	stmt, err := db.PrepareContext(ctx, insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		args := make([]any, len(record))
		for i, v := range record {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func quotedWithType(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c + " TEXT"
	}
	return out
}
