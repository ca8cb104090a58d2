package sqlbox

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// executeSQLite runs code against the dataset's primary .db file in a
// read-only transaction, rolling back on every exit path.
func executeSQLite(ctx context.Context, path, code string, opts Options) (*Result, error) {
	t0 := time.Now()

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(2000)")
	if err != nil {
		return connectError(t0, err), nil
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return connectError(t0, err), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	tx, err := db.BeginTx(runCtx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return connectError(t0, err), nil
	}
	defer tx.Rollback()

	return runQuery(runCtx, tx.QueryContext, code, opts, t0)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func runQuery(ctx context.Context, q queryFunc, code string, opts Options, t0 time.Time) (*Result, error) {
	rows, err := q(ctx, code)
	if err != nil {
		elapsed := time.Since(t0).Seconds() * 1000
		if ctx.Err() == context.DeadlineExceeded {
			return &Result{Success: false, ElapsedMS: elapsed, Error: "timeout", ErrorKind: ErrTimeoutExceeded}, nil
		}
		return &Result{Success: false, ElapsedMS: elapsed, Error: err.Error(), ErrorKind: classifyError(err)}, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return &Result{Success: false, ElapsedMS: time.Since(t0).Seconds() * 1000, Error: err.Error(), ErrorKind: ErrRuntimeError}, nil
	}

	batch := opts.batchSize()
	max := opts.maxRows()
	out := make([][]any, 0, batch)
	truncated := false

	for rows.Next() {
		if len(out) >= max {
			truncated = true
			break
		}
		if ctx.Err() != nil {
			return &Result{Success: false, ElapsedMS: time.Since(t0).Seconds() * 1000, Error: "timeout", ErrorKind: ErrTimeoutExceeded}, nil
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return &Result{Success: false, ElapsedMS: time.Since(t0).Seconds() * 1000, Error: err.Error(), ErrorKind: ErrRuntimeError}, nil
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return &Result{Success: false, ElapsedMS: time.Since(t0).Seconds() * 1000, Error: err.Error(), ErrorKind: ErrRuntimeError}, nil
	}

	return &Result{
		Success:       true,
		OutputRows:    out,
		ColumnNames:   cols,
		ElapsedMS:     time.Since(t0).Seconds() * 1000,
		RowsTruncated: truncated,
		ErrorKind:     ifTruncated(truncated),
	}, nil
}

func ifTruncated(t bool) string {
	if t {
		return ErrRowLimitExceeded
	}
	return ""
}

func connectError(t0 time.Time, err error) *Result {
	return &Result{
		Success:   false,
		ElapsedMS: time.Since(t0).Seconds() * 1000,
		Error:     err.Error(),
		ErrorKind: ErrConnectError,
	}
}

func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax"), strings.Contains(msg, "near"):
		return ErrSyntaxError
	case strings.Contains(msg, "interrupt"), strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return ErrTimeoutExceeded
	case strings.Contains(msg, "connect"), strings.Contains(msg, "connection"):
		return ErrConnectError
	default:
		return ErrRuntimeError
	}
}
