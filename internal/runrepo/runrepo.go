// Package runrepo implements the Run Repository (RR): persistence of run
// headers, the per-event log, and per-item enriched results. Grounded on
// the original's PostgresRepository, generalized to the bench_runs/
// bench_events/bench_items schemas of spec §6.4.
package runrepo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"benchorch/internal/model"
)

// Repository persists runs, events, and items. Per-operation calls are
// atomic; across-run operations may proceed concurrently, but per-run
// operations must be serialized by the caller (the Streaming
// Coordinator owns exactly one goroutine per run).
type Repository struct {
	db *sql.DB
}

func Open(dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("runrepo: opening connection: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// Schema creates the tables of spec §6.4 if they do not already exist.
// The teacher and the rest of the pack use no migration framework
// beyond raw SQL (see DESIGN.md), so this stays a plain idempotent DDL
// statement run at startup.
func (r *Repository) Schema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS bench_runs (
			run_id      UUID PRIMARY KEY,
			model_id    TEXT NOT NULL,
			revision    TEXT NOT NULL,
			db_id       TEXT NOT NULL,
			params_json JSONB NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			ended_at    TIMESTAMPTZ,
			status      TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS bench_events (
			run_id      UUID NOT NULL REFERENCES bench_runs(run_id),
			sequence    BIGINT NOT NULL,
			kind        TEXT NOT NULL,
			payload_json JSONB NOT NULL,
			at          TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, sequence)
		);
		CREATE TABLE IF NOT EXISTS bench_items (
			run_id             UUID NOT NULL REFERENCES bench_runs(run_id),
			index              BIGINT NOT NULL,
			question_id        BIGINT NOT NULL,
			db_id              TEXT NOT NULL,
			source_index       BIGINT,
			raw_answer         TEXT,
			sql                TEXT,
			gold_sql           TEXT,
			gen_time_ms        DOUBLE PRECISION,
			metrics_json       JSONB,
			pred_exec_success  BOOLEAN,
			gold_exec_success  BOOLEAN,
			is_correct         BOOLEAN,
			pred_error         TEXT,
			gold_error         TEXT,
			rows_pred          INTEGER,
			rows_gold          INTEGER,
			match_kind         TEXT,
			PRIMARY KEY (run_id, index)
		);
	`)
	return err
}

// CreateRun persists a new run header with status "running".
func (r *Repository) CreateRun(run model.Run) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO bench_runs (run_id, model_id, revision, db_id, params_json, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.ModelRef.Identifier, run.ModelRef.Revision, run.DatasetID, params, run.StartedAt, model.StatusRunning)
	return err
}

// EndRun sets the run's terminal status and ended-at timestamp. The
// repository must record a terminal status exactly once; callers must
// not call EndRun twice for the same run.
func (r *Repository) EndRun(runID string, status model.Status) error {
	_, err := r.db.Exec(`UPDATE bench_runs SET status = $1, ended_at = $2 WHERE run_id = $3`,
		status, time.Now(), runID)
	return err
}

// LogEvent appends one event. Sequence must be supplied by the caller
// (the coordinator owns the strictly-increasing sequence counter for a
// run) so persistence order and downstream emission order can be
// proven identical.
func (r *Repository) LogEvent(runID string, sequence int64, kind model.EventKind, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO bench_events (run_id, sequence, kind, payload_json, at)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, sequence, string(kind), data, time.Now())
	return err
}

// InsertItem persists one enriched per-question result.
func (r *Repository) InsertItem(item model.RunItem) error {
	metrics, err := json.Marshal(item.Metrics)
	if err != nil {
		return err
	}

	var predSuccess, goldSuccess, isCorrect sql.NullBool
	var predErr, goldErr, matchKind sql.NullString
	var rowsPred, rowsGold sql.NullInt64

	if item.Verdict != nil {
		predSuccess = sql.NullBool{Bool: item.Verdict.PredExecSuccess, Valid: true}
		goldSuccess = sql.NullBool{Bool: item.Verdict.GoldExecSuccess, Valid: true}
		if item.Verdict.IsCorrect != nil {
			isCorrect = sql.NullBool{Bool: *item.Verdict.IsCorrect, Valid: true}
		}
		predErr = sql.NullString{String: item.Verdict.PredError, Valid: item.Verdict.PredError != ""}
		goldErr = sql.NullString{String: item.Verdict.GoldError, Valid: item.Verdict.GoldError != ""}
		matchKind = sql.NullString{String: item.Verdict.MatchKind, Valid: item.Verdict.MatchKind != ""}
		if item.Verdict.RowsPred != nil {
			rowsPred = sql.NullInt64{Int64: int64(*item.Verdict.RowsPred), Valid: true}
		}
		if item.Verdict.RowsGold != nil {
			rowsGold = sql.NullInt64{Int64: int64(*item.Verdict.RowsGold), Valid: true}
		}
	}

	_, err = r.db.Exec(`
		INSERT INTO bench_items (
			run_id, index, question_id, db_id, raw_answer, sql, gold_sql, gen_time_ms, metrics_json,
			pred_exec_success, gold_exec_success, is_correct, pred_error, gold_error, rows_pred, rows_gold, match_kind
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		item.RunID, item.Index, item.QuestionID, item.DatasetID, item.RawAnswer, item.PredictedSQL, item.GoldSQL,
		item.GenTimeMS, metrics, predSuccess, goldSuccess, isCorrect, predErr, goldErr, rowsPred, rowsGold, matchKind)
	return err
}

// NewRunID mints a fresh run id. The coordinator creates this id and
// returns it in the `meta` event before any other event is emitted,
// per spec §9's resolution of the source's divergent session-id
// conventions.
func NewRunID() string {
	return uuid.NewString()
}
