// Package sqlbox implements the SQL Sandbox (SB): deterministic,
// timeout-bound, read-only execution of a single SQL statement against a
// dataset. Execution errors are returned as data in Result, never as a
// Go error from Execute; the one exception is a dataset id the Locator
// cannot resolve, which Execute returns as a Go error.
package sqlbox

import (
	"context"
	"fmt"
	"time"

	"benchorch/internal/dataset"
)

// Kind names the storage engine a statement is executed against.
type Kind string

const (
	Relational         Kind = "relational"
	Columnar           Kind = "columnar"
	ExternalRelational Kind = "external_relational"
)

// Engine selects which driver backs an ExternalRelational execution.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

// Options bounds one execution.
type Options struct {
	TimeoutMS int // wall-clock bound; 0 means DefaultTimeoutMS
	MaxRows   int // row cap; 0 means DefaultMaxRows
	BatchSize int // initial capacity of the row buffer (rows are read one at a time); 0 means DefaultBatchSize

	// Engine only applies to ExternalRelational; default EnginePostgres.
	Engine Engine
	// DSN overrides the default connection string built from dataset id;
	// used by ExternalRelational. Empty means "build from config".
	DSN string
}

const (
	DefaultTimeoutMS = 2500
	DefaultBatchSize = 200
	DefaultMaxRows   = 2000
)

func (o Options) timeout() time.Duration {
	ms := o.TimeoutMS
	if ms <= 0 {
		ms = DefaultTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

func (o Options) maxRows() int {
	if o.MaxRows <= 0 {
		return DefaultMaxRows
	}
	if o.MaxRows > DefaultMaxRows {
		return DefaultMaxRows
	}
	return o.MaxRows
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Result is the unified outcome of executing one statement. It is always
// populated — Success=false plus Error describes a failure; an execution
// fault is never returned as a Go error to the caller of Execute.
type Result struct {
	Success      bool
	OutputRows   [][]any
	ColumnNames  []string
	ElapsedMS    float64
	Error        string
	ErrorKind    string // one of the taxonomy below; "" on success, except ErrRowLimitExceeded when rows were truncated
	RowsTruncated bool
}

// Error taxonomy. These never escape as Go errors from Execute; they are
// recorded into Result.ErrorKind/Result.Error as data.
const (
	ErrTimeoutExceeded = "TimeoutExceeded"
	ErrRowLimitExceeded = "RowLimitExceeded" // soft: truncated, Success=true
	ErrSyntaxError     = "SyntaxError"
	ErrRuntimeError    = "RuntimeError"
	ErrConnectError    = "ConnectError"
)

// DatasetNotFound is this package's not-found error type. Execute does
// not return it: an unresolvable dataset id surfaces as the Locator's
// *dataset.NotFoundError, the one case SB reports as a Go error, since
// it is a precondition failure rather than an execution-time fault.
type DatasetNotFound struct {
	DatasetID string
}

func (e *DatasetNotFound) Error() string {
	return fmt.Sprintf("sqlbox: dataset not found: %s", e.DatasetID)
}

// Sandbox executes statements against datasets resolved by a Locator.
type Sandbox struct {
	Locator  *dataset.Locator
	External *ExternalConfig
}

// ExternalConfig carries the connection parameters for ExternalRelational
// kind, mirroring the original's "dsn_base + dbname=<db_id>" pattern: the
// dataset id is reused as the logical database name.
type ExternalConfig struct {
	PostgresDSNBase string // e.g. "host=localhost user=bench password=bench sslmode=disable"
	MySQLDSNBase    string // e.g. "bench:bench@tcp(localhost:3306)/"
}

func New(locator *dataset.Locator, external *ExternalConfig) *Sandbox {
	return &Sandbox{Locator: locator, External: external}
}

// Execute runs code (a single statement) of the given kind against
// datasetID and returns a Result. It never returns a non-nil error for
// execution-time faults; only the Locator's *dataset.NotFoundError (a
// precondition failure) is returned as an error.
func (s *Sandbox) Execute(ctx context.Context, kind Kind, datasetID, code string, opts Options) (*Result, error) {
	switch kind {
	case Relational:
		path, err := s.Locator.SqlitePath(datasetID)
		if err != nil {
			return nil, err
		}
		return executeSQLite(ctx, path, code, opts)
	case Columnar:
		dir, err := s.Locator.TableDir(datasetID)
		if err != nil {
			return nil, err
		}
		return executeColumnar(ctx, dir, code, opts)
	case ExternalRelational:
		return s.executeExternal(ctx, datasetID, code, opts)
	default:
		return &Result{
			Success:   false,
			Error:     fmt.Sprintf("unknown sandbox kind: %s", kind),
			ErrorKind: ErrRuntimeError,
		}, nil
	}
}
