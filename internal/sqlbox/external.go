package sqlbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// executeExternal runs code against a database reached over the network,
// reusing datasetID as the logical database name — the same pattern the
// original Postgres-backed executor used ("dsn_base + dbname=<db_id>").
// Portability across deployments where the dataset id is not a valid
// database name is intentionally unspecified, per spec §9.
func (s *Sandbox) executeExternal(ctx context.Context, datasetID, code string, opts Options) (*Result, error) {
	t0 := time.Now()

	engine := opts.Engine
	if engine == "" {
		engine = EnginePostgres
	}

	if s.External == nil {
		return &Result{Success: false, ElapsedMS: 0, Error: "external relational config not set", ErrorKind: ErrConnectError}, nil
	}

	var driver, dsn string
	switch engine {
	case EnginePostgres:
		driver = "postgres"
		base := opts.DSN
		if base == "" {
			base = s.External.PostgresDSNBase
		}
		dsn = fmt.Sprintf("%s dbname=%s", base, datasetID)
	case EngineMySQL:
		driver = "mysql"
		base := opts.DSN
		if base == "" {
			base = s.External.MySQLDSNBase
		}
		dsn = base + datasetID + "?parseTime=true"
	default:
		return &Result{Success: false, Error: fmt.Sprintf("unknown external engine: %s", engine), ErrorKind: ErrRuntimeError}, nil
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return connectError(t0, err), nil
	}
	defer db.Close()
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		return connectError(t0, err), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	conn, err := db.Conn(runCtx)
	if err != nil {
		return connectError(t0, err), nil
	}
	defer conn.Close()

	if err := beginReadOnly(runCtx, conn, engine, opts); err != nil {
		return connectError(t0, err), nil
	}
	defer conn.ExecContext(context.Background(), "ROLLBACK")

	res, _ := runQuery(runCtx, conn.QueryContext, code, opts, t0)
	return res, nil
}

// beginReadOnly opens a read-only transaction with a statement-level
// timeout enforced by the engine itself (Postgres statement_timeout,
// MySQL session MAX_EXECUTION_TIME), belt-and-braces alongside the
// context deadline SB always applies.
func beginReadOnly(ctx context.Context, conn *sql.Conn, engine Engine, opts Options) error {
	switch engine {
	case EnginePostgres:
		if _, err := conn.ExecContext(ctx, "BEGIN READ ONLY"); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", int(opts.timeout().Milliseconds())))
		return err
	case EngineMySQL:
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME = %d", int(opts.timeout().Milliseconds()))); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, "START TRANSACTION READ ONLY")
		return err
	default:
		return fmt.Errorf("unknown engine: %s", engine)
	}
}
