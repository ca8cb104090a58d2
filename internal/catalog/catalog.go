// Package catalog implements the Question Catalog (QC): a read-only
// store over questions tagged by dataset and source split, plus
// deterministic schema-text rendering for prompt assembly.
package catalog

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/lib/pq"

	"benchorch/internal/model"
)

// Catalog is backed by a Postgres database holding the question and
// schema-metadata tables, grounded on the original's Spider catalog
// tables (spider_tables/spider_columns/spider_primary_keys/spider_foreign_keys).
type Catalog struct {
	db *sql.DB

	mu       sync.Mutex
	memoized map[string]model.SchemaText
}

func Open(dsn string) (*Catalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening connection: %w", err)
	}
	return &Catalog{db: db, memoized: make(map[string]model.SchemaText)}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// List returns questions ordered by (source split, source index),
// optionally filtered, with limit/offset pagination.
func (c *Catalog) List(split, datasetID string, limit, offset int) ([]model.Question, error) {
	where := []string{}
	args := []any{}
	n := 1
	if split != "" {
		where = append(where, fmt.Sprintf("source_split = $%d", n))
		args = append(args, split)
		n++
	}
	if datasetID != "" {
		where = append(where, fmt.Sprintf("dataset_id = $%d", n))
		args = append(args, datasetID)
		n++
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, dataset_id, question, gold_sql, source_split, source_index
		FROM bench_questions
		%s
		ORDER BY source_split ASC, source_index ASC
		LIMIT $%d OFFSET $%d`, whereSQL, n, n+1)
	args = append(args, limit, offset)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var q model.Question
		var gold sql.NullString
		if err := rows.Scan(&q.ID, &q.DatasetID, &q.Text, &gold, &q.SourceSplit, &q.SourceIndex); err != nil {
			return nil, err
		}
		q.GoldSQL = gold.String
		out = append(out, q)
	}
	return out, rows.Err()
}

// ByID returns a single question, or nil if it does not exist.
func (c *Catalog) ByID(id int64) (*model.Question, error) {
	row := c.db.QueryRow(`
		SELECT id, dataset_id, question, gold_sql, source_split, source_index
		FROM bench_questions WHERE id = $1`, id)

	var q model.Question
	var gold sql.NullString
	if err := row.Scan(&q.ID, &q.DatasetID, &q.Text, &gold, &q.SourceSplit, &q.SourceIndex); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	q.GoldSQL = gold.String
	return &q, nil
}

// SchemaTextOptions mirrors the original's build_schema_text parameters.
type SchemaTextOptions struct {
	UseOriginalNames    bool
	IncludeTypes        bool
	MaxColumnsPerTable  int // 0 means unlimited
	MaxTotalChars       int // 0 means unlimited
}

func (o SchemaTextOptions) cacheKey(datasetID string) string {
	return fmt.Sprintf("%s|%v|%v|%d|%d", datasetID, o.UseOriginalNames, o.IncludeTypes, o.MaxColumnsPerTable, o.MaxTotalChars)
}

type tableRow struct {
	id   int64
	name string
}

type columnRow struct {
	name string
	typ  string
}

// SchemaText renders a compact, deterministic textual schema for
// datasetID. Memoized per (dataset id, options) within the process.
func (c *Catalog) SchemaText(datasetID string, opts SchemaTextOptions) (string, error) {
	key := opts.cacheKey(datasetID)

	c.mu.Lock()
	if cached, ok := c.memoized[key]; ok {
		c.mu.Unlock()
		return cached.Text, nil
	}
	c.mu.Unlock()

	nameField := "name"
	if opts.UseOriginalNames {
		nameField = "name_original"
	}

	tableRows, err := c.db.Query(fmt.Sprintf(`
		SELECT table_id, %s FROM bench_tables WHERE dataset_id = $1 ORDER BY table_id`, nameField), datasetID)
	if err != nil {
		return "", err
	}
	var tables []tableRow
	for tableRows.Next() {
		var t tableRow
		if err := tableRows.Scan(&t.id, &t.name); err != nil {
			tableRows.Close()
			return "", err
		}
		tables = append(tables, t)
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("catalog: unknown dataset id or no tables found: %s", datasetID)
	}

	colRows, err := c.db.Query(fmt.Sprintf(`
		SELECT table_id, %s, col_type FROM bench_columns
		WHERE dataset_id = $1 AND table_id IS NOT NULL ORDER BY table_id, column_id`, nameField), datasetID)
	if err != nil {
		return "", err
	}
	colsByTable := make(map[int64][]columnRow)
	for colRows.Next() {
		var tid int64
		var col columnRow
		if err := colRows.Scan(&tid, &col.name, &col.typ); err != nil {
			colRows.Close()
			return "", err
		}
		colsByTable[tid] = append(colsByTable[tid], col)
	}
	colRows.Close()
	if err := colRows.Err(); err != nil {
		return "", err
	}

	text := renderSchemaText(datasetID, tables, colsByTable, opts)

	c.mu.Lock()
	c.memoized[key] = model.SchemaText{DatasetID: datasetID, Text: text}
	c.mu.Unlock()

	return text, nil
}

func renderSchemaText(datasetID string, tables []tableRow, colsByTable map[int64][]columnRow, opts SchemaTextOptions) string {
	var b strings.Builder
	b.WriteString("You are given the following database schema.\n\n")
	b.WriteString(fmt.Sprintf("Database: %s\n\n", datasetID))
	b.WriteString("Tables:\n")

	sort.Slice(tables, func(i, j int) bool { return tables[i].id < tables[j].id })

	for _, t := range tables {
		cols := colsByTable[t.id]
		shown := cols
		omitted := 0
		if opts.MaxColumnsPerTable > 0 && len(cols) > opts.MaxColumnsPerTable {
			shown = cols[:opts.MaxColumnsPerTable]
			omitted = len(cols) - opts.MaxColumnsPerTable
		}

		parts := make([]string, len(shown))
		for i, c := range shown {
			if opts.IncludeTypes {
				parts[i] = fmt.Sprintf("%s:%s", c.name, c.typ)
			} else {
				parts[i] = c.name
			}
		}
		colsTxt := strings.Join(parts, ", ")
		if omitted > 0 {
			colsTxt = fmt.Sprintf("%s, … (+%d more)", colsTxt, omitted)
		}
		b.WriteString(fmt.Sprintf("  - %s(%s)\n", t.name, colsTxt))
	}

	out := b.String()
	if opts.MaxTotalChars > 0 && len(out) > opts.MaxTotalChars {
		out = out[:opts.MaxTotalChars] + " …[truncated]"
	}
	return out
}
