// Package scoring implements the Scoring Engine (SE): it runs a
// predicted and a gold SQL statement through the SQL Sandbox and
// produces a structured comparison verdict.
package scoring

import (
	"context"
	"sort"
	"strings"
	"time"

	"benchorch/internal/sqlbox"
)

// Verdict is the structured comparison result, denormalized for
// cheap leaderboard aggregation when persisted as a RunItem.
type Verdict struct {
	PredExecSuccess bool
	GoldExecSuccess bool
	IsCorrect       *bool // nil == "unknown"
	PredError       string
	GoldError       string
	RowsPred        *int
	RowsGold        *int
	MatchKind       string
	PredExecTimeMS  float64
	GoldExecTimeMS  float64
	ScoringTimeMS   float64
}

const (
	MatchSortedStringRows = "sorted_string_rows"
	MatchExecFailed       = "exec_failed"
)

// Engine scores predicted SQL against gold SQL for a dataset.
type Engine struct {
	Sandbox *sqlbox.Sandbox
	Kind    sqlbox.Kind // sandbox kind to execute both statements under; Relational by default
}

func New(sb *sqlbox.Sandbox) *Engine {
	return &Engine{Sandbox: sb, Kind: sqlbox.Relational}
}

// Score executes predSQL and goldSQL independently against datasetID and
// compares their output with the sorted-string-rows rule.
//
// Per spec §5, the two executions may run sequentially (default here,
// simpler) or concurrently against independent read-only connections —
// both are correct since each reads an immutable snapshot.
func (e *Engine) Score(ctx context.Context, datasetID, predSQL, goldSQL string) (*Verdict, error) {
	t0 := time.Now()

	kind := e.Kind
	if kind == "" {
		kind = sqlbox.Relational
	}

	pred, err := e.Sandbox.Execute(ctx, kind, datasetID, predSQL, sqlbox.Options{})
	if err != nil {
		return nil, err
	}
	gold, err := e.Sandbox.Execute(ctx, kind, datasetID, goldSQL, sqlbox.Options{})
	if err != nil {
		return nil, err
	}

	scoringMS := time.Since(t0).Seconds() * 1000

	if !pred.Success || !gold.Success {
		return &Verdict{
			PredExecSuccess: pred.Success,
			GoldExecSuccess: gold.Success,
			IsCorrect:       nil,
			PredError:       pred.Error,
			GoldError:       gold.Error,
			MatchKind:       MatchExecFailed,
			PredExecTimeMS:  pred.ElapsedMS,
			GoldExecTimeMS:  gold.ElapsedMS,
			ScoringTimeMS:   scoringMS,
		}, nil
	}

	predRows := normalizeRows(pred.OutputRows)
	goldRows := normalizeRows(gold.OutputRows)
	sort.Strings(predRows)
	sort.Strings(goldRows)

	ok := rowsEqual(predRows, goldRows)
	nPred := len(pred.OutputRows)
	nGold := len(gold.OutputRows)

	return &Verdict{
		PredExecSuccess: true,
		GoldExecSuccess: true,
		IsCorrect:       &ok,
		RowsPred:        &nPred,
		RowsGold:        &nGold,
		MatchKind:       MatchSortedStringRows,
		PredExecTimeMS:  pred.ElapsedMS,
		GoldExecTimeMS:  gold.ElapsedMS,
		ScoringTimeMS:   scoringMS,
	}, nil
}

// normalizeRows converts each row to a single delimited string tuple,
// with NULL as the literal "NULL", so that sorting and equality are
// simple string operations. A control-character delimiter keeps field
// boundaries unambiguous without escaping.
func normalizeRows(rows [][]any) []string {
	const sep = "\x1f"
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				parts[i] = "NULL"
			} else {
				parts[i] = toStringValue(v)
			}
		}
		out = append(out, strings.Join(parts, sep))
	}
	return out
}

func rowsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toStringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return toStringFallback(x)
	}
}
