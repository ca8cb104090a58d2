// Package coordinator implements the Streaming Coordinator (SC): the
// core component that opens a run, relays the upstream worker's event
// sequence downstream with scoring enrichment fused in, and persists
// every event before it is released to the caller. Grounded almost
// line for line on the original's GlobalBenchmarkStreamService.stream.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"benchorch/internal/events"
	"benchorch/internal/model"
	"benchorch/internal/obslog"
	"benchorch/internal/runrepo"
	"benchorch/internal/workerselect"
)

// Deps are the Streaming Coordinator's collaborators. All are ports;
// the coordinator owns no concrete resource itself. Logger is optional:
// a nil Logger disables run-lifecycle logging.
type Deps struct {
	Selector   workerselect.Selector
	Repo       *runrepo.Repository
	ScorePool  *ScorePool
	HTTPClient *http.Client
	Logger     *obslog.Logger
}

// Coordinator drives one or more independent runs. A Coordinator value
// has no per-run state; Stream is safe to call concurrently for
// distinct runs, serialized only by what its Deps themselves serialize
// (the accelerator slot, sitting behind the worker process, not here).
type Coordinator struct {
	deps Deps
}

func New(deps Deps) *Coordinator {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	return &Coordinator{deps: deps}
}

// Request is the client-facing call of spec §6.1, already validated by
// the Admission Controller.
type Request struct {
	ModelID  string
	Revision string
	DatasetID string
	Params   map[string]any
}

// Stream runs one end-to-end benchmark execution, emitting the §6.2
// event sequence to out. ctx.Done firing plays the role of the
// source's request.is_disconnected(): checked before every event is
// read, and aborts the upstream connection without further downstream
// emission. Stream returns once the run has reached a terminal state;
// the returned error is non-nil only for failures the caller could not
// have otherwise observed from the event stream itself (worker
// selection, run creation, or persisting the `meta` event). A failed
// worker dispatch is reported as an `error` event and returns nil.
func (c *Coordinator) Stream(ctx context.Context, req Request, out *events.Writer) error {
	runID := runrepo.NewRunID()
	var seq int64

	emit := func(kind model.EventKind, payload map[string]any) error {
		if err := c.deps.Repo.LogEvent(runID, seq, kind, payload); err != nil {
			return fmt.Errorf("coordinator: persisting %s event: %w", kind, err)
		}
		seq++
		return out.Emit(events.Event{Kind: string(kind), Data: payload})
	}

	workerBase, err := c.deps.Selector.Select(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: selecting worker: %w", err)
	}
	workerURL := workerBase + "/bench/complete/stream"

	run := model.Run{
		ID:        runID,
		ModelRef:  model.ModelRef{Identifier: req.ModelID, Revision: req.Revision},
		DatasetID: req.DatasetID,
		Params:    req.Params,
		StartedAt: time.Now(),
		Status:    model.StatusRunning,
	}
	if err := c.deps.Repo.CreateRun(run); err != nil {
		return fmt.Errorf("coordinator: creating run: %w", err)
	}
	if c.deps.Logger != nil {
		c.deps.Logger.RunStarted(runID, req.ModelID, req.DatasetID)
	}

	finalStatus := model.StatusOK
	defer func() {
		_ = c.deps.Repo.EndRun(runID, finalStatus)
		if c.deps.Logger != nil {
			c.deps.Logger.RunEnded(runID, string(finalStatus))
		}
	}()

	meta := withRunID(req.Params, runID)
	meta["worker_url"] = workerURL
	meta["model_id"] = req.ModelID
	meta["revision"] = req.Revision
	meta["db_id"] = req.DatasetID
	if err := emit(model.EventMeta, meta); err != nil {
		finalStatus = model.StatusError
		return err
	}

	outc, errc, err := c.openWorker(ctx, workerURL, req)
	if err != nil {
		finalStatus = model.StatusError
		errPayload := map[string]any{"run_id": runID, "error": err.Error()}
		_ = emit(model.EventError, errPayload)
		return nil
	}

runLoop:
	for {
		select {
		case <-ctx.Done():
			finalStatus = model.StatusClientDisconnected
			if c.deps.Logger != nil {
				c.deps.Logger.Phase(runID, "client_disconnected")
			}
			break runLoop

		case ev, ok := <-outc:
			if !ok {
				select {
				case readErr := <-errc:
					if readErr != nil {
						finalStatus = model.StatusError
						_ = emit(model.EventError, map[string]any{"run_id": runID, "error": readErr.Error()})
					}
				default:
				}
				break runLoop
			}

			payload := withRunID(ev.Data, runID)

			switch ev.Kind {
			case "status":
				if c.deps.Logger != nil {
					if phase, ok := asString(payload["phase"]); ok {
						c.deps.Logger.Phase(runID, phase)
					}
				}
				if err := emit(model.EventStatus, payload); err != nil {
					finalStatus = model.StatusError
					break runLoop
				}

			case "result":
				if err := c.enrichResult(ctx, payload, req.DatasetID); err != nil {
					finalStatus = model.StatusError
					_ = emit(model.EventError, map[string]any{"run_id": runID, "error": err.Error()})
					break runLoop
				}
				item := itemFromPayload(runID, payload)
				if err := c.deps.Repo.InsertItem(item); err != nil {
					finalStatus = model.StatusError
					_ = emit(model.EventError, map[string]any{"run_id": runID, "error": err.Error()})
					break runLoop
				}
				if err := emit(model.EventResult, payload); err != nil {
					finalStatus = model.StatusError
					break runLoop
				}

			case "done":
				if err := emit(model.EventDone, payload); err != nil {
					finalStatus = model.StatusError
				}
				break runLoop

			default:
				if err := emit(model.EventKind(ev.Kind), payload); err != nil {
					finalStatus = model.StatusError
					break runLoop
				}
			}
		}
	}

	return nil
}

// openWorker dispatches the worker request and returns its parsed
// event stream. The HTTP response body is closed by events.ReadStream
// once exhausted, or by the caller aborting ctx (net/http cancels the
// in-flight request and its body read when ctx is done).
func (c *Coordinator) openWorker(ctx context.Context, workerURL string, req Request) (<-chan events.Event, <-chan error, error) {
	payload := map[string]any{
		"model":    req.ModelID,
		"revision": req.Revision,
		"db_id":    req.DatasetID,
	}
	for k, v := range req.Params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, workerURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.deps.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to worker: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("worker returned status %d", resp.StatusCode)
	}

	outc, errc := events.ReadStream(resp.Body)
	return outc, errc, nil
}

// enrichResult scores predicted SQL against gold SQL in-place on
// payload when predicted and gold SQL are both non-empty strings,
// mirroring the source's isinstance guard; a missing or empty db_id
// falls back to defaultDatasetID instead of skipping scoring. A scoring call failure is returned to the caller
// as a coordinator-level error (WorkerError), matching spec §4.10.
func (c *Coordinator) enrichResult(ctx context.Context, payload map[string]any, defaultDatasetID string) error {
	predSQL, ok1 := asString(payload["sql"])
	goldSQL, ok2 := asString(payload["gold_sql"])
	datasetID, ok3 := asString(payload["db_id"])
	if !ok3 || datasetID == "" {
		datasetID = defaultDatasetID
	}
	if !ok1 || !ok2 || predSQL == "" || goldSQL == "" {
		return nil
	}

	verdict, err := c.deps.ScorePool.Submit(ctx, datasetID, predSQL, goldSQL)
	if err != nil {
		return fmt.Errorf("scoring: %w", err)
	}

	scoring := map[string]any{
		"pred_exec_success": verdict.PredExecSuccess,
		"gold_exec_success": verdict.GoldExecSuccess,
		"pred_error":        verdict.PredError,
		"gold_error":        verdict.GoldError,
		"match_kind":        verdict.MatchKind,
		"pred_exec_time_ms": verdict.PredExecTimeMS,
		"gold_exec_time_ms": verdict.GoldExecTimeMS,
		"scoring_time_ms":   verdict.ScoringTimeMS,
	}
	if verdict.IsCorrect != nil {
		scoring["is_correct"] = *verdict.IsCorrect
	} else {
		scoring["is_correct"] = nil
	}
	if verdict.RowsPred != nil {
		scoring["rows_pred"] = *verdict.RowsPred
	}
	if verdict.RowsGold != nil {
		scoring["rows_gold"] = *verdict.RowsGold
	}
	payload["scoring"] = scoring
	return nil
}

func withRunID(src map[string]any, runID string) map[string]any {
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out["run_id"] = runID
	return out
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// itemFromPayload maps an enriched `result` event payload onto the
// persisted RunItem shape of spec §6.4.
func itemFromPayload(runID string, payload map[string]any) model.RunItem {
	datasetID, _ := asString(payload["db_id"])
	rawAnswer, _ := asString(payload["raw_answer"])
	predSQL, _ := asString(payload["sql"])
	goldSQL, _ := asString(payload["gold_sql"])

	item := model.RunItem{
		RunID:        runID,
		Index:        asInt64(payload["index"]),
		QuestionID:   asInt64(payload["question_id"]),
		DatasetID:    datasetID,
		PredictedSQL: predSQL,
		GoldSQL:      goldSQL,
		RawAnswer:    rawAnswer,
		GenTimeMS:    asFloat64(payload["gen_time_ms"]),
	}

	if m, ok := payload["metrics"].(map[string]any); ok {
		item.Metrics = model.TokenMetrics{
			GenTimeMS:     asFloat64(m["gen_time_ms"]),
			ExecTimeMS:    asFloat64(m["exec_time_ms"]),
			NewTokens:     int(asInt64(m["new_tokens"])),
			TokensPerSec:  asFloat64(m["tokens_per_s"]),
			RAMDeltaMB:    asFloat64(m["ram_delta_mb"]),
			CPUPercent:    asFloat64(m["cpu_percent"]),
			GPUAllocMB:    asFloat64(m["gpu_alloc_mb"]),
			GPUReservedMB: asFloat64(m["gpu_reserved_mb"]),
		}
	}

	if sc, ok := payload["scoring"].(map[string]any); ok {
		v := &model.ScoringVerdict{}
		v.PredExecSuccess, _ = sc["pred_exec_success"].(bool)
		v.GoldExecSuccess, _ = sc["gold_exec_success"].(bool)
		if ic, ok := sc["is_correct"].(bool); ok {
			v.IsCorrect = &ic
		}
		v.PredError, _ = asString(sc["pred_error"])
		v.GoldError, _ = asString(sc["gold_error"])
		v.MatchKind, _ = asString(sc["match_kind"])
		if rp, ok := sc["rows_pred"]; ok {
			n := int(asInt64(rp))
			v.RowsPred = &n
		}
		if rg, ok := sc["rows_gold"]; ok {
			n := int(asInt64(rg))
			v.RowsGold = &n
		}
		item.Verdict = v
	}

	return item
}
