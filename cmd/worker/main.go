// Command worker hosts the accelerator-resident side of the system:
// Model Store, Accelerator Runtime, Generation Runner, and the Question
// Catalog, gated by the Admission Controller's bounded queue. It exposes
// POST /bench/complete/stream, an SSE stream of status/result/done
// events, mirroring the original's hf_bench service.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"benchorch/internal/accelerator"
	"benchorch/internal/admission"
	"benchorch/internal/catalog"
	"benchorch/internal/config"
	"benchorch/internal/events"
	"benchorch/internal/generation"
	"benchorch/internal/model"
	"benchorch/internal/modelstore"
	"benchorch/internal/obslog"
)

type completeRequest struct {
	Model        string  `json:"model"`
	Revision     string  `json:"revision"`
	DBID         string  `json:"db_id"`
	Limit        int     `json:"limit"`
	Offset       int     `json:"offset"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	DoSample     bool    `json:"do_sample"`
	Dtype        string  `json:"dtype"`
}

type server struct {
	logger  *obslog.Logger
	admit   *admission.Controller
	runtime *accelerator.Runtime
	runner  *generation.Runner
	catalog *catalog.Catalog
}

func main() {
	cfg := config.Load()
	logger := obslog.New()

	cat, err := catalog.Open(cfg.PgDSN)
	if err != nil {
		log.Fatalf("worker: opening catalog: %v", err)
	}
	defer cat.Close()

	store := modelstore.New(cfg.ModelStoreDir, modelstore.NewHTTPFetcher(cfg.HFMetadataBaseURL), modelstore.Policy{
		MaxRepoSizeGB:        cfg.MaxRepoSizeGB,
		AllowSafetensorsOnly: cfg.AllowSafetensorsOnly,
		RequireRevision:      cfg.RequireRevision,
	})

	loader := accelerator.NewHTTPLoader(cfg.InferenceBaseURL, cfg.InferenceToken)
	runtime := accelerator.New(loader, 16000)

	admit := admission.New(store, runtime, cfg.RequireRevision, cfg.QueueMaxSize)
	runner := generation.New(cfg.MaxPromptChars, cfg.MaxNewTokens)

	srv := &server{logger: logger, admit: admit, runtime: runtime, runner: runner, catalog: cat}

	mux := http.NewServeMux()
	mux.HandleFunc("/bench/complete/stream", srv.handleStream)

	logger.Info("worker listening on :8081")
	log.Fatal(http.ListenAndServe(":8081", mux))
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Limit <= 0 || req.Limit > 100000 {
		req.Limit = 100
	}

	ctx := r.Context()
	params := map[string]any{
		"limit": req.Limit, "offset": req.Offset, "max_new_tokens": req.MaxNewTokens,
		"temperature": req.Temperature, "top_p": req.TopP, "do_sample": req.DoSample, "dtype": req.Dtype,
	}

	job, handle, err := s.admit.Admit(ctx, req.Model, req.Revision, req.DBID, params)
	if err != nil {
		if _, ok := err.(*admission.RateLimited); ok {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer handle.Release()

	out := events.NewWriter(w)
	jobID := job.Ref.ResidentKey()

	emit := func(kind string, payload map[string]any) bool {
		if err := out.Emit(events.Event{Kind: kind, Data: payload}); err != nil {
			return false
		}
		return true
	}

	emit("status", map[string]any{"phase": "started", "job_id": jobID})
	emit("status", map[string]any{"phase": "model_ready_on_nvme"})

	t1 := time.Now()
	resident := s.runtime.Current()
	if resident == nil {
		emit("error", map[string]any{"job_id": jobID, "detail": "accelerator has no resident model after admission"})
		emit("done", map[string]any{"job_id": jobID})
		return
	}
	emit("status", map[string]any{
		"phase": "model_loaded",
		"ms":    time.Since(t1).Seconds() * 1000,
		"gpu":   s.runtime.StatsSnapshot(),
	})

	schema, err := s.catalog.SchemaText(job.DatasetID, catalog.SchemaTextOptions{IncludeTypes: true})
	if err != nil {
		emit("error", map[string]any{"job_id": jobID, "detail": err.Error()})
		emit("done", map[string]any{"job_id": jobID})
		return
	}

	questions, err := s.catalog.List("", job.DatasetID, req.Limit, req.Offset)
	if err != nil {
		emit("error", map[string]any{"job_id": jobID, "detail": err.Error()})
		emit("done", map[string]any{"job_id": jobID})
		return
	}
	if len(questions) == 0 {
		emit("done", map[string]any{"job_id": jobID})
		return
	}

	genParams := generation.Params{
		MaxNewTokens: req.MaxNewTokens, Temperature: req.Temperature, TopP: req.TopP, DoSample: req.DoSample,
	}
	if err := s.runner.WarmUp(ctx, resident, schema, questions[0].Text); err != nil {
		emit("error", map[string]any{"job_id": jobID, "detail": err.Error()})
		emit("done", map[string]any{"job_id": jobID})
		return
	}
	emit("status", map[string]any{"phase": "warmup_done"})

	emit("status", map[string]any{"phase": "running"})
	for i, q := range questions {
		if ctx.Err() != nil {
			break
		}

		rawAnswer, sql, metrics, err := s.runner.RunOnce(ctx, resident, schema, q.Text, genParams)
		if err != nil {
			emit("error", map[string]any{"job_id": jobID, "detail": err.Error()})
			continue
		}
		stats := s.runtime.StatsSnapshot()
		metrics.GPUAllocMB = stats.AllocatedMB
		metrics.GPUReservedMB = stats.ReservedMB

		ok := emit("result", map[string]any{
			"index":        req.Offset + i,
			"question_id":  q.ID,
			"db_id":        job.DatasetID,
			"source_index": q.SourceIndex,
			"raw_answer":   rawAnswer,
			"sql":          sql,
			"gold_sql":     q.GoldSQL,
			"gen_time_ms":  metrics.GenTimeMS,
			"metrics":      tokenMetricsPayload(metrics),
		})
		if !ok {
			return
		}
	}

	emit("done", map[string]any{"job_id": jobID})
}

func tokenMetricsPayload(m model.TokenMetrics) map[string]any {
	return map[string]any{
		"gen_time_ms":     m.GenTimeMS,
		"exec_time_ms":    m.ExecTimeMS,
		"new_tokens":      m.NewTokens,
		"tokens_per_s":    m.TokensPerSec,
		"ram_delta_mb":    m.RAMDeltaMB,
		"cpu_percent":     m.CPUPercent,
		"gpu_alloc_mb":    m.GPUAllocMB,
		"gpu_reserved_mb": m.GPUReservedMB,
	}
}
