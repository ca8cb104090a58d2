// Command orchestrator hosts the client-facing side of the system: the
// Streaming Coordinator, Run Repository, Worker Selector, Scoring
// Engine, SQL Sandbox, and Dataset Locator. It exposes POST
// /bench/stream per spec §6.1 and re-emits the upstream worker's event
// sequence enriched with scoring, persisting every event first.
// Mirrors the original's global_bench service.
package main

import (
	"encoding/json"
	"log"
	"net/http"

	"benchorch/internal/admission"
	"benchorch/internal/config"
	"benchorch/internal/coordinator"
	"benchorch/internal/dataset"
	"benchorch/internal/events"
	"benchorch/internal/model"
	"benchorch/internal/obslog"
	"benchorch/internal/runrepo"
	"benchorch/internal/scoring"
	"benchorch/internal/sqlbox"
	"benchorch/internal/workerselect"
)

type streamRequest struct {
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
	cfg         config.Config
	logger      *obslog.Logger
	locator     *dataset.Locator
	coordinator *coordinator.Coordinator
}

func main() {
	cfg := config.Load()
	logger := obslog.New()

	repo, err := runrepo.Open(cfg.PgDSN)
	if err != nil {
		log.Fatalf("orchestrator: opening run repository: %v", err)
	}
	defer repo.Close()
	if err := repo.Schema(); err != nil {
		log.Fatalf("orchestrator: applying schema: %v", err)
	}

	locator := dataset.New(cfg.DatasetsRoot)
	sandbox := sqlbox.New(locator, nil)
	engine := scoring.New(sandbox)
	pool := coordinator.NewScorePool(engine, 4)

	coord := coordinator.New(coordinator.Deps{
		Selector:  workerselect.NewFixed(cfg.WorkerBaseURL),
		Repo:      repo,
		ScorePool: pool,
		Logger:    logger,
	})

	srv := &server{cfg: cfg, logger: logger, locator: locator, coordinator: coord}

	mux := http.NewServeMux()
	mux.HandleFunc("/bench/stream", srv.handleStream)

	logger.Info("orchestrator listening on :8080")
	log.Fatal(http.ListenAndServe(":8080", mux))
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	if req.Limit > 100000 {
		req.Limit = 100000
	}

	identifier, revision, err := admission.ParseModelInput(req.Model, req.Revision)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := model.NewModelRef(identifier, revision, precisionFromDtype(req.Dtype), s.cfg.RequireRevision); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.locator.Exists(req.DBID) {
		http.Error(w, "dataset not found: "+req.DBID, http.StatusNotFound)
		return
	}

	params := map[string]any{
		"limit": req.Limit, "offset": req.Offset, "max_new_tokens": req.MaxNewTokens,
		"temperature": req.Temperature, "top_p": req.TopP, "do_sample": req.DoSample, "dtype": req.Dtype,
	}

	out := events.NewWriter(w)
	sreq := coordinator.Request{ModelID: identifier, Revision: revision, DatasetID: req.DBID, Params: params}
	if err := s.coordinator.Stream(r.Context(), sreq, out); err != nil {
		s.logger.Error("stream failed: %v", err)
	}
}

func precisionFromDtype(dtype string) model.Precision {
	switch dtype {
	case "half":
		return model.PrecisionHalf
	case "bfloat":
		return model.PrecisionBFloat
	case "single":
		return model.PrecisionSingle
	default:
		return model.PrecisionAuto
	}
}
