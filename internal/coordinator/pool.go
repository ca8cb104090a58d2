package coordinator

import (
	"context"

	"benchorch/internal/scoring"
)

// scoreJob is one scoring request dispatched to the pool; resultc
// receives exactly one response.
type scoreJob struct {
	ctx       context.Context
	datasetID string
	predSQL   string
	goldSQL   string
	resultc   chan<- scoreResult
}

type scoreResult struct {
	verdict *scoring.Verdict
	err     error
}

// ScorePool runs SE.Score calls off the run's I/O goroutine on a small,
// fixed pool of workers, so scoring's synchronous database work never
// stalls event consumption for other runs. The calling goroutine still
// blocks on the job's result channel, preserving the ordering invariant
// that enrichment completes before the corresponding event is emitted.
type ScorePool struct {
	engine *scoring.Engine
	jobs   chan scoreJob
}

func NewScorePool(engine *scoring.Engine, workers int) *ScorePool {
	if workers <= 0 {
		workers = 4
	}
	p := &ScorePool{engine: engine, jobs: make(chan scoreJob, workers*4)}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *ScorePool) worker() {
	for job := range p.jobs {
		v, err := p.engine.Score(job.ctx, job.datasetID, job.predSQL, job.goldSQL)
		job.resultc <- scoreResult{verdict: v, err: err}
	}
}

// Submit dispatches a scoring request and blocks until it completes.
func (p *ScorePool) Submit(ctx context.Context, datasetID, predSQL, goldSQL string) (*scoring.Verdict, error) {
	resultc := make(chan scoreResult, 1)
	p.jobs <- scoreJob{ctx: ctx, datasetID: datasetID, predSQL: predSQL, goldSQL: goldSQL, resultc: resultc}
	res := <-resultc
	return res.verdict, res.err
}
