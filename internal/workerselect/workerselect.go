// Package workerselect implements the Worker Selector (WS): a pluggable
// strategy returning the base endpoint of an upstream generation
// worker. Grounded on the original's WorkerSelectorPort /
// local_worker_selector.py.
package workerselect

import "context"

// Selector returns a base endpoint for an upstream generation worker.
type Selector interface {
	Select(ctx context.Context) (string, error)
}

// Fixed is the default strategy: always the same configured URL.
type Fixed struct {
	BaseURL string
}

func NewFixed(baseURL string) *Fixed { return &Fixed{BaseURL: baseURL} }

func (f *Fixed) Select(ctx context.Context) (string, error) {
	return f.BaseURL, nil
}
