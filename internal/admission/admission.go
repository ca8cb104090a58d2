// Package admission implements the Admission Controller (AC): request
// validation, model-reference parsing, and a bounded-concurrency gate
// in front of the Model Store and Accelerator Runtime preflight.
// Grounded on hf_resolver.py (model/revision parsing) and queue.py's
// asyncio.Queue-with-429-on-overflow (the bounded job queue).
package admission

import (
	"context"
	"fmt"
	"regexp"

	"benchorch/internal/model"
)

// RateLimited is returned when the bounded queue is at capacity.
type RateLimited struct {
	QueueSize int
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("admission queue full (size %d); try again later", e.QueueSize)
}

var (
	hfURLPattern  = regexp.MustCompile(`^https?://huggingface\.co/([^/\s]+/[^/\s]+)(?:/.*)?$`)
	treePattern   = regexp.MustCompile(`/tree/([^/\s]+)`)
	resolvePattern = regexp.MustCompile(`/resolve/([^/\s]+)/`)
)

// ParseModelInput accepts either an `ns/name` identifier or a
// huggingface.co URL, inferring a revision from `/tree/<rev>` or
// `/resolve/<rev>/` when the URL form is used and no explicit revision
// was supplied. An explicit revision always wins over an inferred one.
func ParseModelInput(raw, revision string) (identifier, resolvedRevision string, err error) {
	if m := hfURLPattern.FindStringSubmatch(raw); m != nil {
		identifier = m[1]
		inferred := ""
		if t := treePattern.FindStringSubmatch(raw); t != nil {
			inferred = t[1]
		}
		if r := resolvePattern.FindStringSubmatch(raw); r != nil {
			inferred = r[1]
		}
		resolvedRevision = revision
		if resolvedRevision == "" {
			resolvedRevision = inferred
		}
		return identifier, resolvedRevision, nil
	}

	if containsSlash(raw) && !containsSpace(raw) {
		return raw, revision, nil
	}

	return "", "", &model.InvalidModelRef{Identifier: raw}
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

func containsSpace(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return true
		}
	}
	return false
}

// ModelStore is the narrow view of MS the Admission Controller needs.
type ModelStore interface {
	EnsureLocal(ctx context.Context, ref model.ModelRef) (string, error)
}

// Accelerator is the narrow view of AR the Admission Controller needs.
type Accelerator interface {
	EnsureLoaded(ctx context.Context, ref model.ModelRef, localPath string) error
}

// Job is the admitted, preflighted unit of work handed to the
// Generation Runner.
type Job struct {
	Ref       model.ModelRef
	DatasetID string
	Params    map[string]any
	LocalPath string
}

// Handle releases the admission slot a Job held, freeing capacity for
// the next request. Callers must call Release exactly once, typically
// via defer, once the job has finished running (successfully or not).
type Handle struct {
	release func()
}

func (h *Handle) Release() {
	if h.release != nil {
		h.release()
	}
}

// Controller validates and admits jobs, bounding how many may be
// preflighting or running concurrently.
type Controller struct {
	Store           ModelStore
	Runtime         Accelerator
	RequireRevision bool
	sem             chan struct{}
}

func New(store ModelStore, runtime Accelerator, requireRevision bool, queueMaxSize int) *Controller {
	if queueMaxSize <= 0 {
		queueMaxSize = 1
	}
	return &Controller{
		Store:           store,
		Runtime:         runtime,
		RequireRevision: requireRevision,
		sem:             make(chan struct{}, queueMaxSize),
	}
}

// Admit validates modelInput/revision, reserves a queue slot (failing
// fast with RateLimited when none is available), then runs MS.EnsureLocal
// and AR.EnsureLoaded before handing back a Job ready for generation.
// On any error the reserved slot is released before Admit returns.
func (c *Controller) Admit(ctx context.Context, modelInput, revision, datasetID string, params map[string]any) (*Job, *Handle, error) {
	select {
	case c.sem <- struct{}{}:
	default:
		return nil, nil, &RateLimited{QueueSize: cap(c.sem)}
	}

	handle := &Handle{release: func() { <-c.sem }}

	identifier, resolvedRevision, err := ParseModelInput(modelInput, revision)
	if err != nil {
		handle.Release()
		return nil, nil, err
	}

	ref, err := model.NewModelRef(identifier, resolvedRevision, model.PrecisionAuto, c.RequireRevision)
	if err != nil {
		handle.Release()
		return nil, nil, err
	}

	localPath, err := c.Store.EnsureLocal(ctx, ref)
	if err != nil {
		handle.Release()
		return nil, nil, err
	}

	if err := c.Runtime.EnsureLoaded(ctx, ref, localPath); err != nil {
		handle.Release()
		return nil, nil, err
	}

	return &Job{Ref: ref, DatasetID: datasetID, Params: params, LocalPath: localPath}, handle, nil
}
