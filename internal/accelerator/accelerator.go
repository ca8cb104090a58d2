// Package accelerator implements the Accelerator Runtime (AR): a
// single-slot cache for a loaded model, keyed by (identifier, revision,
// precision). Grounded on the original's GpuRuntime (single _key field,
// unload-then-load, gpu_stats accounting).
package accelerator

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"benchorch/internal/model"
)

// Loader constructs a generation model handle from a local path. In the
// original this is transformers' AutoModelForCausalLM.from_pretrained;
// here it is whatever langchaingo client is configured to serve that
// local path (an OpenAI-compatible endpoint fronting the loaded weights,
// matching the teacher's use of langchaingo as its only model-calling
// abstraction).
type Loader interface {
	Load(ctx context.Context, ref model.ModelRef, localPath string) (llms.Model, error)
}

// Resident is the currently loaded model: a generation handle plus the
// key it was loaded under.
type Resident struct {
	Key   string
	Model llms.Model
}

// Stats mirrors the original's gpu_stats(): device allocation counters.
// With no real accelerator reachable from Go in this pack, these are
// maintained as a deterministic accounting layer rather than read from
// hardware — see DESIGN.md.
type Stats struct {
	AllocatedMB float64
	ReservedMB  float64
}

// Runtime is the single-slot accelerator cache. At any instant at most
// one Resident exists; AR operations are serialized by mu.
type Runtime struct {
	mu       sync.Mutex
	loader   Loader
	resident *Resident
	stats    Stats
	perModelMB float64 // accounting unit charged per load, released on unload
}

func New(loader Loader, perModelMB float64) *Runtime {
	return &Runtime{loader: loader, perModelMB: perModelMB}
}

// EnsureLoaded is a no-op if key already matches the current resident;
// otherwise it releases the current resident (if any) before loading.
func (r *Runtime) EnsureLoaded(ctx context.Context, ref model.ModelRef, localPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ref.ResidentKey()
	if r.resident != nil && r.resident.Key == key {
		return nil
	}

	r.releaseLocked()

	m, err := r.loader.Load(ctx, ref, localPath)
	if err != nil {
		return err
	}
	r.resident = &Resident{Key: key, Model: m}
	r.stats.AllocatedMB = r.perModelMB
	r.stats.ReservedMB = r.perModelMB * 1.15
	return nil
}

// Release guarantees the accounted device memory is reclaimed before it
// returns.
func (r *Runtime) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Runtime) releaseLocked() {
	r.resident = nil
	r.stats = Stats{}
}

// Current returns the resident model, or nil if none is loaded.
func (r *Runtime) Current() *Resident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resident
}

// StatsSnapshot returns the current device allocation/reserved counters.
func (r *Runtime) StatsSnapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
