// Package modelstore implements the Model Store (MS): a content-addressed
// local cache of model artifacts keyed by (identifier, revision), with
// size/file-type/revision policy and an atomically-written readiness
// marker.
package modelstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"benchorch/internal/model"
)

const readyMarker = ".READY"

// Error taxonomy (spec §4.5).
type TooLarge struct {
	SizeGB, LimitGB float64
}

func (e *TooLarge) Error() string {
	return fmt.Sprintf("model repo too large (%.2f GB) > limit %.2f GB", e.SizeGB, e.LimitGB)
}

type UnsupportedArtifact struct {
	Reason string
}

func (e *UnsupportedArtifact) Error() string { return "unsupported artifact: " + e.Reason }

type ForbiddenRevision struct {
	Identifier string
}

func (e *ForbiddenRevision) Error() string {
	return fmt.Sprintf("revision required and not supplied for %q", e.Identifier)
}

type RemoteUnavailable struct {
	Cause error
}

func (e *RemoteUnavailable) Error() string { return "remote metadata unavailable: " + e.Cause.Error() }
func (e *RemoteUnavailable) Unwrap() error { return e.Cause }

type LocalIOError struct {
	Cause error
}

func (e *LocalIOError) Error() string { return "local I/O error: " + e.Cause.Error() }
func (e *LocalIOError) Unwrap() error { return e.Cause }

// RemoteInfo is the remote metadata MS needs about a model repo.
type RemoteInfo struct {
	TotalSizeBytes int64
	HasSafetensors bool
	Files          []string // every file name in the remote listing; Download skips names outside the allow-list
}

// MetadataFetcher queries remote metadata for a model revision. No HF
// client library exists anywhere in the retrieved corpus (see
// DESIGN.md), so this is a narrow interface a plain net/http client (or
// a test double) can satisfy.
type MetadataFetcher interface {
	Fetch(ctx context.Context, ref model.ModelRef) (*RemoteInfo, error)
	Download(ctx context.Context, ref model.ModelRef, info *RemoteInfo, destDir string) error
}

// Policy is the size/type/revision policy MS enforces.
type Policy struct {
	MaxRepoSizeGB       float64
	AllowSafetensorsOnly bool
	RequireRevision      bool
}

// Store is the local fast-storage cache.
type Store struct {
	Root    string
	Fetcher MetadataFetcher
	Policy  Policy
}

func New(root string, fetcher MetadataFetcher, policy Policy) *Store {
	return &Store{Root: root, Fetcher: fetcher, Policy: policy}
}

func (s *Store) localDir(ref model.ModelRef) string {
	return filepath.Join(s.Root, ref.StoreKey())
}

// Present reports whether ref is already materialized and ready,
// without contacting the remote.
func (s *Store) Present(ref model.ModelRef) bool {
	_, err := os.Stat(filepath.Join(s.localDir(ref), readyMarker))
	return err == nil
}

// EnsureLocal materializes ref on local storage, idempotently: a second
// call with the readiness marker already in place is a no-op.
func (s *Store) EnsureLocal(ctx context.Context, ref model.ModelRef) (string, error) {
	if s.Policy.RequireRevision && ref.Revision == "" {
		return "", &ForbiddenRevision{Identifier: ref.Identifier}
	}

	dest := s.localDir(ref)
	marker := filepath.Join(dest, readyMarker)
	if _, err := os.Stat(marker); err == nil {
		return dest, nil
	}

	info, err := s.Fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", &RemoteUnavailable{Cause: err}
	}

	sizeGB := float64(info.TotalSizeBytes) / (1024 * 1024 * 1024)
	if sizeGB > s.Policy.MaxRepoSizeGB {
		return "", &TooLarge{SizeGB: sizeGB, LimitGB: s.Policy.MaxRepoSizeGB}
	}
	if s.Policy.AllowSafetensorsOnly && !info.HasSafetensors {
		return "", &UnsupportedArtifact{Reason: "no .safetensors weights present and ALLOW_SAFETENSORS_ONLY is set"}
	}
	if err := rejectForbiddenPatterns(info.Files); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", &LocalIOError{Cause: err}
	}
	if err := s.Fetcher.Download(ctx, ref, info, dest); err != nil {
		return "", &LocalIOError{Cause: err}
	}

	// Write the marker last, atomically: write to a temp file then
	// rename, so a crash mid-download never leaves a false-ready dir.
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, []byte("ok\n"), 0o644); err != nil {
		return "", &LocalIOError{Cause: err}
	}
	if err := os.Rename(tmp, marker); err != nil {
		return "", &LocalIOError{Cause: err}
	}

	return dest, nil
}

// rejectForbiddenPatterns refuses script and checkpoint artifacts,
// regardless of the safetensors-only policy.
func rejectForbiddenPatterns(files []string) error {
	forbidden := []string{".py", ".sh", ".ckpt", ".pkl"}
	for _, f := range files {
		for _, ext := range forbidden {
			if strings.HasSuffix(f, ext) {
				return &UnsupportedArtifact{Reason: fmt.Sprintf("forbidden artifact pattern: %s", f)}
			}
		}
	}
	return nil
}

// ListReady enumerates every (identifier, revision) pair present on
// disk with its readiness marker written.
func (s *Store) ListReady() ([]model.LocalModel, error) {
	var out []model.LocalModel

	idEntries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, &LocalIOError{Cause: err}
	}

	for _, idEntry := range idEntries {
		if !idEntry.IsDir() {
			continue
		}
		idDir := filepath.Join(s.Root, idEntry.Name())
		revEntries, err := os.ReadDir(idDir)
		if err != nil {
			continue
		}
		for _, revEntry := range revEntries {
			if !revEntry.IsDir() {
				continue
			}
			revDir := filepath.Join(idDir, revEntry.Name())
			if _, err := os.Stat(filepath.Join(revDir, readyMarker)); err != nil {
				continue
			}
			out = append(out, model.LocalModel{
				Ref: model.ModelRef{
					Identifier: strings.ReplaceAll(idEntry.Name(), "__", "/"),
					Revision:   revEntry.Name(),
				},
				Path:  revDir,
				Ready: true,
			})
		}
	}
	return out, nil
}
