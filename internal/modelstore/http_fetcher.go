package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"benchorch/internal/model"
)

// allowedSuffixes are the only artifact kinds MS will ever download —
// weights of the permitted kind, tokenizer files, and configs. Script
// and checkpoint patterns are refused regardless of this list, per
// rejectForbiddenPatterns.
var allowedSuffixes = []string{
	".safetensors", ".json", "tokenizer_config.json", "vocab.json",
	"merges.txt", "special_tokens_map.json", "generation_config.json",
	"spiece.model", ".model",
}

// HTTPFetcher is the default MetadataFetcher: it queries a metadata
// endpoint for repo file listings and downloads allow-listed files over
// plain HTTP. No HuggingFace client library exists anywhere in the
// retrieved corpus, so this stays on net/http — see DESIGN.md.
type HTTPFetcher struct {
	MetadataBaseURL string // e.g. "https://huggingface.co/api/models"
	Client          *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{MetadataBaseURL: baseURL, Client: &http.Client{Timeout: 30 * time.Second}}
}

type repoFile struct {
	RFilename string `json:"rfilename"`
	Size      int64  `json:"size"`
}

type repoInfo struct {
	Siblings []repoFile `json:"siblings"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref model.ModelRef) (*RemoteInfo, error) {
	url := fmt.Sprintf("%s/%s/revision/%s", f.MetadataBaseURL, ref.Identifier, ref.Revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata fetch failed: %s", resp.Status)
	}

	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}

	var total int64
	var hasSafetensors bool
	var files []string
	for _, s := range info.Siblings {
		total += s.Size
		if strings.HasSuffix(s.RFilename, ".safetensors") {
			hasSafetensors = true
		}
		if isAllowed(s.RFilename) {
			files = append(files, s.RFilename)
		} else {
			files = append(files, s.RFilename) // retained for forbidden-pattern check; Download filters again
		}
	}

	return &RemoteInfo{TotalSizeBytes: total, HasSafetensors: hasSafetensors, Files: files}, nil
}

func (f *HTTPFetcher) Download(ctx context.Context, ref model.ModelRef, info *RemoteInfo, destDir string) error {
	for _, name := range info.Files {
		if !isAllowed(name) {
			continue
		}
		url := fmt.Sprintf("%s/%s/resolve/%s/%s", f.MetadataBaseURL, ref.Identifier, ref.Revision, name)
		if err := f.downloadOne(ctx, url, filepath.Join(destDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (f *HTTPFetcher) downloadOne(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed for %s: %s", dest, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func isAllowed(name string) bool {
	for _, suf := range allowedSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}
