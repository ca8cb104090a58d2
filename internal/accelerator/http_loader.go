package accelerator

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"benchorch/internal/model"
)

// HTTPLoader constructs an llms.Model client against an OpenAI-compatible
// inference endpoint (e.g. a vLLM/TGI server configured to serve the
// weights at localPath). Grounded on the teacher's own openai.New
// construction (gen_rich_context_bird/main.go, internal/llm/config.go)
// — the same client library, pointed at a local serving endpoint instead
// of a hosted one.
type HTTPLoader struct {
	BaseURL string
	Token   string
}

func NewHTTPLoader(baseURL, token string) *HTTPLoader {
	return &HTTPLoader{BaseURL: baseURL, Token: token}
}

// Load neither reads nor checks localPath (AR trusts MS's readiness
// marker for it);
// the serving endpoint is expected to already have ref loaded, or to
// load it on first request.
func (l *HTTPLoader) Load(ctx context.Context, ref model.ModelRef, localPath string) (llms.Model, error) {
	return openai.New(
		openai.WithModel(ref.Identifier),
		openai.WithToken(l.Token),
		openai.WithBaseURL(l.BaseURL),
	)
}
