// Package generation implements the Generation Runner (GR): prompt
// construction, a warm-up pass, and per-question generation with timing
// and token-rate metrics. Grounded on the original's benchmark.py
// (build_prompt/extract_sql/warmup/run_once).
package generation

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"

	"benchorch/internal/accelerator"
	"benchorch/internal/model"
)

// promptTemplate is byte-exact per spec §6.3. Do not reformat.
const promptTemplate = `You are a SQL generation engine.

You MUST output a single valid SQL query.
Do NOT output explanations, comments, notes, or markdown.
Do NOT repeat the question.
Do NOT add any text before or after the SQL.

Rules:
- Use ONLY the tables and columns present in the schema.
- If aggregation per group is requested, you MUST use GROUP BY.
- If the question asks "par X", you MUST include X in SELECT and GROUP BY.
- The output must be executable as-is.

DATABASE SCHEMA:
%s

QUESTION:
%s

SQL QUERY:
`

func BuildPrompt(schema, question string) string {
	return fmt.Sprintf(promptTemplate, schema, question)
}

// ExtractSQL strips a prompt prefix (if the decoded completion echoes
// it) and returns the substring up to and including the first ';'. If
// no ';' is present the completion is returned unchanged. Idempotent:
// ExtractSQL(ExtractSQL(x)) == ExtractSQL(x).
func ExtractSQL(prompt, decoded string) string {
	completion := decoded
	if strings.HasPrefix(decoded, prompt) {
		completion = decoded[len(prompt):]
	}
	completion = strings.TrimSpace(completion)

	if idx := strings.Index(completion, ";"); idx >= 0 {
		return completion[:idx+1]
	}
	return completion
}

// Params are the per-call generation parameters of spec §6.1.
type Params struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
	DoSample     bool
}

// Runner builds prompts, performs warm-up, and generates SQL.
type Runner struct {
	MaxPromptChars int
	MaxNewTokens   int // platform cap; params.MaxNewTokens is clamped to this
	enc            *tiktoken.Tiktoken
}

func New(maxPromptChars, maxNewTokensCap int) *Runner {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Runner{MaxPromptChars: maxPromptChars, MaxNewTokens: maxNewTokensCap, enc: enc}
}

func (r *Runner) truncate(prompt string) string {
	if r.MaxPromptChars > 0 && len(prompt) > r.MaxPromptChars {
		return prompt[:r.MaxPromptChars]
	}
	return prompt
}

// WarmUp performs one small-token generation to stabilize kernels. The
// resident's device is "synchronized" by simply awaiting completion —
// in this Go build there is no separate async device queue to flush.
func (r *Runner) WarmUp(ctx context.Context, resident *accelerator.Resident, schema, question string) error {
	prompt := r.truncate(BuildPrompt(schema, question))
	_, err := resident.Model.Call(ctx, prompt, llms.WithMaxTokens(16), llms.WithTemperature(0))
	return err
}

// RunOnce generates SQL for one question and reports per-call metrics.
func (r *Runner) RunOnce(ctx context.Context, resident *accelerator.Resident, schema, question string, params Params) (string, string, model.TokenMetrics, error) {
	prompt := r.truncate(BuildPrompt(schema, question))

	maxNew := params.MaxNewTokens
	if maxNew <= 0 || maxNew > r.MaxNewTokens {
		maxNew = r.MaxNewTokens
	}

	start := time.Now()
	startRSS := processRSSMB()
	startCPU := processCPUSeconds()
	completion, err := resident.Model.Call(ctx, prompt,
		llms.WithMaxTokens(maxNew),
		llms.WithTemperature(params.Temperature),
		llms.WithTopP(params.TopP),
	)
	genEnd := time.Now()
	if err != nil {
		return "", "", model.TokenMetrics{}, err
	}
	endRSS := processRSSMB()
	endCPU := processCPUSeconds()

	sql := ExtractSQL(prompt, completion)

	newTokens := r.countTokens(completion)
	genSeconds := genEnd.Sub(start).Seconds()
	if genSeconds <= 0 {
		genSeconds = 1e-9
	}

	var ramDeltaMB float64
	if startRSS >= 0 && endRSS >= 0 {
		ramDeltaMB = float64(endRSS - startRSS)
	}
	var cpuPercent float64
	if startCPU >= 0 && endCPU >= 0 {
		cpuPercent = (endCPU - startCPU) / genSeconds * 100
	}

	metrics := model.TokenMetrics{
		GenTimeMS:    genEnd.Sub(start).Seconds() * 1000,
		ExecTimeMS:   time.Since(start).Seconds() * 1000,
		NewTokens:    newTokens,
		TokensPerSec: float64(newTokens) / genSeconds,
		RAMDeltaMB:   ramDeltaMB,
		CPUPercent:   cpuPercent,
	}

	return completion, sql, metrics, nil
}

// processRSSMB reads the current process's resident set size from
// /proc/self/status, the same source eval_spider/main.go's
// getProcessRSSMB reads to see memory runtime.MemStats cannot (e.g.
// CGo allocations). Returns -1 when the file cannot be read (non-Linux).
func processRSSMB() int64 {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return -1
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
					return kb / 1024
				}
			}
		}
	}
	return -1
}

// processCPUSeconds reads accumulated user+system CPU time for this
// process from /proc/self/stat (the utime/stime fields, in clock
// ticks). Returns -1 when the file cannot be read or parsed.
func processCPUSeconds() float64 {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return -1
	}
	// The comm field is parenthesized and may itself contain spaces or
	// parens, so resume field splitting after its closing ')'.
	closing := strings.LastIndex(string(data), ")")
	if closing < 0 || closing+2 >= len(data) {
		return -1
	}
	fields := strings.Fields(string(data)[closing+2:])
	if len(fields) < 13 {
		return -1
	}
	utime, err1 := strconv.ParseFloat(fields[11], 64)
	stime, err2 := strconv.ParseFloat(fields[12], 64)
	if err1 != nil || err2 != nil {
		return -1
	}
	const clockTicksPerSecond = 100
	return (utime + stime) / clockTicksPerSecond
}

func (r *Runner) countTokens(text string) int {
	if r.enc == nil {
		return len(strings.Fields(text))
	}
	return len(r.enc.Encode(text, nil, nil))
}
