// Package humanizer applies the final rewrite pass to a winning candidate,
// softening mechanical phrasing while keeping meaning and length class. A
// failed pass degrades to the unmodified draft, never to a failed fragment.
package humanizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/valpere/perefraz/internal/postprocess"
	"github.com/valpere/perefraz/internal/provider"
)

// The pass makes minimal edits; moderate temperature keeps it from rewriting
// wholesale.
const humanizeTemperature = 0.5

// Humanizer rewrites a draft through one generate-style call.
type Humanizer struct {
	prov      provider.Provider
	cfg       provider.Config
	retry     provider.RetryPolicy
	maxTokens int
}

func New(prov provider.Provider, cfg provider.Config, retry provider.RetryPolicy, maxTokens int) *Humanizer {
	if retry.MaxAttempts == 0 {
		retry = provider.DefaultRetryPolicy
	}
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}
	return &Humanizer{prov: prov, cfg: cfg, retry: retry, maxTokens: maxTokens}
}

// Humanize returns the refined text, or draft unchanged when the pass fails
// or produces nothing usable. The boolean reports whether refinement was
// applied. The error is informational; the returned text is always usable.
func (h *Humanizer) Humanize(ctx context.Context, draft string, hint string) (string, bool, error) {
	req := provider.GenerateRequest{
		Prompt:      buildHumanizePrompt(draft, hint),
		Temperature: humanizeTemperature,
		MaxTokens:   h.maxTokens,
	}

	res, err := provider.Retry(ctx, h.prov.Name(), h.retry, func(callCtx context.Context) (*provider.GenerateResult, error) {
		return h.prov.Generate(callCtx, h.cfg, req)
	})
	if err != nil {
		return draft, false, fmt.Errorf("humanization failed: %w", err)
	}

	refined := postprocess.Clean(res.Text)
	if refined == "" {
		return draft, false, fmt.Errorf("humanization returned empty text")
	}
	return refined, true, nil
}

func buildHumanizePrompt(text, hint string) string {
	var sb strings.Builder
	sb.WriteString(`You are a final editor. Take this paraphrased text and make subtle adjustments to ensure it reads naturally and avoids AI detection patterns, while maintaining accuracy and academic style.

Make minimal changes - only what's necessary to improve natural flow.
`)
	if hint != "" {
		sb.WriteString(hint)
		sb.WriteString("\n")
	}
	sb.WriteString("\nText to refine:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nProvide ONLY the refined version, without any explanations.")
	return sb.String()
}
