// Package evaluator scores the candidate set for one fragment with a judging
// provider and picks exactly one winner. Selection is deterministic: equal
// scores fall back to arrival order, and a dead judge falls back to a static
// provider preference order.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/valpere/perefraz/internal/generator"
	"github.com/valpere/perefraz/internal/provider"
)

// Judging uses low temperature for consistency and a short token budget:
// the response is one small JSON object.
const (
	judgeTemperature = 0.3
	judgeMaxTokens   = 500
)

// Selection is the evaluation outcome for one fragment.
type Selection struct {
	Candidate generator.Candidate
	Score     float64
	Reasoning string
	// Fallback is true when the judge failed and the static preference
	// order decided instead.
	Fallback bool
}

// Evaluator ranks candidates via a judging provider.
type Evaluator struct {
	judge    provider.Provider
	cfg      provider.Config
	retry    provider.RetryPolicy
	priority []string
}

// New creates an Evaluator. priority is the static provider preference order
// used when the judging call fails entirely; it normally mirrors the roster
// order the candidates were generated from.
func New(judge provider.Provider, cfg provider.Config, retry provider.RetryPolicy, priority []string) *Evaluator {
	if retry.MaxAttempts == 0 {
		retry = provider.DefaultRetryPolicy
	}
	return &Evaluator{judge: judge, cfg: cfg, retry: retry, priority: priority}
}

// Select returns exactly one winner for a fragment with at least one
// successful candidate. It only errors when candidates is empty.
func (e *Evaluator) Select(ctx context.Context, original string, candidates []generator.Candidate) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to evaluate")
	}

	if len(candidates) == 1 {
		return &Selection{
			Candidate: candidates[0],
			Reasoning: "only one candidate available",
		}, nil
	}

	verdict, err := e.judgeCandidates(ctx, original, candidates)
	if err != nil {
		return e.fallbackSelection(candidates), nil
	}
	return verdict, nil
}

// judgeCandidates submits original plus all candidates to the judge and
// parses its verdict.
func (e *Evaluator) judgeCandidates(ctx context.Context, original string, candidates []generator.Candidate) (*Selection, error) {
	req := provider.GenerateRequest{
		Prompt:      buildJudgePrompt(original, candidates),
		Temperature: judgeTemperature,
		MaxTokens:   judgeMaxTokens,
	}

	res, err := provider.Retry(ctx, e.judge.Name(), e.retry, func(callCtx context.Context) (*provider.GenerateResult, error) {
		return e.judge.Generate(callCtx, e.cfg, req)
	})
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	return parseVerdict(res.Text, candidates)
}

// fallbackSelection picks the candidate from the highest-priority configured
// provider. It can never leave a non-empty candidate set without a winner:
// when no candidate matches the priority list the first-arrived one wins.
func (e *Evaluator) fallbackSelection(candidates []generator.Candidate) *Selection {
	for _, name := range e.priority {
		for _, c := range candidates {
			if c.ProviderName == name {
				return &Selection{
					Candidate: c,
					Reasoning: fmt.Sprintf("judge unavailable; selected by provider preference (%s)", name),
					Fallback:  true,
				}
			}
		}
	}
	return &Selection{
		Candidate: candidates[0],
		Reasoning: "judge unavailable; selected first-arrived candidate",
		Fallback:  true,
	}
}

func buildJudgePrompt(original string, candidates []generator.Candidate) string {
	var sb strings.Builder
	sb.WriteString(`You are an expert evaluator of paraphrased text. Compare these paraphrased versions and select the BEST one based on:

1. Preservation of original meaning (40% weight)
2. Maintenance of academic/scientific style (30% weight)
3. Dissimilarity from the original (30% weight)

Original text:
`)
	sb.WriteString(original)
	sb.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		sb.WriteString(fmt.Sprintf("Candidate %d: %s\n", i, c.Text))
	}
	sb.WriteString(`
Respond with a JSON object containing:
{
    "best_index": <index of the best candidate, starting from 0>,
    "scores": [<score for candidate 0>, <score for candidate 1>, ...],
    "reasoning": "brief explanation"
}
`)
	return sb.String()
}

// jsonBlobRe extracts the first JSON object from a response that may wrap it
// in prose or code fences.
var jsonBlobRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseVerdict decodes the judge's JSON. When a full score vector is present
// it decides the winner: the highest score wins and equal scores keep the
// earlier arrival. Otherwise best_index is trusted as-is.
func parseVerdict(response string, candidates []generator.Candidate) (*Selection, error) {
	blob := jsonBlobRe.FindString(response)
	if blob == "" {
		return nil, fmt.Errorf("no JSON object in judge response")
	}

	var parsed struct {
		BestIndex int       `json:"best_index"`
		Scores    []float64 `json:"scores"`
		Reasoning string    `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse judge response as JSON: %w", err)
	}

	if len(parsed.Scores) >= len(candidates) {
		best := 0
		for i := 1; i < len(candidates); i++ {
			// Strictly greater: on a tie the earlier arrival stands.
			if parsed.Scores[i] > parsed.Scores[best] {
				best = i
			}
		}
		return &Selection{
			Candidate: candidates[best],
			Score:     parsed.Scores[best],
			Reasoning: parsed.Reasoning,
		}, nil
	}

	if parsed.BestIndex < 0 || parsed.BestIndex >= len(candidates) {
		return nil, fmt.Errorf("judge returned out-of-range index %d", parsed.BestIndex)
	}

	sel := &Selection{
		Candidate: candidates[parsed.BestIndex],
		Reasoning: parsed.Reasoning,
	}
	if parsed.BestIndex < len(parsed.Scores) {
		sel.Score = parsed.Scores[parsed.BestIndex]
	}
	return sel, nil
}
