// Package generator fans one fragment out to every configured provider in
// parallel and collects whichever candidates succeed within a deadline.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valpere/perefraz/internal/postprocess"
	"github.com/valpere/perefraz/internal/provider"
	"github.com/valpere/perefraz/internal/validator"
)

// Candidate is one provider's proposed replacement text for a fragment.
// Arrival records the order in which candidates were received; evaluation
// ties are broken by it so selection stays deterministic.
type Candidate struct {
	ProviderName string
	Text         string
	Latency      time.Duration
	Arrival      int
	Succeeded    bool
	ErrorKind    provider.ErrorKind
	Err          error
}

// Config controls the fan-out.
type Config struct {
	// Deadline bounds one fragment's fan-out including all retries.
	Deadline time.Duration
	// Retry is applied per provider call.
	Retry provider.RetryPolicy
	// SkipValidation disables the candidate sanity checks.
	SkipValidation bool
	// Temperature and MaxTokens are the sampling parameters for generation.
	Temperature float64
	MaxTokens   int
}

// Result is the outcome of one fragment's fan-out.
type Result struct {
	// Candidates holds the successful candidates in arrival order.
	Candidates []Candidate
	// Failed holds one entry per provider that produced nothing usable.
	Failed    []Candidate
	Succeeded int
}

// Generator issues one generate call per provider, run concurrently.
type Generator struct {
	providers []provider.Provider
	config    Config
	validator *validator.Validator
}

// New creates a Generator over the given provider roster. The roster's order
// is the static preference order used by downstream fallback selection.
func New(providers []provider.Provider, config Config) *Generator {
	if config.Deadline <= 0 {
		config.Deadline = 90 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = provider.DefaultRetryPolicy
	}
	if config.Temperature == 0 {
		config.Temperature = provider.DefaultTemperature
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = provider.DefaultMaxTokens
	}

	g := &Generator{providers: providers, config: config}
	if !config.SkipValidation {
		g.validator = validator.New()
	}
	return g
}

// Providers returns the configured roster in preference order.
func (g *Generator) Providers() []provider.Provider {
	return g.providers
}

// Generate fans text out to all providers and returns the candidate set. It
// never blocks past the configured deadline: calls still outstanding when the
// deadline elapses are cancelled and counted as failed with a timeout kind.
// An empty candidate set is a reportable condition, not an error here.
func (g *Generator) Generate(ctx context.Context, cfg provider.Config, text string, hint string) *Result {
	result := &Result{}

	fanCtx, cancel := context.WithTimeout(ctx, g.config.Deadline)
	defer cancel()

	type provResult struct {
		name string
		res  *provider.GenerateResult
		err  error
	}

	// Buffered so a sender can never block after the deadline fires.
	results := make(chan provResult, len(g.providers))

	req := provider.GenerateRequest{
		Prompt:      BuildPrompt(text, hint),
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	}

	for _, p := range g.providers {
		go func(p provider.Provider) {
			res, err := provider.Retry(fanCtx, p.Name(), g.config.Retry, func(callCtx context.Context) (*provider.GenerateResult, error) {
				return p.Generate(callCtx, cfg, req)
			})
			results <- provResult{name: p.Name(), res: res, err: err}
		}(p)
	}

	arrival := 0
	received := map[string]bool{}

	for len(received) < len(g.providers) {
		select {
		case pr := <-results:
			received[pr.name] = true
			cand := g.collect(pr.name, pr.res, pr.err, text)
			if cand.Succeeded {
				cand.Arrival = arrival
				arrival++
				result.Candidates = append(result.Candidates, cand)
				result.Succeeded++
			} else {
				result.Failed = append(result.Failed, cand)
			}

		case <-fanCtx.Done():
			cancel()
			// Drain results that arrived in the same instant the
			// deadline fired; only truly outstanding calls time out.
			for drained := true; drained && len(received) < len(g.providers); {
				select {
				case pr := <-results:
					received[pr.name] = true
					cand := g.collect(pr.name, pr.res, pr.err, text)
					if cand.Succeeded {
						cand.Arrival = arrival
						arrival++
						result.Candidates = append(result.Candidates, cand)
						result.Succeeded++
					} else {
						result.Failed = append(result.Failed, cand)
					}
				default:
					drained = false
				}
			}
			for _, p := range g.providers {
				if !received[p.Name()] {
					result.Failed = append(result.Failed, Candidate{
						ProviderName: p.Name(),
						Latency:      g.config.Deadline,
						ErrorKind:    provider.KindTimeout,
						Err:          fmt.Errorf("%s: deadline elapsed before response", p.Name()),
					})
				}
			}
			return result
		}
	}

	return result
}

// collect turns one provider outcome into a Candidate, applying validation.
func (g *Generator) collect(name string, res *provider.GenerateResult, err error, original string) Candidate {
	cand := Candidate{ProviderName: name}
	if res != nil {
		cand.Latency = res.Latency
	}

	if err != nil {
		cand.ErrorKind = provider.KindOf(err)
		cand.Err = err
		return cand
	}

	text := postprocess.Clean(res.Text)
	if g.validator != nil {
		if ok, verr := g.validator.IsValid(text, original); !ok {
			cand.ErrorKind = provider.KindInvalidResponse
			cand.Err = fmt.Errorf("%s: rejected candidate: %w", name, verr)
			return cand
		}
	} else if text == "" {
		cand.ErrorKind = provider.KindInvalidResponse
		cand.Err = fmt.Errorf("%s: empty candidate", name)
		return cand
	}

	cand.Text = text
	cand.Succeeded = true
	return cand
}

// BuildPrompt renders the generation prompt for one fragment. hint, when
// non-empty, is appended as an extra instruction (citation placeholders).
func BuildPrompt(text, hint string) string {
	var sb strings.Builder
	sb.WriteString(`You are an expert in academic and scientific writing. Your task is to paraphrase the following text while:
1. Preserving the exact meaning and all key information
2. Maintaining the academic/scientific style and terminology
3. Ensuring the new version is significantly different from the original
4. Keeping the same level of formality and technical precision
`)
	if hint != "" {
		sb.WriteString(hint)
		sb.WriteString("\n")
	}
	sb.WriteString("\nOriginal text:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nProvide ONLY the paraphrased version, without any explanations or metadata.")
	return sb.String()
}
