// Package pipeline runs fragments through generation, evaluation and
// humanization, then rewrites a source document with the winning texts.
// Fragments fail independently; the document is mutated all-or-nothing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/perefraz/internal"
	"github.com/valpere/perefraz/internal/citation"
	"github.com/valpere/perefraz/internal/docx"
	"github.com/valpere/perefraz/internal/evaluator"
	"github.com/valpere/perefraz/internal/generator"
	"github.com/valpere/perefraz/internal/humanizer"
	"github.com/valpere/perefraz/internal/provider"
	"github.com/valpere/perefraz/internal/store"
)

// FragmentErrorCode classifies why a fragment produced no replacement.
type FragmentErrorCode string

const (
	// CodeNoCandidates means every provider failed for this fragment.
	CodeNoCandidates FragmentErrorCode = "no_candidates"
	// CodeNotFound means the fragment text does not occur in the document.
	CodeNotFound FragmentErrorCode = "fragment_not_found"
)

// FragmentError is a per-fragment failure. Other fragments keep going.
type FragmentError struct {
	Code       FragmentErrorCode
	FragmentID string
	Err        error
}

func (e *FragmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fragment %s: %s: %v", e.FragmentID, e.Code, e.Err)
	}
	return fmt.Sprintf("fragment %s: %s", e.FragmentID, e.Code)
}

func (e *FragmentError) Unwrap() error { return e.Err }

// FragmentResult is the outcome of paraphrasing one fragment.
type FragmentResult struct {
	Fragment         internal.Fragment
	FinalText        string
	SelectedProvider string
	Score            float64
	Humanized        bool
	FromCache        bool
	Fallback         bool
	Err              *FragmentError
}

// Summary counts what a document run did.
type Summary struct {
	FragmentsTotal       int
	FragmentsParaphrased int
	FragmentsFailed      int
	OccurrencesReplaced  int
	NotFound             []string

	// JobID identifies the persisted run record; rerunning with it replays
	// completed fragments instead of regenerating them.
	JobID   string
	Elapsed time.Duration
}

// Options control a pipeline run.
type Options struct {
	// Concurrency bounds how many fragments are in flight at once.
	Concurrency int
	// FirstOnly replaces only the first occurrence of each fragment.
	FirstOnly bool
	// NoCache skips paraphrase memory lookups (results are still saved).
	NoCache bool
	// FuzzyThreshold, when above zero, enables a near-match memory lookup
	// after an exact cache miss. Values are 0 to 1; 0.8 means the cached
	// source may differ from the fragment by up to 20 percent.
	FuzzyThreshold float64
	// ResumeJobID replays fragments already completed by an earlier run
	// instead of regenerating them. Requires a store.
	ResumeJobID string
	// DocumentName is recorded with persisted requests.
	DocumentName string
}

// Pipeline wires the stages together. The humanizer and store are optional;
// nil disables the refinement pass or persistence respectively.
type Pipeline struct {
	gen    *generator.Generator
	eval   *evaluator.Evaluator
	human  *humanizer.Humanizer
	store  *store.Store
	logger *slog.Logger
	opts   Options
}

func New(gen *generator.Generator, eval *evaluator.Evaluator, human *humanizer.Humanizer, st *store.Store, logger *slog.Logger, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{gen: gen, eval: eval, human: human, store: st, logger: logger, opts: opts}
}

// ParaphraseAll processes every fragment with bounded concurrency and
// returns results in the fragments' original order. Per-fragment failures
// are recorded in the result, not returned; the error is non-nil only when
// the context is cancelled.
func (p *Pipeline) ParaphraseAll(ctx context.Context, fragments []internal.Fragment) ([]FragmentResult, error) {
	return p.paraphraseAll(ctx, fragments, "", nil)
}

// paraphraseAll is ParaphraseAll plus job bookkeeping. A non-empty jobID
// persists each successful fragment so an interrupted run can resume;
// resumed maps fragment source order to final texts replayed from an
// earlier run under the same job.
func (p *Pipeline) paraphraseAll(ctx context.Context, fragments []internal.Fragment, jobID string, resumed map[int]string) ([]FragmentResult, error) {
	results := make([]FragmentResult, len(fragments))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, frag := range fragments {
		i, frag := i, frag
		g.Go(func() error {
			if text, ok := resumed[frag.SourceOrder]; ok {
				p.logger.Info("fragment resumed",
					"stage", "resume", "fragment_id", frag.ID, "job_id", jobID)
				results[i] = FragmentResult{
					Fragment:         frag,
					FinalText:        text,
					SelectedProvider: "resume",
					FromCache:        true,
				}
				return nil
			}
			results[i] = p.paraphraseOne(gCtx, frag)
			if jobID != "" && results[i].Err == nil {
				if err := p.store.SaveJobFragment(gCtx, jobID, frag.SourceOrder, results[i].FinalText); err != nil {
					p.logger.Warn("failed to persist job fragment",
						"fragment_id", frag.ID, "job_id", jobID, "error", err)
				}
			}
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Pipeline) paraphraseOne(ctx context.Context, frag internal.Fragment) FragmentResult {
	result := FragmentResult{Fragment: frag}
	start := time.Now()
	log := p.logger.With("fragment_id", frag.ID)

	if p.store != nil && !p.opts.NoCache {
		cached, hit, err := p.store.GetCachedParaphrase(ctx, frag.OriginalText)
		if err != nil {
			log.Warn("cache lookup failed", "error", err)
		}
		if !hit && p.opts.FuzzyThreshold > 0 {
			cached, hit, err = p.store.FuzzyGetCachedParaphrase(ctx, frag.OriginalText, p.opts.FuzzyThreshold)
			if err != nil {
				log.Warn("fuzzy cache lookup failed", "error", err)
			}
		}
		if hit {
			log.Info("cache hit", "stage", "cache", "dur_ms", time.Since(start).Milliseconds())
			result.FinalText = cached
			result.SelectedProvider = "cache"
			result.FromCache = true
			return result
		}
	}

	protected, markers := citation.Protect(frag.OriginalText)
	hint := ""
	if len(markers) > 0 {
		hint = citation.InstructionHint()
	}

	requestID := uuid.New().String()
	genStart := time.Now()
	genResult := p.gen.Generate(ctx, provider.Config{}, protected, hint)
	log.Info("generation done",
		"stage", "generate",
		"request_id", requestID,
		"candidates", len(genResult.Candidates),
		"failed", len(genResult.Failed),
		"dur_ms", time.Since(genStart).Milliseconds())

	p.persistCandidates(ctx, requestID, frag, genResult)

	if len(genResult.Candidates) == 0 {
		result.Err = &FragmentError{
			Code:       CodeNoCandidates,
			FragmentID: frag.ID,
			Err:        fmt.Errorf("all providers failed: %s", describeFailures(genResult.Failed)),
		}
		log.Error("fragment failed", "stage", "generate", "outcome", string(CodeNoCandidates))
		return result
	}

	sel, err := p.eval.Select(ctx, protected, genResult.Candidates)
	if err != nil {
		// Unreachable with a non-empty candidate set, but never drop a
		// fragment that has usable candidates.
		sel = &evaluator.Selection{Candidate: genResult.Candidates[0], Fallback: true}
	}
	log.Info("candidate selected",
		"stage", "evaluate",
		"provider", sel.Candidate.ProviderName,
		"score", sel.Score,
		"fallback", sel.Fallback)

	final := sel.Candidate.Text
	if p.human != nil {
		refined, applied, err := p.human.Humanize(ctx, final, hint)
		if err != nil {
			log.Warn("humanization skipped", "stage", "humanize", "error", err)
		}
		final = refined
		result.Humanized = applied
	}

	final = citation.Restore(final, markers)
	if missing := citation.Validate(final, markers); len(missing) > 0 {
		log.Warn("citations lost during paraphrase", "stage", "restore", "missing", len(missing))
	}

	result.FinalText = final
	result.SelectedProvider = sel.Candidate.ProviderName
	result.Score = sel.Score
	result.Fallback = sel.Fallback

	p.persistFinal(ctx, requestID, frag, &result, sel.Reasoning)

	log.Info("fragment done",
		"stage", "done",
		"provider", result.SelectedProvider,
		"humanized", result.Humanized,
		"dur_ms", time.Since(start).Milliseconds())
	return result
}

func (p *Pipeline) persistCandidates(ctx context.Context, requestID string, frag internal.Fragment, genResult *generator.Result) {
	if p.store == nil {
		return
	}
	req := internal.ParaphraseRequest{
		ID:           requestID,
		DocumentName: p.opts.DocumentName,
		Timestamp:    time.Now(),
	}
	if err := p.store.SaveRequest(ctx, req, frag.OriginalText); err != nil {
		p.logger.Warn("failed to persist request", "fragment_id", frag.ID, "error", err)
		return
	}
	for _, c := range append(genResult.Candidates, genResult.Failed...) {
		errMsg := ""
		if c.Err != nil {
			errMsg = c.Err.Error()
		}
		if err := p.store.SaveCandidate(ctx, requestID, c.ProviderName, c.Text, int(c.Latency.Milliseconds()), errMsg); err != nil {
			p.logger.Warn("failed to persist candidate", "fragment_id", frag.ID, "provider", c.ProviderName, "error", err)
		}
	}
}

func (p *Pipeline) persistFinal(ctx context.Context, requestID string, frag internal.Fragment, result *FragmentResult, reasoning string) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveFinalParaphrase(ctx, requestID, result.SelectedProvider, result.FinalText, result.Humanized, reasoning); err != nil {
		p.logger.Warn("failed to persist final paraphrase", "fragment_id", frag.ID, "error", err)
	}
	if err := p.store.SaveToMemory(ctx, frag.OriginalText, result.FinalText, result.SelectedProvider); err != nil {
		p.logger.Warn("failed to persist memory entry", "fragment_id", frag.ID, "error", err)
	}
}

func describeFailures(failed []generator.Candidate) string {
	if len(failed) == 0 {
		return "no providers configured"
	}
	parts := make([]string, 0, len(failed))
	for _, c := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", c.ProviderName, c.ErrorKind))
	}
	return strings.Join(parts, "; ")
}

// RewriteDocument locates every successfully paraphrased fragment in the
// document and applies the replacements back to front. Fragments whose text
// does not occur anywhere are marked not found in their result and counted
// in the summary; a structural conflict aborts the whole rewrite so a
// half-mutated document is never saved.
func (p *Pipeline) RewriteDocument(doc *docx.Document, results []FragmentResult) (*Summary, error) {
	summary := &Summary{FragmentsTotal: len(results)}

	var reps []docx.Replacement
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			summary.FragmentsFailed++
			continue
		}

		locs := docx.FindAll(doc, r.Fragment.OriginalText)
		if len(locs) == 0 {
			r.Err = &FragmentError{Code: CodeNotFound, FragmentID: r.Fragment.ID}
			summary.FragmentsFailed++
			summary.NotFound = append(summary.NotFound, r.Fragment.ID)
			p.logger.Warn("fragment not found in document",
				"stage", "locate", "fragment_id", r.Fragment.ID)
			continue
		}
		if p.opts.FirstOnly {
			locs = locs[:1]
		}

		summary.FragmentsParaphrased++
		for _, loc := range locs {
			reps = append(reps, docx.Replacement{Loc: loc, Text: r.FinalText})
		}
		p.logger.Info("fragment located",
			"stage", "locate",
			"fragment_id", r.Fragment.ID,
			"occurrences", len(locs))
	}

	if err := docx.Apply(doc, reps); err != nil {
		return summary, fmt.Errorf("document rewrite aborted: %w", err)
	}
	summary.OccurrencesReplaced = len(reps)
	return summary, nil
}

// Run is the end-to-end document operation: paraphrase every fragment, open
// the document, rewrite it and save the result to outputPath. The input file
// is never modified. Fragment results are returned alongside the summary so
// callers can report per-fragment outcomes.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string, fragments []internal.Fragment) (*Summary, []FragmentResult, error) {
	start := time.Now()

	doc, err := docx.OpenFile(inputPath)
	if err != nil {
		return nil, nil, err
	}

	var jobID string
	var resumed map[int]string
	if p.store != nil {
		if p.opts.ResumeJobID != "" {
			jobID = p.opts.ResumeJobID
			if _, err := p.store.GetJob(ctx, jobID); err != nil {
				return nil, nil, fmt.Errorf("resume: %w", err)
			}
			resumed, err = p.store.GetJobFragments(ctx, jobID)
			if err != nil {
				return nil, nil, fmt.Errorf("resume: %w", err)
			}
			p.logger.Info("resuming job",
				"stage", "resume", "job_id", jobID, "completed_fragments", len(resumed))
		} else {
			jobID, err = p.store.CreateJob(ctx, inputPath, outputPath)
			if err != nil {
				p.logger.Warn("failed to record job", "error", err)
				jobID = ""
			}
		}
	}

	results, err := p.paraphraseAll(ctx, fragments, jobID, resumed)
	if err != nil {
		return nil, results, err
	}

	summary, err := p.RewriteDocument(doc, results)
	if summary != nil {
		summary.JobID = jobID
	}
	if err != nil {
		return summary, results, err
	}

	if err := doc.SaveFile(outputPath); err != nil {
		return summary, results, err
	}

	if jobID != "" && summary.FragmentsFailed == 0 {
		if err := p.store.CompleteJob(ctx, jobID); err != nil {
			p.logger.Warn("failed to mark job completed", "job_id", jobID, "error", err)
		}
	}

	summary.Elapsed = time.Since(start)
	p.logger.Info("document processed",
		"stage", "save",
		"output", outputPath,
		"replaced", summary.OccurrencesReplaced,
		"failed", summary.FragmentsFailed,
		"dur_ms", summary.Elapsed.Milliseconds())
	return summary, results, nil
}
