package generator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/perefraz/internal/provider"
)

type mockProvider struct {
	nameVal      string
	generateFunc func(ctx context.Context, cfg provider.Config, req provider.GenerateRequest) (*provider.GenerateResult, error)
	callCount    atomic.Int32
}

func (m *mockProvider) Name() string { return m.nameVal }

func (m *mockProvider) Generate(ctx context.Context, cfg provider.Config, req provider.GenerateRequest) (*provider.GenerateResult, error) {
	m.callCount.Add(1)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, cfg, req)
	}
	return &provider.GenerateResult{ProviderName: m.nameVal, Text: "mock paraphrase"}, nil
}

func (m *mockProvider) IsAvailable(ctx context.Context) error { return nil }

func succeedWith(name, text string) *mockProvider {
	return &mockProvider{
		nameVal: name,
		generateFunc: func(ctx context.Context, cfg provider.Config, req provider.GenerateRequest) (*provider.GenerateResult, error) {
			return &provider.GenerateResult{ProviderName: name, Text: text}, nil
		},
	}
}

func failWith(name string, kind provider.ErrorKind) *mockProvider {
	return &mockProvider{
		nameVal: name,
		generateFunc: func(ctx context.Context, cfg provider.Config, req provider.GenerateRequest) (*provider.GenerateResult, error) {
			return nil, provider.NewError(name, kind, fmt.Errorf("induced failure"))
		},
	}
}

func testConfig() Config {
	return Config{
		Deadline:       2 * time.Second,
		Retry:          provider.RetryPolicy{MaxAttempts: 1},
		SkipValidation: true,
	}
}

func TestGenerator_AllSucceed(t *testing.T) {
	g := New([]provider.Provider{
		succeedWith("alpha", "candidate a"),
		succeedWith("beta", "candidate b"),
		succeedWith("gamma", "candidate c"),
	}, testConfig())

	result := g.Generate(context.Background(), provider.Config{}, "original text", "")

	if result.Succeeded != 3 {
		t.Fatalf("Succeeded = %d, want 3", result.Succeeded)
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %d, want 0", len(result.Failed))
	}

	// Arrival indices must be sequential and match slice positions.
	for i, c := range result.Candidates {
		if c.Arrival != i {
			t.Errorf("candidate %d has Arrival = %d", i, c.Arrival)
		}
		if !c.Succeeded {
			t.Errorf("candidate %d not marked succeeded", i)
		}
	}
}

func TestGenerator_PartialFailure(t *testing.T) {
	g := New([]provider.Provider{
		succeedWith("alpha", "candidate a"),
		failWith("beta", provider.KindAuthFailure),
	}, testConfig())

	result := g.Generate(context.Background(), provider.Config{}, "original text", "")

	if result.Succeeded != 1 {
		t.Fatalf("Succeeded = %d, want 1", result.Succeeded)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %d, want 1", len(result.Failed))
	}
	if result.Failed[0].ProviderName != "beta" {
		t.Errorf("failed provider = %s", result.Failed[0].ProviderName)
	}
	if result.Failed[0].ErrorKind != provider.KindAuthFailure {
		t.Errorf("failed kind = %s", result.Failed[0].ErrorKind)
	}
}

func TestGenerator_AllFail(t *testing.T) {
	g := New([]provider.Provider{
		failWith("alpha", provider.KindUnavailable),
		failWith("beta", provider.KindInvalidResponse),
	}, testConfig())

	result := g.Generate(context.Background(), provider.Config{}, "original text", "")

	if result.Succeeded != 0 {
		t.Errorf("Succeeded = %d, want 0", result.Succeeded)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("Candidates = %d, want 0", len(result.Candidates))
	}
	if len(result.Failed) != 2 {
		t.Errorf("Failed = %d, want 2", len(result.Failed))
	}
}

func TestGenerator_HungProviderDoesNotBlock(t *testing.T) {
	hung := &mockProvider{
		nameVal: "hung",
		generateFunc: func(ctx context.Context, cfg provider.Config, req provider.GenerateRequest) (*provider.GenerateResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	cfg := testConfig()
	cfg.Deadline = 100 * time.Millisecond
	g := New([]provider.Provider{succeedWith("fast", "quick candidate"), hung}, cfg)

	start := time.Now()
	result := g.Generate(context.Background(), provider.Config{}, "original text", "")
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("Generate blocked for %v, deadline was 100ms", elapsed)
	}
	if result.Succeeded != 1 {
		t.Fatalf("Succeeded = %d, want 1", result.Succeeded)
	}

	var hungFailure *Candidate
	for i := range result.Failed {
		if result.Failed[i].ProviderName == "hung" {
			hungFailure = &result.Failed[i]
		}
	}
	if hungFailure == nil {
		t.Fatal("hung provider missing from Failed")
	}
	if hungFailure.ErrorKind != provider.KindTimeout {
		t.Errorf("hung provider kind = %s, want %s", hungFailure.ErrorKind, provider.KindTimeout)
	}
}

func TestGenerator_ValidationRejectsEcho(t *testing.T) {
	original := "The quick brown fox jumps over the lazy dog near the river bank."

	cfg := testConfig()
	cfg.SkipValidation = false
	g := New([]provider.Provider{
		succeedWith("echo", original), // identical, must be rejected
		succeedWith("honest", "A fast brown fox leaps across the idle dog beside the riverside."),
	}, cfg)

	result := g.Generate(context.Background(), provider.Config{}, original, "")

	if result.Succeeded != 1 {
		t.Fatalf("Succeeded = %d, want 1 (echo rejected)", result.Succeeded)
	}
	if result.Candidates[0].ProviderName != "honest" {
		t.Errorf("surviving candidate = %s", result.Candidates[0].ProviderName)
	}
	if len(result.Failed) != 1 || result.Failed[0].ErrorKind != provider.KindInvalidResponse {
		t.Errorf("echo rejection missing from Failed: %+v", result.Failed)
	}
}

func TestGenerator_CandidateArtifactsCleaned(t *testing.T) {
	g := New([]provider.Provider{
		succeedWith("noisy", "<think>reasoning goes here</think>\n\"A cleaned paraphrase.\""),
	}, testConfig())

	result := g.Generate(context.Background(), provider.Config{}, "some original", "")

	if result.Succeeded != 1 {
		t.Fatalf("Succeeded = %d, want 1", result.Succeeded)
	}
	if got := result.Candidates[0].Text; got != "A cleaned paraphrase." {
		t.Errorf("candidate text = %q, want artifacts stripped", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Original fragment.", "")

	if !strings.Contains(prompt, "Original fragment.") {
		t.Error("prompt missing the fragment text")
	}
	if !strings.Contains(prompt, "paraphrase") {
		t.Error("prompt missing the task description")
	}

	withHint := BuildPrompt("Original fragment.", "Preserve all [REFn] markers exactly.")
	if !strings.Contains(withHint, "[REFn]") {
		t.Error("prompt missing the hint")
	}
}
