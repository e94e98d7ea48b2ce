package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/valpere/perefraz/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemory_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToMemory(ctx, "source text", "paraphrased text", "openai"); err != nil {
		t.Fatalf("SaveToMemory failed: %v", err)
	}

	got, hit, err := s.GetCachedParaphrase(ctx, "source text")
	if err != nil {
		t.Fatalf("GetCachedParaphrase failed: %v", err)
	}
	if !hit || got != "paraphrased text" {
		t.Errorf("got %q hit=%v, want a hit with the stored text", got, hit)
	}

	_, hit, err = s.GetCachedParaphrase(ctx, "never stored")
	if err != nil {
		t.Fatalf("GetCachedParaphrase failed: %v", err)
	}
	if hit {
		t.Error("unexpected hit for unknown source text")
	}
}

func TestMemory_KeyNormalization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Stored with surrounding whitespace and a decomposed accent; looked up
	// trimmed and composed. Both normalize to the same cache key.
	if err := s.SaveToMemory(ctx, "  résumé text \n", "cached", "openai"); err != nil {
		t.Fatalf("SaveToMemory failed: %v", err)
	}

	got, hit, err := s.GetCachedParaphrase(ctx, "résumé text")
	if err != nil {
		t.Fatalf("GetCachedParaphrase failed: %v", err)
	}
	if !hit || got != "cached" {
		t.Errorf("got %q hit=%v, want a hit via the normalized key", got, hit)
	}
}

func TestMemory_SameSourceReplacesEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToMemory(ctx, "source text", "first version", "openai"); err != nil {
		t.Fatalf("SaveToMemory failed: %v", err)
	}
	if err := s.SaveToMemory(ctx, "source text", "second version", "anthropic"); err != nil {
		t.Fatalf("SaveToMemory failed: %v", err)
	}

	got, hit, err := s.GetCachedParaphrase(ctx, "source text")
	if err != nil {
		t.Fatalf("GetCachedParaphrase failed: %v", err)
	}
	if !hit || got != "second version" {
		t.Errorf("got %q hit=%v, want the replacing entry", got, hit)
	}

	entries, err := s.ListMemory(ctx)
	if err != nil {
		t.Fatalf("ListMemory failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1 (same source replaces)", len(entries))
	}
}

func TestMemory_UsageCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToMemory(ctx, "source text", "cached", "openai"); err != nil {
		t.Fatalf("SaveToMemory failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, err := s.GetCachedParaphrase(ctx, "source text"); err != nil {
			t.Fatalf("GetCachedParaphrase failed: %v", err)
		}
	}

	entries, err := s.ListMemory(ctx)
	if err != nil {
		t.Fatalf("ListMemory failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].UsageCount != 3 {
		t.Errorf("usage count = %d, want 3 (initial save plus two hits)", entries[0].UsageCount)
	}
}

func TestMemory_InvalidateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToMemory(ctx, "source text", "cached", "openai"); err != nil {
		t.Fatalf("SaveToMemory failed: %v", err)
	}
	entries, err := s.ListMemory(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListMemory = %v entries, err %v", len(entries), err)
	}

	if err := s.InvalidateMemory(ctx, entries[0].ID); err != nil {
		t.Fatalf("InvalidateMemory failed: %v", err)
	}
	if _, hit, _ := s.GetCachedParaphrase(ctx, "source text"); hit {
		t.Error("invalidated entry still served from cache")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEntries != 1 || stats.ActiveEntries != 0 || stats.InvalidEntries != 1 {
		t.Errorf("stats = %+v, want 1 total / 0 active / 1 invalid", stats)
	}

	if err := s.DeleteMemory(ctx, entries[0].ID); err != nil {
		t.Fatalf("DeleteMemory failed: %v", err)
	}
	entries, err = s.ListMemory(ctx)
	if err != nil {
		t.Fatalf("ListMemory failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d after delete, want 0", len(entries))
	}
}

func TestMemory_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, src := range []string{"first", "second", "third"} {
		if err := s.SaveToMemory(ctx, src, "cached "+src, "openai"); err != nil {
			t.Fatalf("SaveToMemory failed: %v", err)
		}
	}

	n, err := s.ClearMemory(ctx)
	if err != nil {
		t.Fatalf("ClearMemory failed: %v", err)
	}
	if n != 3 {
		t.Errorf("cleared = %d, want 3", n)
	}
	if _, hit, _ := s.GetCachedParaphrase(ctx, "first"); hit {
		t.Error("entry survived ClearMemory")
	}
}

func TestRequestHistoryPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := internal.ParaphraseRequest{
		ID:           "req-1",
		DocumentName: "thesis.docx",
		Timestamp:    time.Now(),
	}
	if err := s.SaveRequest(ctx, req, "original fragment text"); err != nil {
		t.Fatalf("SaveRequest failed: %v", err)
	}
	if err := s.SaveCandidate(ctx, "req-1", "openai", "candidate text", 412, ""); err != nil {
		t.Fatalf("SaveCandidate failed: %v", err)
	}
	if err := s.SaveCandidate(ctx, "req-1", "anthropic", "", 95, "unavailable"); err != nil {
		t.Fatalf("SaveCandidate failed: %v", err)
	}
	if err := s.SaveFinalParaphrase(ctx, "req-1", "openai", "final text", true, "clearest rendering"); err != nil {
		t.Fatalf("SaveFinalParaphrase failed: %v", err)
	}

	// A second request with the same ID must be rejected, not silently merged.
	if err := s.SaveRequest(ctx, req, "other text"); err == nil {
		t.Error("duplicate request ID accepted")
	}
}

func TestDocumentJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jobID, err := s.CreateJob(ctx, "in.docx", "out.docx")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != "running" || job.InputFile != "in.docx" || job.OutputFile != "out.docx" {
		t.Errorf("job = %+v, want a running record of both paths", job)
	}

	if err := s.SaveJobFragment(ctx, jobID, 0, "first final"); err != nil {
		t.Fatalf("SaveJobFragment failed: %v", err)
	}
	if err := s.SaveJobFragment(ctx, jobID, 2, "third final"); err != nil {
		t.Fatalf("SaveJobFragment failed: %v", err)
	}
	// Replaying the same index overwrites instead of erroring, so a resumed
	// run can redo a fragment.
	if err := s.SaveJobFragment(ctx, jobID, 0, "first final redone"); err != nil {
		t.Fatalf("SaveJobFragment replay failed: %v", err)
	}

	fragments, err := s.GetJobFragments(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJobFragments failed: %v", err)
	}
	if len(fragments) != 2 || fragments[0] != "first final redone" || fragments[2] != "third final" {
		t.Errorf("fragments = %v", fragments)
	}

	if err := s.CompleteJob(ctx, jobID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	job, err = s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}

	if _, err := s.GetJob(ctx, "job_missing"); err == nil {
		t.Error("expected an error for an unknown job ID")
	}
}

func TestFuzzyGetCachedParaphrase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToMemory(ctx, "the quick brown fox jumps over the lazy dog", "cached paraphrase", "openai"); err != nil {
		t.Fatalf("SaveToMemory failed: %v", err)
	}

	// One changed word is well above 0.8 similarity.
	got, hit, err := s.FuzzyGetCachedParaphrase(ctx, "the quick brown fox leaps over the lazy dog", 0.8)
	if err != nil {
		t.Fatalf("FuzzyGetCachedParaphrase failed: %v", err)
	}
	if !hit || got != "cached paraphrase" {
		t.Errorf("got %q hit=%v, want a fuzzy hit", got, hit)
	}

	_, hit, err = s.FuzzyGetCachedParaphrase(ctx, "completely unrelated sentence about databases", 0.8)
	if err != nil {
		t.Fatalf("FuzzyGetCachedParaphrase failed: %v", err)
	}
	if hit {
		t.Error("unexpected fuzzy hit for unrelated text")
	}

	// Threshold zero disables fuzzy matching entirely.
	_, hit, err = s.FuzzyGetCachedParaphrase(ctx, "the quick brown fox jumps over the lazy dog", 0)
	if err != nil {
		t.Fatalf("FuzzyGetCachedParaphrase failed: %v", err)
	}
	if hit {
		t.Error("fuzzy matching ran with a zero threshold")
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"привіт", "привет", 1},
		{"same", "same", 0},
	}
	for _, tc := range cases {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestStringSimilarity(t *testing.T) {
	if got := stringSimilarity("abcd", "abcd"); got != 1.0 {
		t.Errorf("identical strings = %v, want 1.0", got)
	}
	if got := stringSimilarity("abcd", "abce"); got != 0.75 {
		t.Errorf("one edit over four runes = %v, want 0.75", got)
	}
	if got := stringSimilarity("", ""); got != 1.0 {
		t.Errorf("empty strings = %v, want 1.0", got)
	}
}
