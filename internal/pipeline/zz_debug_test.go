package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valpere/perefraz/internal"
	"github.com/valpere/perefraz/internal/provider"
	"github.com/valpere/perefraz/internal/store"
)

func TestZZDebugResume(t *testing.T) {
	dir := t.TempDir()
	body := `<w:p><w:r><w:t>first fragment text</w:t></w:r></w:p><w:p><w:r><w:t>second fragment text</w:t></w:r></w:p>`
	input := writeDocx(t, dir, body)

	st, err := store.New(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	defer st.Close()

	fragments := []internal.Fragment{
		{ID: "frag-001", OriginalText: "first fragment text", SourceOrder: 0},
		{ID: "frag-002", OriginalText: "second fragment text", SourceOrder: 1},
	}

	flaky := &mockProvider{
		nameVal: "alpha",
		generateFunc: func(ctx context.Context, cfg provider.Config, req provider.GenerateRequest) (*provider.GenerateResult, error) {
			if strings.Contains(req.Prompt, "second fragment") {
				return nil, provider.NewError("alpha", provider.KindUnavailable, fmt.Errorf("induced failure"))
			}
			return &provider.GenerateResult{ProviderName: "alpha", Text: "first rewritten"}, nil
		},
	}
	gen, eval := testStages(t, firstPickJudge(), flaky)
	p := New(gen, eval, nil, st, slog.New(slog.NewTextHandler(os.Stderr, nil)), Options{NoCache: true})

	summary, results, err := p.Run(context.Background(), input, filepath.Join(dir, "out1.docx"), fragments)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	t.Logf("summary: %+v", summary)
	for i, r := range results {
		t.Logf("result %d: err=%v final=%q prov=%s", i, r.Err, r.FinalText, r.SelectedProvider)
	}
	frs, err := st.GetJobFragments(context.Background(), summary.JobID)
	t.Logf("job fragments for %q: %v (err=%v)", summary.JobID, frs, err)

	err = st.SaveJobFragment(context.Background(), summary.JobID, 0, "probe")
	t.Logf("direct SaveJobFragment err=%v", err)
	frs, err = st.GetJobFragments(context.Background(), summary.JobID)
	t.Logf("after direct save: %v (err=%v)", frs, err)
}
