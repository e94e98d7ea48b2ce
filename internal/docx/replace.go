package docx

import (
	"fmt"
	"sort"
	"strings"
)

// Replacement pairs a located span with the text that replaces it.
type Replacement struct {
	Loc  Location
	Text string
}

// ConflictError reports that the document text at a location no longer
// matches what was found when the location was recorded.
type ConflictError struct {
	ParaIndex int
	Expected  string
	Found     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document structure conflict in paragraph %d: expected %q, found %q",
		e.ParaIndex, e.Expected, e.Found)
}

// Apply performs every replacement on the in-memory document. Spans are
// applied back to front, last paragraph first and rightmost span first
// within a paragraph, so pending locations are never invalidated by an
// earlier edit. Each span is verified against its recorded text before it
// is touched; a mismatch aborts with a ConflictError and nothing is written
// to disk until the caller saves.
func Apply(doc *Document, reps []Replacement) error {
	ordered := make([]Replacement, len(reps))
	copy(ordered, reps)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Loc, ordered[j].Loc
		if a.ParaIndex != b.ParaIndex {
			return a.ParaIndex > b.ParaIndex
		}
		if a.StartRun != b.StartRun {
			return a.StartRun > b.StartRun
		}
		return a.StartOffset > b.StartOffset
	})

	paras := doc.Paragraphs()
	for _, rep := range ordered {
		if rep.Loc.ParaIndex < 0 || rep.Loc.ParaIndex >= len(paras) {
			return &ConflictError{ParaIndex: rep.Loc.ParaIndex, Expected: rep.Loc.Matched}
		}
		if err := replaceSpan(paras[rep.Loc.ParaIndex], rep.Loc, rep.Text); err != nil {
			return err
		}
	}
	return nil
}

// spanText extracts the current text covered by loc, or an error when the
// run indices no longer fit the paragraph.
func spanText(para *Paragraph, loc Location) (string, error) {
	runs := para.Runs()
	if loc.StartRun < 0 || loc.EndRun >= len(runs) || loc.StartRun > loc.EndRun {
		return "", fmt.Errorf("run span [%d,%d] outside paragraph with %d runs",
			loc.StartRun, loc.EndRun, len(runs))
	}

	var sb strings.Builder
	for i := loc.StartRun; i <= loc.EndRun; i++ {
		text := []rune(runs[i].Text)
		start, end := 0, len(text)
		if i == loc.StartRun {
			start = loc.StartOffset
		}
		if i == loc.EndRun {
			end = loc.EndOffset
		}
		if start < 0 || end > len(text) || start > end {
			return "", fmt.Errorf("offsets [%d,%d] outside run of length %d", start, end, len(text))
		}
		sb.WriteString(string(text[start:end]))
	}
	return sb.String(), nil
}

// replaceSpan rewrites one located span. The replacement run inherits the
// formatting of the run where the match began; partial head and tail runs
// keep their own formatting. Unmodelled chunks inside the span (bookmarks,
// proofing marks) are preserved after the replacement.
func replaceSpan(para *Paragraph, loc Location, replacement string) error {
	found, err := spanText(para, loc)
	if err != nil {
		return &ConflictError{ParaIndex: loc.ParaIndex, Expected: loc.Matched, Found: ""}
	}
	if found != loc.Matched {
		return &ConflictError{ParaIndex: loc.ParaIndex, Expected: loc.Matched, Found: found}
	}

	var out []pnode
	runIdx := -1
	for _, n := range para.nodes {
		if n.run == nil {
			out = append(out, n)
			continue
		}
		runIdx++
		r := n.run

		switch {
		case runIdx < loc.StartRun || runIdx > loc.EndRun:
			out = append(out, n)

		case runIdx == loc.StartRun:
			text := []rune(r.Text)
			if prefix := string(text[:loc.StartOffset]); prefix != "" {
				out = append(out, pnode{run: &Run{Props: r.Props, Text: prefix}})
			}
			if replacement != "" {
				out = append(out, pnode{run: &Run{Props: r.Props, Text: replacement}})
			}
			if runIdx == loc.EndRun {
				if suffix := string(text[loc.EndOffset:]); suffix != "" {
					out = append(out, pnode{run: &Run{Props: r.Props, Text: suffix}})
				}
			}

		case runIdx == loc.EndRun:
			text := []rune(r.Text)
			if suffix := string(text[loc.EndOffset:]); suffix != "" {
				out = append(out, pnode{run: &Run{Props: r.Props, Text: suffix}})
			}

			// Runs strictly inside the span are consumed.
		}
	}
	para.nodes = out
	return nil
}
