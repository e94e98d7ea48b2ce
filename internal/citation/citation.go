// Package citation protects bibliographic markers inside a fragment during
// paraphrasing by replacing them with numbered placeholders ([REF0], [REF1],
// …) that the models are instructed to preserve. After the final text is
// produced, Restore substitutes the markers back, so citations survive the
// rewrite verbatim.
package citation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// bracketed citations: [14], [39, c. 126], [7; 12]
	reBracketCite = regexp.MustCompile(`\[\d+(?:[,;]\s*(?:[сc]\.\s*)?\d+)*\]`)

	// page references outside brackets: "с. 51" / "c. 51"
	rePageRef = regexp.MustCompile(`[сc]\.\s*\d+`)

	// placeholder reference in generated text
	rePlaceholder = regexp.MustCompile(`\[REF(\d+)\]`)
)

// Protect replaces citation markers with numbered placeholders [REF0],
// [REF1], … in the order they appear in text. It returns the modified text
// and the slice of captured originals so Restore can put them back.
func Protect(text string) (string, []string) {
	var markers []string
	counter := 0

	replace := func(match string) string {
		id := fmt.Sprintf("[REF%d]", counter)
		markers = append(markers, match)
		counter++
		return id
	}

	// Bracketed forms first: they may contain a page reference that the
	// second pattern would otherwise split.
	text = reBracketCite.ReplaceAllStringFunc(text, replace)
	text = rePageRef.ReplaceAllStringFunc(text, replace)

	return text, markers
}

// Restore substitutes [REFn] markers in text back with the originals captured
// by Protect. Markers missing from the generated text are silently ignored;
// unrecognised indices leave the placeholder as-is.
func Restore(text string, markers []string) string {
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		idx := 0
		fmt.Sscanf(sub[1], "%d", &idx)
		if idx < 0 || idx >= len(markers) {
			return match
		}
		return markers[idx]
	})
}

// InstructionHint returns a short sentence to append to an LLM prompt so the
// model knows to leave placeholders intact.
func InstructionHint() string {
	return "Preserve all [REFn] markers exactly as they appear; do not reword, move, or remove them."
}

// Validate checks whether all markers that were created by Protect are still
// present in the generated text. It returns the list of missing indices.
func Validate(text string, markers []string) []int {
	var missing []int
	for i := range markers {
		if !strings.Contains(text, fmt.Sprintf("[REF%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}
