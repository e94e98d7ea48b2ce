// Package validator checks that a paraphrase candidate is usable before it
// enters evaluation: non-empty, actually rewritten, in the same language as
// the original, and in the same length class.
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/perefraz/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language
// detection. Shorter texts produce unreliable results and skip that check.
const minValidationLength = 20

// Length-class bounds: a paraphrase shorter than a third or longer than
// three times the original has almost certainly dropped or invented content.
const (
	minLengthRatio = 1.0 / 3.0
	maxLengthRatio = 3.0
)

// Validator checks paraphrase candidates against their original fragment.
// The underlying language detector is expensive to build; reuse the instance.
type Validator struct {
	det *detector.Detector
}

// New creates a Validator backed by the lingua-go language detector.
func New() *Validator {
	return &Validator{det: detector.New()}
}

// IsValid returns true when candidate is an acceptable paraphrase of
// original. When a check fails the returned error names it.
func (v *Validator) IsValid(candidate, original string) (bool, error) {
	text := strings.TrimSpace(candidate)
	if text == "" {
		return false, fmt.Errorf("candidate is empty")
	}

	if normalizeForComparison(text) == normalizeForComparison(original) {
		return false, fmt.Errorf("candidate is identical to the original")
	}

	origLen := len([]rune(strings.TrimSpace(original)))
	candLen := len([]rune(text))
	if origLen > 0 {
		ratio := float64(candLen) / float64(origLen)
		if ratio < minLengthRatio || ratio > maxLengthRatio {
			return false, fmt.Errorf("candidate length %d is out of proportion to original length %d", candLen, origLen)
		}
	}

	// Detector is unreliable for very short texts; skip the language check.
	if candLen >= minValidationLength && origLen >= minValidationLength {
		if !v.det.SameLanguage(text, original) {
			return false, fmt.Errorf("candidate language differs from the original")
		}
	}

	return true, nil
}

func normalizeForComparison(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
