// Package detector wraps lingua-go language detection behind a small API
// used by candidate validation.
package detector

import (
	lingua "github.com/pemistahl/lingua-go"
)

// Detector identifies the language a text is written in. Building one is
// expensive; reuse the instance.
type Detector struct {
	detector lingua.LanguageDetector
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}

// SameLanguage reports whether both texts appear to be written in the same
// language. When either detection is ambiguous it returns true: an uncertain
// detector must not reject otherwise valid output.
func (d *Detector) SameLanguage(a, b string) bool {
	langA, okA := d.Detect(a)
	if !okA {
		return true
	}
	langB, okB := d.Detect(b)
	if !okB {
		return true
	}
	return langA == langB
}
