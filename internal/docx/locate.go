package docx

import (
	"unicode"
)

// Location pins one occurrence of a fragment inside a document: the
// paragraph's position in document order plus the run span covering the
// matched text. Run indices address the paragraph's modelled runs; offsets
// are rune offsets within a run's text.
type Location struct {
	ParaIndex int
	Container Container

	StartRun    int
	StartOffset int
	EndRun      int // inclusive
	EndOffset   int // exclusive, within EndRun

	// Matched is the exact document text covered by the span, before any
	// whitespace normalization. Replacement verifies against it.
	Matched string
}

// normalizeRunes collapses every whitespace sequence to a single space and
// trims the ends. mapping[i] gives, for each normalized rune, the index of
// the source rune that produced it, so matches on the normalized form can
// be projected back onto the original text.
func normalizeRunes(src []rune) (norm []rune, mapping []int) {
	inSpace := false
	for i, r := range src {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && len(norm) > 0 {
			// The space maps to the first rune after the gap so a
			// match ending at the gap projects cleanly.
			norm = append(norm, ' ')
			mapping = append(mapping, i)
		}
		inSpace = false
		norm = append(norm, r)
		mapping = append(mapping, i)
	}
	return norm, mapping
}

// NormalizeText is the fragment-side counterpart of the paragraph
// normalization: whitespace runs collapse to single spaces, ends trimmed.
func NormalizeText(s string) string {
	norm, _ := normalizeRunes([]rune(s))
	return string(norm)
}

// FindAll returns every occurrence of fragment in the document, in document
// order. Matching is exact after whitespace normalization on both sides, so
// a fragment captured with collapsed spaces still finds text that spans soft
// line breaks or multiple spaces in the source runs.
func FindAll(doc *Document, fragment string) []Location {
	normFrag := NormalizeText(fragment)
	if normFrag == "" {
		return nil
	}

	var locs []Location
	for paraIdx, para := range doc.Paragraphs() {
		locs = append(locs, findInParagraph(para, paraIdx, normFrag)...)
	}
	return locs
}

func findInParagraph(para *Paragraph, paraIdx int, normFrag string) []Location {
	text := []rune(para.Text())
	if len(text) == 0 {
		return nil
	}
	norm, mapping := normalizeRunes(text)
	needle := []rune(normFrag)

	var locs []Location
	searchFrom := 0
	for {
		startNorm := indexRunes(norm, needle, searchFrom)
		if startNorm < 0 {
			return locs
		}
		endNorm := startNorm + len(needle)

		actualStart := mapping[startNorm]
		actualEnd := mapping[endNorm-1] + 1

		loc := Location{
			ParaIndex: paraIdx,
			Container: para.Container,
			Matched:   string(text[actualStart:actualEnd]),
		}
		loc.StartRun, loc.StartOffset = runePosition(para, actualStart)
		loc.EndRun, loc.EndOffset = runePosition(para, actualEnd-1)
		loc.EndOffset++
		locs = append(locs, loc)

		searchFrom = endNorm
		if searchFrom >= len(norm) {
			return locs
		}
	}
}

// indexRunes finds needle within haystack starting at from, returning the
// rune index of the first match or -1.
func indexRunes(haystack, needle []rune, from int) int {
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, r := range needle {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// runePosition maps a rune offset within the paragraph's concatenated text
// onto (run index, rune offset within that run).
func runePosition(para *Paragraph, offset int) (int, int) {
	runIdx := 0
	for _, n := range para.nodes {
		if n.run == nil {
			continue
		}
		length := len([]rune(n.run.Text))
		if offset < length {
			return runIdx, offset
		}
		offset -= length
		runIdx++
	}
	// Offset beyond the last run; clamp to the end of the final run.
	if runIdx > 0 {
		runIdx--
	}
	return runIdx, offset
}
