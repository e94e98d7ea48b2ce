// Package postprocess scrubs provider responses down to the bare paraphrase.
//
// Models asked for "only the paraphrased text" still leak reasoning tags,
// markdown fences, lead-in labels and wrapping quotes. Clean runs every
// response through a fixed sequence of scrubbing phases before the text is
// used downstream; each phase is independent and idempotent.
package postprocess

import (
	"regexp"
	"strings"
)

type phase func(string) string

// Ordered: reasoning first (its content may contain anything), fences before
// lead-ins (a label can sit inside a fence), quotes last.
var phases = []phase{
	stripReasoning,
	stripCodeFence,
	stripLeadIn,
	stripWrappingQuotes,
}

// Clean returns text with LLM artifacts removed and whitespace trimmed.
func Clean(text string) string {
	for _, p := range phases {
		text = strings.TrimSpace(p(text))
	}
	return text
}

// reasoningRe matches complete <thinking>…</thinking> style blocks. Each tag
// variant is listed explicitly because RE2 has no backreferences.
var reasoningRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// openReasoningRe matches a reasoning tag whose closing tag never arrived
// (the model hit its token limit mid-thought). Everything after the open tag
// is dropped.
var openReasoningRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func stripReasoning(text string) string {
	text = reasoningRe.ReplaceAllString(text, "")
	return openReasoningRe.ReplaceAllString(text, "")
}

// fenceRe matches a response wrapped whole in a markdown code fence, with or
// without a language tag.
var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

func stripCodeFence(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// leadInRes match introductory labels models prepend even when told not to.
// Anchored to the start and requiring a colon to avoid eating real content.
var leadInRes = []*regexp.Regexp{
	// "Here is / Here's [the] [paraphrased|rewritten|refined] version:"
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:paraphrased |rewritten |refined |revised )?(?:version|text|paraphrase)\s*:`),
	// "[The] [paraphrased|rewritten|refined] [version|text|paraphrase]:"
	regexp.MustCompile(`(?i)^(?:the )?(?:paraphrased |rewritten |refined |revised )?(?:version|text|paraphrase)\s*:`),
	// "Certainly / Sure / Of course[,] here is [the] paraphrase:"
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:paraphrased |rewritten |refined |revised )?(?:version|text|paraphrase)\s*:`),
}

func stripLeadIn(text string) string {
	for _, re := range leadInRes {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// stripWrappingQuotes removes one matching pair of outer quotes when the
// entire text sits inside them. Internal quotes are left alone.
func stripWrappingQuotes(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	pairs := map[rune]rune{'"': '"', '\'': '\'', '«': '»', '“': '”', '‘': '’'}
	if close, ok := pairs[runes[0]]; ok && runes[n-1] == close {
		return string(runes[1 : n-1])
	}
	return text
}
