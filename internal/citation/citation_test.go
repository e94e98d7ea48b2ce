package citation

import (
	"strings"
	"testing"
)

func TestProtectRestore_RoundTrip(t *testing.T) {
	text := "Digital methods are widely used [14]. Earlier work [39, c. 126] agrees, see also с. 51."

	protected, markers := Protect(text)

	if len(markers) != 3 {
		t.Fatalf("markers = %d, want 3: %v", len(markers), markers)
	}
	if protected == text {
		t.Fatal("expected placeholders in protected text")
	}
	for _, m := range []string{"[REF0]", "[REF1]", "[REF2]"} {
		if !strings.Contains(protected, m) {
			t.Errorf("protected text missing %s: %q", m, protected)
		}
	}

	restored := Restore(protected, markers)
	if restored != text {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", restored, text)
	}
}

func TestProtect_NoCitations(t *testing.T) {
	text := "Plain text without any references."
	protected, markers := Protect(text)

	if protected != text {
		t.Errorf("text changed without citations: %q", protected)
	}
	if len(markers) != 0 {
		t.Errorf("markers = %d, want 0", len(markers))
	}
}

func TestProtect_BracketedPageRefNotSplit(t *testing.T) {
	// The page reference inside brackets must be captured as one marker.
	protected, markers := Protect("See [39, c. 126] for details.")

	if len(markers) != 1 {
		t.Fatalf("markers = %v, want exactly one", markers)
	}
	if markers[0] != "[39, c. 126]" {
		t.Errorf("marker = %q", markers[0])
	}
	if strings.Contains(protected, "126") {
		t.Errorf("page number leaked into protected text: %q", protected)
	}
}

func TestRestore_UnknownIndexLeftAlone(t *testing.T) {
	restored := Restore("text with [REF7] placeholder", []string{"[1]"})
	if restored != "text with [REF7] placeholder" {
		t.Errorf("unknown index should be left as-is: %q", restored)
	}
}

func TestInstructionHint_PlainASCII(t *testing.T) {
	hint := InstructionHint()
	if !strings.Contains(hint, "[REFn]") {
		t.Errorf("hint = %q, want it to name the marker form", hint)
	}
	// The hint is sent verbatim inside prompts; keep it plain ASCII so no
	// provider tokenizer trips over typographic punctuation.
	for _, r := range hint {
		if r > 127 {
			t.Errorf("hint contains non-ASCII rune %q", r)
		}
	}
}

func TestValidate_ReportsMissing(t *testing.T) {
	_, markers := Protect("First [1] and second [2].")

	missing := Validate("only [REF0] survived", markers)
	if len(missing) != 1 || missing[0] != 1 {
		t.Errorf("missing = %v, want [1]", missing)
	}

	if m := Validate("[REF0] and [REF1]", markers); m != nil {
		t.Errorf("missing = %v, want none", m)
	}
}
