/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"testing"

	"github.com/valpere/perefraz/internal/provider"
)

func TestParseFragments(t *testing.T) {
	input := "First fragment spanning\ntwo lines.\n\nSecond fragment.\n\n\n\nThird fragment.\n"
	fragments := parseFragments([]byte(input))

	if len(fragments) != 3 {
		t.Fatalf("fragments = %d, want 3", len(fragments))
	}
	if fragments[0].OriginalText != "First fragment spanning\ntwo lines." {
		t.Errorf("fragment 0 = %q", fragments[0].OriginalText)
	}
	if fragments[1].OriginalText != "Second fragment." || fragments[2].OriginalText != "Third fragment." {
		t.Errorf("fragments = %q / %q", fragments[1].OriginalText, fragments[2].OriginalText)
	}
	for i, f := range fragments {
		if f.SourceOrder != i {
			t.Errorf("fragment %d source order = %d", i, f.SourceOrder)
		}
	}
	if fragments[0].ID != "frag-001" || fragments[2].ID != "frag-003" {
		t.Errorf("IDs = %q / %q, want frag-001 / frag-003", fragments[0].ID, fragments[2].ID)
	}
}

func TestParseFragments_CRLFAndEmpty(t *testing.T) {
	fragments := parseFragments([]byte("Windows fragment.\r\n\r\nAnother one.\r\n"))
	if len(fragments) != 2 {
		t.Fatalf("fragments = %d, want 2", len(fragments))
	}
	if fragments[0].OriginalText != "Windows fragment." {
		t.Errorf("fragment 0 = %q", fragments[0].OriginalText)
	}

	if got := parseFragments([]byte("   \n\n \r\n")); len(got) != 0 {
		t.Errorf("fragments from whitespace-only input = %d, want 0", len(got))
	}
}

func TestBuildProviders_DeduplicatesRoster(t *testing.T) {
	list, err := buildProviders([]string{"openai", "openai", "anthropic", "openai"},
		"key-a", "key-b", "", "", "", map[string]string{})
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("providers = %d, want 2", len(list))
	}
	names := providerNamesOf(list)
	if names[0] != "openai" || names[1] != "anthropic" {
		t.Errorf("roster = %v, want [openai anthropic]", names)
	}
}

type staticProvider struct{ name string }

func (p staticProvider) Name() string { return p.name }
func (p staticProvider) Generate(ctx context.Context, cfg provider.Config, req provider.GenerateRequest) (*provider.GenerateResult, error) {
	return &provider.GenerateResult{ProviderName: p.name, Text: "static"}, nil
}
func (p staticProvider) IsAvailable(ctx context.Context) error { return nil }

func TestPickProvider(t *testing.T) {
	roster := []provider.Provider{staticProvider{"openai"}, staticProvider{"anthropic"}}

	p, err := pickProvider(roster, "")
	if err != nil || p.Name() != "openai" {
		t.Errorf("empty name picked %v, %v; want the roster head", p, err)
	}

	p, err = pickProvider(roster, "anthropic")
	if err != nil || p.Name() != "anthropic" {
		t.Errorf("picked %v, %v; want anthropic", p, err)
	}

	if _, err := pickProvider(roster, "gemini"); err == nil {
		t.Error("expected an error for a provider outside the roster")
	}
}

func TestProviderNamesOf(t *testing.T) {
	names := providerNamesOf([]provider.Provider{staticProvider{"a"}, staticProvider{"b"}})
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v", names)
	}
}
