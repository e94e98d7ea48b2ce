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
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/perefraz/internal"
	"github.com/valpere/perefraz/internal/evaluator"
	"github.com/valpere/perefraz/internal/generator"
	"github.com/valpere/perefraz/internal/humanizer"
	"github.com/valpere/perefraz/internal/provider"
)

// addProviderFlags registers the flags shared by every command that talks
// to the AI providers.
func addProviderFlags(c *cobra.Command) {
	c.Flags().StringSliceVar(&providerNames, "providers", []string{"openai", "anthropic", "gemini"}, "AI providers to use (comma-separated, order = fallback priority)")
	c.Flags().StringVar(&openaiKey, "openai-key", "", "OpenAI API key (or PEREFRAZ_OPENAI_KEY)")
	c.Flags().StringVar(&anthropicKey, "anthropic-key", "", "Anthropic API key (or PEREFRAZ_ANTHROPIC_KEY)")
	c.Flags().StringVar(&geminiKey, "gemini-key", "", "Gemini API key (or PEREFRAZ_GEMINI_KEY)")
	c.Flags().StringVar(&httpURL, "http-url", "", "Generic HTTP provider endpoint")
	c.Flags().StringVar(&httpKey, "http-key", "", "Generic HTTP provider API key")

	c.Flags().StringVar(&openaiModel, "openai-model", "", "OpenAI model (default "+provider.DefaultOpenAIModel+")")
	c.Flags().StringVar(&anthropicModel, "anthropic-model", "", "Anthropic model (default "+provider.DefaultAnthropicModel+")")
	c.Flags().StringVar(&geminiModel, "gemini-model", "", "Gemini model (default "+provider.DefaultGeminiModel+")")
	c.Flags().StringVar(&httpModel, "http-model", "", "Generic HTTP provider model")

	c.Flags().StringVar(&judgeProvider, "judge", "", "Provider used to judge candidates (default: first in roster)")
	c.Flags().StringVar(&humanizeProvider, "humanizer", "", "Provider used for the humanization pass (default: first in roster)")
	c.Flags().BoolVar(&skipHumanize, "no-humanize", false, "Skip the humanization pass")

	c.Flags().DurationVar(&deadline, "deadline", 90*time.Second, "Per-fragment generation deadline including retries")
	c.Flags().IntVar(&concurrency, "concurrency", 3, "Fragments processed in parallel")
	c.Flags().IntVar(&maxRetries, "max-retries", 3, "Total attempts per provider including the first (1 = no retries)")
}

// buildProviders constructs the provider roster from CLI parameters. The
// roster order is the preference order used for fallback selection.
// Repeated names are collapsed to one provider; candidate fan-out keys
// arrivals by provider name, so duplicates would shadow each other.
func buildProviders(providerNames []string, openaiKey, anthropicKey, geminiKey, httpURL, httpKey string, models map[string]string) ([]provider.Provider, error) {
	var list []provider.Provider

	seen := make(map[string]bool)
	for _, name := range providerNames {
		if seen[name] {
			fmt.Fprintf(os.Stderr, "Duplicate provider: %s, skipping\n", name)
			continue
		}
		seen[name] = true
		switch name {
		case "openai":
			list = append(list, provider.NewOpenAIProvider(openaiKey, models["openai"]))
		case "anthropic":
			list = append(list, provider.NewAnthropicProvider(anthropicKey, models["anthropic"]))
		case "gemini":
			list = append(list, provider.NewGeminiProvider(geminiKey, models["gemini"]))
		case "http":
			if httpURL == "" {
				return nil, fmt.Errorf("http provider requires --http-url")
			}
			list = append(list, provider.NewHTTPProvider("http", httpKey, httpURL, models["http"]))
		default:
			fmt.Fprintf(os.Stderr, "Unknown provider: %s, skipping\n", name)
		}
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("no valid providers configured")
	}
	return list, nil
}

// buildStages assembles the generator, evaluator and optional humanizer
// from the shared provider flags.
func buildStages() (*generator.Generator, *evaluator.Evaluator, *humanizer.Humanizer, error) {
	providers, err := buildProviders(providerNames,
		resolveKey(openaiKey, "openai_key"),
		resolveKey(anthropicKey, "anthropic_key"),
		resolveKey(geminiKey, "gemini_key"),
		httpURL, resolveKey(httpKey, "http_key"),
		map[string]string{
			"openai":    openaiModel,
			"anthropic": anthropicModel,
			"gemini":    geminiModel,
			"http":      httpModel,
		})
	if err != nil {
		return nil, nil, nil, err
	}

	retry := provider.RetryPolicy{MaxAttempts: maxRetries, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	gen := generator.New(providers, generator.Config{
		Deadline: deadline,
		Retry:    retry,
	})

	judge, err := pickProvider(providers, judgeProvider)
	if err != nil {
		return nil, nil, nil, err
	}
	eval := evaluator.New(judge, provider.Config{}, retry, providerNamesOf(providers))

	var human *humanizer.Humanizer
	if !skipHumanize {
		humanProv, err := pickProvider(providers, humanizeProvider)
		if err != nil {
			return nil, nil, nil, err
		}
		human = humanizer.New(humanProv, provider.Config{}, retry, 0)
	}
	return gen, eval, human, nil
}

// providerNamesOf returns the roster names in order, for fallback priority.
func providerNamesOf(list []provider.Provider) []string {
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.Name()
	}
	return names
}

// pickProvider returns the named provider from the roster, or the first one
// when name is empty. Judging and humanization default to the roster head.
func pickProvider(list []provider.Provider, name string) (provider.Provider, error) {
	if name == "" {
		return list[0], nil
	}
	for _, p := range list {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("provider %q is not in the configured roster", name)
}

// resolveKey returns the flag value when set, otherwise the viper binding
// (config file or PEREFRAZ_* environment variable).
func resolveKey(flagValue, viperKey string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(viperKey)
}

// buildLogger creates the process logger. Structured JSON when requested,
// text otherwise; debug level behind --verbose.
func buildLogger(verbose, jsonOut bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// parseFragments splits a fragments file into fragments. Fragments are
// separated by blank lines; single newlines inside a fragment are kept as
// part of its text.
func parseFragments(data []byte) []internal.Fragment {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var fragments []internal.Fragment
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		order := len(fragments)
		fragments = append(fragments, internal.Fragment{
			ID:           fmt.Sprintf("frag-%03d", order+1),
			OriginalText: block,
			SourceOrder:  order,
		})
	}
	return fragments
}
