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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/perefraz/internal/pipeline"
	"github.com/valpere/perefraz/internal/store"
)

var (
	inputFile     string
	fragmentsFile string
	outputFile    string

	providerNames []string
	openaiKey     string
	anthropicKey  string
	geminiKey     string
	httpURL       string
	httpKey       string

	openaiModel    string
	anthropicModel string
	geminiModel    string
	httpModel      string

	judgeProvider    string
	humanizeProvider string
	skipHumanize     bool
	firstOnly        bool

	deadline    time.Duration
	concurrency int
	maxRetries  int

	dbPath         string
	noCache        bool
	fuzzyThreshold float64
	resumeJobID    string
)

var paraphraseCmd = &cobra.Command{
	Use:   "paraphrase",
	Short: "Paraphrase fragments inside a Word document",
	Long: `Paraphrase a list of text fragments using multiple AI providers in
parallel and rewrite each fragment in place inside a .docx document.

Every provider generates a candidate, an LLM judge picks the best one, and
an optional humanization pass softens mechanical phrasing. Formatting of
the surrounding text is preserved; the input document is never modified.

Available providers:
  - openai     OpenAI chat completions (requires API key)
  - anthropic  Anthropic messages (requires API key)
  - gemini     Google Gemini (requires API key)
  - http       Generic HTTP completion endpoint

Use multiple providers: --providers openai,anthropic,gemini

Fragments file: plain text, one fragment per block, blank line separated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}
		if fuzzyThreshold < 0 || fuzzyThreshold > 1 {
			return fmt.Errorf("--fuzzy must be between 0 and 1")
		}
		if resumeJobID != "" && dbPath == "" {
			return fmt.Errorf("--resume requires a database, set --db")
		}

		fragData, err := os.ReadFile(fragmentsFile)
		if err != nil {
			return fmt.Errorf("failed to read fragments file: %w", err)
		}
		fragments := parseFragments(fragData)
		if len(fragments) == 0 {
			return fmt.Errorf("fragments file contains no fragments")
		}

		ctx := context.Background()
		logger := buildLogger(verbose, logJSON)

		gen, eval, human, err := buildStages()
		if err != nil {
			return err
		}

		var db *store.Store
		if dbPath != "" {
			db, err = store.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
		}

		pipe := pipeline.New(gen, eval, human, db, logger, pipeline.Options{
			Concurrency:    concurrency,
			FirstOnly:      firstOnly,
			NoCache:        noCache,
			FuzzyThreshold: fuzzyThreshold,
			ResumeJobID:    resumeJobID,
			DocumentName:   filepath.Base(inputFile),
		})

		if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		summary, results, err := pipe.Run(ctx, inputFile, outputFile, fragments)
		if err != nil {
			return err
		}

		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(os.Stderr, "Fragment %s failed: %v\n", r.Fragment.ID, r.Err)
			}
		}

		fmt.Printf("Successfully paraphrased %d/%d fragments\n", summary.FragmentsParaphrased, summary.FragmentsTotal)
		fmt.Printf("Occurrences replaced: %d\n", summary.OccurrencesReplaced)
		if len(summary.NotFound) > 0 {
			fmt.Printf("Not found in document: %d\n", len(summary.NotFound))
		}
		if summary.FragmentsFailed > 0 {
			if summary.JobID != "" {
				fmt.Fprintf(os.Stderr, "Rerun with --resume %s to retry failed fragments without regenerating completed ones\n", summary.JobID)
			}
			return fmt.Errorf("%d of %d fragments failed", summary.FragmentsFailed, summary.FragmentsTotal)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(paraphraseCmd)

	paraphraseCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input .docx document (required)")
	paraphraseCmd.Flags().StringVarP(&fragmentsFile, "fragments", "f", "", "Fragments file, blank-line separated (required)")
	paraphraseCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .docx document (required)")

	addProviderFlags(paraphraseCmd)

	paraphraseCmd.Flags().BoolVar(&firstOnly, "first-only", false, "Replace only the first occurrence of each fragment")

	paraphraseCmd.Flags().StringVar(&dbPath, "db", "./data/perefraz.db", "Database path for paraphrase memory (empty to disable)")
	paraphraseCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable paraphrase memory lookups")
	paraphraseCmd.Flags().Float64Var(&fuzzyThreshold, "fuzzy", 0, "Fuzzy cache match threshold, 0 to 1 (0 disables)")
	paraphraseCmd.Flags().StringVar(&resumeJobID, "resume", "", "Resume an interrupted run by job ID")

	paraphraseCmd.MarkFlagRequired("input")
	paraphraseCmd.MarkFlagRequired("fragments")
	paraphraseCmd.MarkFlagRequired("output")
}
