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
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/perefraz/internal/pipeline"
	"github.com/valpere/perefraz/internal/store"
)

var (
	textFragmentsFile string
	textOutputFile    string
	textDBPath        string
	textNoCache       bool
	textFuzzy         float64
)

var textCmd = &cobra.Command{
	Use:   "text",
	Short: "Paraphrase fragments to a plain text file",
	Long: `Paraphrase a list of text fragments without touching any document.
The paraphrased fragments are written to the output file in their original
order, blank line separated, so the result can be reviewed before a
document rewrite.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fragData, err := os.ReadFile(textFragmentsFile)
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
		if textDBPath != "" {
			db, err = store.New(textDBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
		}

		if textFuzzy < 0 || textFuzzy > 1 {
			return fmt.Errorf("--fuzzy must be between 0 and 1")
		}

		pipe := pipeline.New(gen, eval, human, db, logger, pipeline.Options{
			Concurrency:    concurrency,
			NoCache:        textNoCache,
			FuzzyThreshold: textFuzzy,
		})

		results, err := pipe.ParaphraseAll(ctx, fragments)
		if err != nil {
			return err
		}

		var blocks []string
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "Fragment %s failed: %v\n", r.Fragment.ID, r.Err)
				blocks = append(blocks, r.Fragment.OriginalText)
				continue
			}
			blocks = append(blocks, r.FinalText)
		}

		if err := os.MkdirAll(filepath.Dir(textOutputFile), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(textOutputFile, []byte(strings.Join(blocks, "\n\n")+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}

		fmt.Printf("Successfully paraphrased %d/%d fragments\n", len(fragments)-failed, len(fragments))
		if failed > 0 {
			return fmt.Errorf("%d of %d fragments failed", failed, len(fragments))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(textCmd)

	addProviderFlags(textCmd)

	textCmd.Flags().StringVarP(&textFragmentsFile, "fragments", "f", "", "Fragments file, blank-line separated (required)")
	textCmd.Flags().StringVarP(&textOutputFile, "output", "o", "", "Output text file (required)")
	textCmd.Flags().StringVar(&textDBPath, "db", "./data/perefraz.db", "Database path for paraphrase memory (empty to disable)")
	textCmd.Flags().BoolVar(&textNoCache, "no-cache", false, "Disable paraphrase memory lookups")
	textCmd.Flags().Float64Var(&textFuzzy, "fuzzy", 0, "Fuzzy cache match threshold, 0 to 1 (0 disables)")

	textCmd.MarkFlagRequired("fragments")
	textCmd.MarkFlagRequired("output")
}
