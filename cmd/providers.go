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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var probeTimeout time.Duration

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Check which AI providers are reachable",
	Long: `Probe every configured provider with a lightweight availability
check and report the result. Useful for verifying API keys before a long
document run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tSTATUS\tLATENCY\tDETAIL")

		unavailable := 0
		for _, p := range providers {
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			start := time.Now()
			err := p.IsAvailable(ctx)
			latency := time.Since(start).Round(time.Millisecond)
			cancel()

			if err != nil {
				unavailable++
				fmt.Fprintf(w, "%s\tunavailable\t%s\t%v\n", p.Name(), latency, err)
				continue
			}
			fmt.Fprintf(w, "%s\tok\t%s\t\n", p.Name(), latency)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if unavailable == len(providers) {
			return fmt.Errorf("no providers available")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)

	addProviderFlags(providersCmd)
	providersCmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 10*time.Second, "Per-provider availability probe timeout")
}
