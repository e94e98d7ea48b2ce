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
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

var (
	cfgFile string
	verbose bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "perefraz",
	Short: "Multi-provider document paraphraser",
	Long: `A CLI application that paraphrases text fragments using multiple AI
providers in parallel, selects the best candidate with an LLM judge, and
rewrites the fragments in place inside a Word document while preserving
formatting.

Supported providers: OpenAI, Anthropic, Gemini, generic HTTP

Use "perefraz paraphrase --help" for document options.`,
	Version: version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.perefraz.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

// initConfig loads an optional config file and binds PEREFRAZ_* environment
// variables, so API keys never have to appear on the command line.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".perefraz")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PEREFRAZ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// The vendors' conventional variable names work too.
	_ = viper.BindEnv("openai_key", "PEREFRAZ_OPENAI_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("anthropic_key", "PEREFRAZ_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("gemini_key", "PEREFRAZ_GEMINI_KEY", "GOOGLE_API_KEY")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
