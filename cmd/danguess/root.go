package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/diyapatel231/HWDan/config"
	"github.com/diyapatel231/HWDan/tokenizer"
)

var (
	flagConfig      string
	flagHFTokenizer string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:          "danguess",
	Short:        "Train and query a deep averaging network question guesser",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML parameter file (defaults used when empty)")
	rootCmd.PersistentFlags().StringVar(&flagHFTokenizer, "hf-tokenizer", "", "path to a HuggingFace tokenizer.json (word tokenizer when empty)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadParameters() (*config.Parameters, error) {
	if flagConfig == "" {
		return config.DefaultParameters(), nil
	}
	return config.Load(flagConfig)
}

// newTokenizer picks the tokenizer for this invocation. The returned closer
// is a no-op for the word tokenizer.
func newTokenizer() (tokenizer.Tokenizer, io.Closer, error) {
	if flagHFTokenizer == "" {
		return tokenizer.NewWordTokenizer(), nopCloser{}, nil
	}
	hf, err := tokenizer.NewHFTokenizer(flagHFTokenizer)
	if err != nil {
		return nil, nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	return hf, hf, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
