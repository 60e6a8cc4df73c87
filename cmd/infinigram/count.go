package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/allenai/infinigram-api/internal/config"
)

var countIndex string

var countCmd = &cobra.Command{
	Use:   "count <text>",
	Short: "Count the occurrences of text in an index",
	Long: `Tokenize text with the index tokenizer and print how often the token
sequence occurs in the corpus. Useful for picking maximumFrequency.

Examples:
  infinigram count --index pileval " quick brown fox"`,
	Args: cobra.ExactArgs(1),
	RunE: runCount,
}

func init() {
	rootCmd.AddCommand(countCmd)
	countCmd.Flags().StringVar(&countIndex, "index", "", "Index to count in (required)")
	_ = countCmd.MarkFlagRequired("index")
}

func runCount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, ok := cfg.Index(countIndex)
	if !ok {
		return fmt.Errorf("index %q is not configured", countIndex)
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	n, err := countOccurrences(idx, args[0], logger)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func countOccurrences(idx config.IndexConfig, text string, logger *slog.Logger) (int64, error) {
	proc, err := loadProcessor(idx, logger)
	if err != nil {
		return 0, err
	}
	return proc.Count(text), nil
}
