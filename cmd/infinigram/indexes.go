package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/allenai/infinigram-api/internal/config"
)

var indexesFormat string

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List configured indexes",
	Long: `List the indexes in the configuration, including those from indexesFile.

Examples:
  infinigram indexes
  infinigram indexes --format json`,
	RunE: runIndexes,
}

func init() {
	rootCmd.AddCommand(indexesCmd)
	indexesCmd.Flags().StringVar(&indexesFormat, "format", "human", "Output format (json, human)")
}

func runIndexes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if indexesFormat == "json" {
		indexes := cfg.Indexes
		if indexes == nil {
			indexes = []config.IndexConfig{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(indexes)
	}

	if len(cfg.Indexes) == 0 {
		fmt.Fprintln(out, "No indexes configured")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENCODING\tCORPUS")
	for _, idx := range cfg.Indexes {
		encoding := idx.Encoding
		if encoding == "" {
			encoding = "words"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", idx.ID, encoding, idx.CorpusPath)
	}
	return w.Flush()
}
