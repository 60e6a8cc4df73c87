package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allenai/infinigram-api/internal/engine"
)

var (
	documentIndex        string
	documentID           int64
	documentRank         int64
	documentShard        int
	documentNeedleLength int
	documentMaxContext   int
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Print a document of an index",
	Long: `Fetch a document from an index by its position in the corpus, or the
window around the occurrence at a suffix-array rank.

Examples:
  infinigram document --index pileval --doc 12
  infinigram document --index pileval --rank 40 --needle-length 3 --max-context 20`,
	RunE: runDocument,
}

func init() {
	rootCmd.AddCommand(documentCmd)
	documentCmd.Flags().StringVar(&documentIndex, "index", "", "Index to read from (required)")
	documentCmd.Flags().Int64Var(&documentID, "doc", -1, "Document position in the corpus")
	documentCmd.Flags().Int64Var(&documentRank, "rank", -1, "Suffix-array rank of an occurrence")
	documentCmd.Flags().IntVar(&documentShard, "shard", 0, "Shard of --rank")
	documentCmd.Flags().IntVar(&documentNeedleLength, "needle-length", 1, "Tokens in the occurrence at --rank")
	documentCmd.Flags().IntVar(&documentMaxContext, "max-context", 250, "Context tokens to include")
	_ = documentCmd.MarkFlagRequired("index")
	documentCmd.MarkFlagsOneRequired("doc", "rank")
	documentCmd.MarkFlagsMutuallyExclusive("doc", "rank")
}

func runDocument(cmd *cobra.Command, args []string) error {
	if err := validateDocumentFlags(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, ok := cfg.Index(documentIndex)
	if !ok {
		return fmt.Errorf("index %q is not configured", documentIndex)
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	proc, err := loadProcessor(idx, logger)
	if err != nil {
		return err
	}

	var docs []engine.Document
	if cmd.Flags().Changed("doc") {
		docs, err = proc.FetchDocumentsByIndex([]engine.IndexRequest{{
			DocumentIndex:        documentID,
			MaximumContextLength: documentMaxContext,
		}})
	} else {
		docs, err = proc.FetchDocumentsByRank([]engine.RankRequest{{
			Shard:                documentShard,
			Rank:                 documentRank,
			NeedleLength:         documentNeedleLength,
			MaximumContextLength: documentMaxContext,
		}})
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(docs[0])
}

func validateDocumentFlags() error {
	if documentMaxContext < 0 {
		return fmt.Errorf("--max-context must not be negative, got %d", documentMaxContext)
	}
	if documentNeedleLength < 1 {
		return fmt.Errorf("--needle-length must be at least 1, got %d", documentNeedleLength)
	}
	return nil
}
