package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/allenai/infinigram-api/internal/attribution"
	"github.com/allenai/infinigram-api/internal/config"
	"github.com/allenai/infinigram-api/internal/storage"
	"github.com/allenai/infinigram-api/internal/tracing"
)

var (
	attributeIndex    string
	attributeRequest  string
	attributeResponse string
	attributePrompt   string
	attributeNoCache  bool
)

var attributeCmd = &cobra.Command{
	Use:   "attribute",
	Short: "Run one attribution without the HTTP server",
	Long: `Load one index, run an attribution request through the same cache,
worker pool and relevance filter the server uses, and print the response.

The request is read from --request (a JSON body as accepted by
POST /{index}/attribution, or - for stdin) or built from --response.

Examples:
  infinigram attribute --index pileval --response "busy medieval streets"
  infinigram attribute --index pileval --request request.json --no-cache
  echo '{"response":"busy medieval streets","filterMethod":"bm25"}' | infinigram attribute --index pileval --request -`,
	RunE: runAttribute,
}

func init() {
	rootCmd.AddCommand(attributeCmd)
	attributeCmd.Flags().StringVar(&attributeIndex, "index", "", "Index to attribute against (required)")
	attributeCmd.Flags().StringVar(&attributeRequest, "request", "", "JSON request file, or - for stdin")
	attributeCmd.Flags().StringVar(&attributeResponse, "response", "", "Response text to attribute")
	attributeCmd.Flags().StringVar(&attributePrompt, "prompt", "", "Prompt that produced the response")
	attributeCmd.Flags().BoolVar(&attributeNoCache, "no-cache", false, "Skip the configured result cache")
	_ = attributeCmd.MarkFlagRequired("index")
	attributeCmd.MarkFlagsOneRequired("request", "response")
	attributeCmd.MarkFlagsMutuallyExclusive("request", "response")
}

func runAttribute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel == "" {
		cfg.Logging.Level = "warn"
	}
	idx, ok := cfg.Index(attributeIndex)
	if !ok {
		return fmt.Errorf("index %q is not configured", attributeIndex)
	}

	req, err := readAttributionRequest(cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	tracing.Setup()

	body, err := attributeOnce(cmd.Context(), cfg, idx, req, logger)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = cmd.OutOrStdout().Write(out.Bytes())
	return err
}

func readAttributionRequest(stdin io.Reader) (attribution.Request, error) {
	if attributeRequest == "" {
		req := attribution.DefaultRequest()
		req.Response = attributeResponse
		req.Prompt = attributePrompt
		return req, req.Validate()
	}

	var r io.Reader = stdin
	if attributeRequest != "-" {
		f, err := os.Open(attributeRequest)
		if err != nil {
			return attribution.Request{}, fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	return attribution.DecodeRequest(r)
}

// attributeOnce serves a single request with a dispatcher holding only idx.
func attributeOnce(ctx context.Context, cfg *config.Config, idx config.IndexConfig, req attribution.Request, logger *slog.Logger) ([]byte, error) {
	var cache storage.ResultCache = storage.NoCache{}
	if !attributeNoCache {
		c, err := openCache(cfg, logger)
		if err != nil {
			return nil, err
		}
		cache = c
	}
	defer cache.Close()

	dispatcher, err := newDispatcher(cfg, []config.IndexConfig{idx}, logger, nil)
	if err != nil {
		return nil, err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return nil, err
	}
	defer dispatcher.Stop(shutdownTimeout)

	service := attribution.NewService(dispatcher, cache, serviceConfig(cfg), logger, nil)
	return service.Attribute(ctx, idx.ID, req)
}
