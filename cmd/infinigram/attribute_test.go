package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/allenai/infinigram-api/internal/attribution"
	"github.com/allenai/infinigram-api/internal/config"
	"github.com/allenai/infinigram-api/internal/errors"
	"github.com/allenai/infinigram-api/internal/slogutil"
)

func testIndex(t *testing.T) config.IndexConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	corpus := `{"text":"the quick brown fox jumps over the lazy dog","metadata":{"source":"fables"}}
{"text":"a slow green turtle walks"}
`
	if err := os.WriteFile(path, []byte(corpus), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.IndexConfig{ID: "pileval", CorpusPath: path, Encoding: "words"}
}

func TestAttributeOnce(t *testing.T) {
	idx := testIndex(t)
	cfg := config.DefaultConfig()
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.db")
	cfg.Indexes = []config.IndexConfig{idx}

	req := attribution.DefaultRequest()
	req.Response = "my quick brown fox jumps high"

	logger := slogutil.NewDiscardLogger()
	first, err := attributeOnce(context.Background(), cfg, idx, req, logger)
	if err != nil {
		t.Fatalf("attributeOnce() error = %v", err)
	}

	var resp attribution.Response
	if err := json.Unmarshal(first, &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Index != "pileval" || len(resp.Spans) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Spans[0].Text != " quick brown fox jumps" {
		t.Errorf("span text = %q", resp.Spans[0].Text)
	}

	// The second run reads the sqlite cache written by the first.
	second, err := attributeOnce(context.Background(), cfg, idx, req, logger)
	if err != nil {
		t.Fatalf("cached attributeOnce() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("cached response differs from computed response")
	}
}

func TestAttributeOnce_Rejects(t *testing.T) {
	idx := testIndex(t)
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = "memory"

	req := attribution.DefaultRequest()
	req.Response = ""

	_, err := attributeOnce(context.Background(), cfg, idx, req, slogutil.NewDiscardLogger())
	if err == nil {
		t.Fatal("expected an error for an empty response")
	}
	if !errors.IsCode(err, errors.ValidationFailed) {
		t.Errorf("error = %v, want VALIDATION_FAILED", err)
	}
}

func TestReadAttributionRequest(t *testing.T) {
	defer func() { attributeRequest, attributeResponse, attributePrompt = "", "", "" }()

	attributeResponse = "busy medieval streets"
	attributePrompt = "describe a town"
	req, err := readAttributionRequest(strings.NewReader(""))
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if req.Response != "busy medieval streets" || req.Prompt != "describe a town" {
		t.Errorf("request = %+v", req)
	}

	attributeResponse = ""
	attributeRequest = "-"
	req, err = readAttributionRequest(strings.NewReader(`{"response":"x","filterMethod":"bm25"}`))
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	if req.FilterMethod != attribution.FilterBM25 || req.MaximumFrequency != 10 {
		t.Errorf("request = %+v", req)
	}

	_, err = readAttributionRequest(strings.NewReader(`{"response":"x","spanRankingMethod":"random"}`))
	if !errors.IsCode(err, errors.ValidationFailed) {
		t.Errorf("error = %v, want VALIDATION_FAILED", err)
	}
}
