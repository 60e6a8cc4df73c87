// Package attribution turns a model response into the corpus spans and
// documents that support it.
package attribution

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/allenai/infinigram-api/internal/errors"
)

// RankingMethod orders spans before they are capped by density.
type RankingMethod string

const (
	RankByLength            RankingMethod = "length"
	RankByUnigramLogprobSum RankingMethod = "unigram_logprob_sum"
)

// FilterMethod selects the post-retrieval document filter.
type FilterMethod string

const (
	FilterNone FilterMethod = "none"
	FilterBM25 FilterMethod = "bm25"
)

// FieldsConsidered selects the query text BM25 scores documents against.
type FieldsConsidered string

const (
	FieldsResponse           FieldsConsidered = "response"
	FieldsPrompt             FieldsConsidered = "prompt"
	FieldsPromptOrResponse   FieldsConsidered = "prompt|response"
	FieldsPromptPlusResponse FieldsConsidered = "prompt+response"
)

// requestKind namespaces fingerprints so other request types can share a cache.
const requestKind = "attribution"

// Request is an attribution request as it arrives over HTTP. Field order is
// part of the cache key; append new fields at the end.
type Request struct {
	Response                    string           `json:"response"`
	Prompt                      string           `json:"prompt"`
	Delimiters                  []string         `json:"delimiters"`
	AllowSpansWithPartialWords  bool             `json:"allowSpansWithPartialWords"`
	MinimumSpanLength           int              `json:"minimumSpanLength"`
	MaximumFrequency            int              `json:"maximumFrequency"`
	MaximumSpanDensity          float64          `json:"maximumSpanDensity"`
	SpanRankingMethod           RankingMethod    `json:"spanRankingMethod"`
	MaximumDocumentsPerSpan     int              `json:"maximumDocumentsPerSpan"`
	MaximumContextLength        int              `json:"maximumContextLength"`
	MaximumContextLengthLong    int              `json:"maximumContextLengthLong"`
	MaximumContextLengthSnippet int              `json:"maximumContextLengthSnippet"`
	FilterMethod                FilterMethod     `json:"filterMethod"`
	FilterBm25FieldsConsidered  FieldsConsidered `json:"filterBm25FieldsConsidered"`
	FilterBm25RatioToKeep       float64          `json:"filterBm25RatioToKeep"`
	IncludeInputAsTokens        bool             `json:"includeInputAsTokens"`
}

// DefaultRequest returns a request with every optional field at its default.
func DefaultRequest() Request {
	return Request{
		Delimiters:                  []string{},
		MinimumSpanLength:           1,
		MaximumFrequency:            10,
		MaximumSpanDensity:          0.05,
		SpanRankingMethod:           RankByLength,
		MaximumDocumentsPerSpan:     10,
		MaximumContextLength:        250,
		MaximumContextLengthLong:    100,
		MaximumContextLengthSnippet: 40,
		FilterMethod:                FilterNone,
		FilterBm25FieldsConsidered:  FieldsResponse,
		FilterBm25RatioToKeep:       1.0,
	}
}

// DecodeRequest reads a JSON request body over the defaults and validates it.
func DecodeRequest(r io.Reader) (Request, error) {
	req := DefaultRequest()
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return Request{}, errors.New(errors.ValidationFailed, "request body is not valid JSON", err)
	}
	if req.Delimiters == nil {
		req.Delimiters = []string{}
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate rejects out-of-range values and unknown enum values.
func (r Request) Validate() error {
	if r.Response == "" {
		return errors.Validation("response", "must not be empty")
	}

	positive := []struct {
		field string
		value int
	}{
		{"minimumSpanLength", r.MinimumSpanLength},
		{"maximumFrequency", r.MaximumFrequency},
		{"maximumDocumentsPerSpan", r.MaximumDocumentsPerSpan},
		{"maximumContextLength", r.MaximumContextLength},
		{"maximumContextLengthLong", r.MaximumContextLengthLong},
		{"maximumContextLengthSnippet", r.MaximumContextLengthSnippet},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Validation(p.field, fmt.Sprintf("must be greater than 0, got %d", p.value))
		}
	}

	if !(r.MaximumSpanDensity > 0) || math.IsInf(r.MaximumSpanDensity, 0) {
		return errors.Validation("maximumSpanDensity", fmt.Sprintf("must be greater than 0, got %v", r.MaximumSpanDensity))
	}
	if !(r.FilterBm25RatioToKeep >= 0 && r.FilterBm25RatioToKeep <= 1) {
		return errors.Validation("filterBm25RatioToKeep", fmt.Sprintf("must be between 0 and 1, got %v", r.FilterBm25RatioToKeep))
	}

	switch r.SpanRankingMethod {
	case RankByLength, RankByUnigramLogprobSum:
	default:
		return errors.Validation("spanRankingMethod", fmt.Sprintf("unknown value %q", r.SpanRankingMethod))
	}
	switch r.FilterMethod {
	case FilterNone, FilterBM25:
	default:
		return errors.Validation("filterMethod", fmt.Sprintf("unknown value %q", r.FilterMethod))
	}
	switch r.FilterBm25FieldsConsidered {
	case FieldsResponse, FieldsPrompt, FieldsPromptOrResponse, FieldsPromptPlusResponse:
	default:
		return errors.Validation("filterBm25FieldsConsidered", fmt.Sprintf("unknown value %q", r.FilterBm25FieldsConsidered))
	}
	return nil
}

// Fingerprint is the content address of an (index, request) pair.
type Fingerprint [sha256.Size]byte

// String returns the hex form, used only in logs.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// FingerprintOf hashes the request kind, the index and the canonical JSON of
// the request, separated by NUL bytes.
func FingerprintOf(index string, r Request) (Fingerprint, error) {
	if r.Delimiters == nil {
		r.Delimiters = []string{}
	}
	canonical, err := json.Marshal(r)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to encode request: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(requestKind)
	buf.WriteByte(0)
	buf.WriteString(index)
	buf.WriteByte(0)
	buf.Write(canonical)
	return sha256.Sum256(buf.Bytes()), nil
}

// JobArgs are the request fields as they travel on the queue, by snake_case name.
type JobArgs struct {
	Index                       string        `json:"index"`
	Input                       string        `json:"input"`
	Delimiters                  []string      `json:"delimiters"`
	AllowSpansWithPartialWords  bool          `json:"allow_spans_with_partial_words"`
	MinimumSpanLength           int           `json:"minimum_span_length"`
	MaximumFrequency            int           `json:"maximum_frequency"`
	MaximumSpanDensity          float64       `json:"maximum_span_density"`
	SpanRankingMethod           RankingMethod `json:"span_ranking_method"`
	MaximumContextLength        int           `json:"maximum_context_length"`
	MaximumContextLengthLong    int           `json:"maximum_context_length_long"`
	MaximumContextLengthSnippet int           `json:"maximum_context_length_snippet"`
	MaximumDocumentsPerSpan     int           `json:"maximum_documents_per_span"`
	IncludeInputAsTokens        bool          `json:"include_input_as_tokens"`
}

// Args converts the request into queue arguments for index. Filter settings
// stay with the caller; the worker never sees them.
func (r Request) Args(index string) JobArgs {
	delimiters := r.Delimiters
	if delimiters == nil {
		delimiters = []string{}
	}
	return JobArgs{
		Index:                       index,
		Input:                       r.Response,
		Delimiters:                  delimiters,
		AllowSpansWithPartialWords:  r.AllowSpansWithPartialWords,
		MinimumSpanLength:           r.MinimumSpanLength,
		MaximumFrequency:            r.MaximumFrequency,
		MaximumSpanDensity:          r.MaximumSpanDensity,
		SpanRankingMethod:           r.SpanRankingMethod,
		MaximumContextLength:        r.MaximumContextLength,
		MaximumContextLengthLong:    r.MaximumContextLengthLong,
		MaximumContextLengthSnippet: r.MaximumContextLengthSnippet,
		MaximumDocumentsPerSpan:     r.MaximumDocumentsPerSpan,
		IncludeInputAsTokens:        r.IncludeInputAsTokens,
	}
}
