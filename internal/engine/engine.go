// Package engine defines the capability set of an n-gram index and the
// Processor that attribution code uses to talk to it.
//
// Engines report failures as tagged results rather than Go errors, mirroring
// the native boundary they usually sit behind. Processor is the only place
// that unwraps them.
package engine

import (
	"github.com/allenai/infinigram-api/internal/errors"
)

// Result is the tagged value returned by an Engine. Exactly one of Value or
// Err is meaningful: a non-empty Err means the call failed.
type Result[T any] struct {
	Value T
	Err   string
}

// OK wraps a successful engine value.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps an engine-side failure message.
func Fail[T any](msg string) Result[T] {
	return Result[T]{Err: msg}
}

// Unwrap converts the tagged result into a value and an ENGINE_ERROR.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != "" {
		var zero T
		return zero, errors.Engine(r.Err)
	}
	return r.Value, nil
}

// DocPointer locates one occurrence of a span inside a shard.
type DocPointer struct {
	Shard   int   `json:"s"`
	Pointer int64 `json:"ptr"`
}

// SpanCandidate is one maximal rare span found in the input.
type SpanCandidate struct {
	Left              int          `json:"l"`
	Right             int          `json:"r"`
	Length            int          `json:"length"`
	Count             int64        `json:"count"`
	UnigramLogprobSum float64      `json:"unigramLogprobSum"`
	Docs              []DocPointer `json:"docs"`
}

// PointerRequest asks for the windows around a set of occurrences of one span.
type PointerRequest struct {
	Docs                 []DocPointer
	SpanIDs              []int
	NeedleLength         int
	MaximumContextLength int
}

// RankRequest asks for the window around the occurrence at a suffix-array rank.
type RankRequest struct {
	Shard                int
	Rank                 int64
	NeedleLength         int
	MaximumContextLength int
}

// IndexRequest asks for the head of a document by its corpus position.
type IndexRequest struct {
	DocumentIndex        int64
	MaximumContextLength int
}

// RawDocument is a token window as the engine returns it. Metadata is the raw
// JSON stored alongside the document.
type RawDocument struct {
	DocumentIndex  int64
	DocumentLength int
	DisplayLength  int
	NeedleOffset   int
	Metadata       string
	TokenIDs       []int
	Blocked        bool
}

// Engine is the raw capability set of one loaded index.
type Engine interface {
	// Count returns the occurrences of query; an empty query counts every token.
	Count(query []int) int64
	FindAttributionSpans(inputIDs, delimiterIDs []int, minLen, maxFreq int, enforceWordBoundary bool) Result[[]SpanCandidate]
	FetchDocumentsByPointer(requests []PointerRequest) Result[[][]RawDocument]
	FetchDocumentsByRank(requests []RankRequest) Result[[]RawDocument]
	FetchDocumentsByIndex(requests []IndexRequest) Result[[]RawDocument]
}
