package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/allenai/infinigram-api/internal/engine"
	"github.com/allenai/infinigram-api/internal/engine/ngram"
	attrerrors "github.com/allenai/infinigram-api/internal/errors"
	"github.com/allenai/infinigram-api/internal/jobs"
	"github.com/allenai/infinigram-api/internal/slogutil"
	"github.com/allenai/infinigram-api/internal/tokenizer"
)

func newTestComputer(t *testing.T) *Computer {
	t.Helper()
	tok := tokenizer.NewWords()
	eng := ngram.New([]ngram.Record{
		{Text: "the quick brown fox jumps over the lazy dog", Metadata: []byte(`{"source":"fables"}`)},
		{Text: "a slow green turtle walks"},
		{Text: "hello, world"},
	}, tok)
	return NewComputer(engine.NewProcessor("pileval", eng, tok), slogutil.NewDiscardLogger())
}

func testArgs(input string) JobArgs {
	req := DefaultRequest()
	req.Response = input
	req.MaximumSpanDensity = 1
	return req.Args("pileval")
}

func TestComputer_Compute(t *testing.T) {
	c := newTestComputer(t)
	args := testArgs("my quick brown fox jumps high")
	args.MaximumContextLengthSnippet = 1
	args.IncludeInputAsTokens = true

	resp, err := c.Compute(context.Background(), args)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if resp.Index != "pileval" {
		t.Errorf("Index = %q", resp.Index)
	}
	if len(resp.Spans) != 1 {
		t.Fatalf("got %d spans, want 1: %+v", len(resp.Spans), resp.Spans)
	}

	span := resp.Spans[0]
	if span.Left != 1 || span.Right != 5 || span.Length != 4 || span.Count != 1 {
		t.Errorf("span = [%d,%d) length %d count %d", span.Left, span.Right, span.Length, span.Count)
	}
	if span.Text != " quick brown fox jumps" {
		t.Errorf("span text = %q", span.Text)
	}
	if len(span.TokenIDs) != 4 {
		t.Errorf("span token ids = %v", span.TokenIDs)
	}
	if len(span.Documents) != 1 {
		t.Fatalf("got %d documents, want 1", len(span.Documents))
	}

	d := span.Documents[0]
	if d.Text != "the quick brown fox jumps over the lazy dog" || d.NeedleOffset != 1 {
		t.Errorf("document = %q needle %d", d.Text, d.NeedleOffset)
	}
	if d.Metadata["source"] != "fables" {
		t.Errorf("metadata = %v", d.Metadata)
	}
	if d.TextLong != d.Text || d.DisplayLengthLong != 9 || d.NeedleOffsetLong != 1 {
		t.Errorf("long window = %q (%d, %d)", d.TextLong, d.DisplayLengthLong, d.NeedleOffsetLong)
	}
	if d.TextSnippet != "the quick brown fox jumps over" || d.DisplayLengthSnippet != 6 || d.NeedleOffsetSnippet != 1 {
		t.Errorf("snippet window = %q (%d, %d)", d.TextSnippet, d.DisplayLengthSnippet, d.NeedleOffsetSnippet)
	}

	want := []string{"my", " quick", " brown", " fox", " jumps", " high"}
	if !slices.Equal(resp.InputTokens, want) {
		t.Errorf("InputTokens = %q, want %q", resp.InputTokens, want)
	}
}

func TestComputer_DensityCap(t *testing.T) {
	c := newTestComputer(t)
	args := testArgs("quick fox and slow turtle")
	args.AllowSpansWithPartialWords = true

	all, err := c.Compute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Spans) < 2 {
		t.Fatalf("expected several spans, got %+v", all.Spans)
	}
	if all.InputTokens != nil {
		t.Error("InputTokens should be omitted unless requested")
	}

	// Five input tokens at density 0.2 allow a single span.
	args.MaximumSpanDensity = 0.2
	capped, err := c.Compute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped.Spans) != 1 {
		t.Errorf("got %d spans, want 1", len(capped.Spans))
	}
}

func TestComputer_Errors(t *testing.T) {
	c := newTestComputer(t)

	args := testArgs("quick fox")
	args.Index = "olmo"
	if _, err := c.Compute(context.Background(), args); !attrerrors.IsCode(err, attrerrors.ConfigInvalid) {
		t.Errorf("wrong index error = %v, want CONFIG_INVALID", err)
	}

	args = testArgs("quick fox")
	args.MinimumSpanLength = 0
	if _, err := c.Compute(context.Background(), args); !attrerrors.IsCode(err, attrerrors.EngineError) {
		t.Errorf("engine error = %v, want ENGINE_ERROR", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Compute(ctx, testArgs("quick fox")); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v, want context.Canceled", err)
	}
}

func TestComputer_HandleJob(t *testing.T) {
	c := newTestComputer(t)
	job, err := jobs.NewJob(jobs.NewJobKey(), jobs.FunctionName("pileval"), "pileval", testArgs("hello, world"))
	if err != nil {
		t.Fatal(err)
	}

	body, err := c.HandleJob(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("result is not a Response: %v", err)
	}
	if resp.Index != "pileval" || len(resp.Spans) == 0 {
		t.Errorf("response = %+v", resp)
	}

	job.Args = json.RawMessage(`{"minimum_span_length":"one"}`)
	if _, err := c.HandleJob(context.Background(), job); !attrerrors.IsCode(err, attrerrors.InternalError) {
		t.Errorf("malformed args error = %v, want INTERNAL_ERROR", err)
	}
}

func TestSampleDocuments(t *testing.T) {
	docs := make([]engine.DocPointer, 30)
	for i := range docs {
		docs[i] = engine.DocPointer{Pointer: int64(i)}
	}

	first := sampleDocuments(docs, 10)
	second := sampleDocuments(docs, 10)
	if len(first) != 10 {
		t.Fatalf("sampled %d, want 10", len(first))
	}
	if !slices.Equal(first, second) {
		t.Error("sampling is not reproducible")
	}

	seen := make(map[int64]bool)
	for _, d := range first {
		if seen[d.Pointer] {
			t.Errorf("pointer %d sampled twice", d.Pointer)
		}
		seen[d.Pointer] = true
	}

	few := docs[:3]
	if got := sampleDocuments(few, 10); !slices.Equal(got, few) {
		t.Errorf("short list should pass through, got %v", got)
	}
}

func TestComputer_DoesNotGrowVocabulary(t *testing.T) {
	tok := tokenizer.NewWords()
	eng := ngram.New([]ngram.Record{{Text: "the quick brown fox jumps over the lazy dog"}}, tok)
	c := NewComputer(engine.NewProcessor("pileval", eng, tok), slogutil.NewDiscardLogger())
	size := tok.Size()

	for i := range 100 {
		args := testArgs(fmt.Sprintf("zebra%d quick brown fox wanders", i))
		args.IncludeInputAsTokens = true
		resp, err := c.Compute(context.Background(), args)
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		want := []string{fmt.Sprintf("zebra%d", i), " quick", " brown", " fox", " wanders"}
		if !slices.Equal(resp.InputTokens, want) {
			t.Fatalf("InputTokens = %q, want %q", resp.InputTokens, want)
		}
		if len(resp.Spans) != 1 || resp.Spans[0].Text != " quick brown fox" {
			t.Fatalf("spans = %+v", resp.Spans)
		}
	}
	if got := tok.Size(); got != size {
		t.Errorf("vocabulary grew from %d to %d while serving requests", size, got)
	}
}
