package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/allenai/infinigram-api/internal/engine"
	"github.com/allenai/infinigram-api/internal/errors"
	"github.com/allenai/infinigram-api/internal/jobs"
)

// sampleSeed makes document sampling reproducible across identical requests.
const sampleSeed = 42

// Computer runs the worker side of an attribution: find spans, select them,
// fetch and trim their documents. One Computer serves one index.
type Computer struct {
	proc   *engine.Processor
	logger *slog.Logger
}

// NewComputer creates a computer over a loaded index.
func NewComputer(proc *engine.Processor, logger *slog.Logger) *Computer {
	return &Computer{proc: proc, logger: logger.With("index", proc.Index())}
}

// HandleJob is the jobs.Handler of an index pool.
func (c *Computer) HandleJob(ctx context.Context, job *jobs.Job) ([]byte, error) {
	var args JobArgs
	if err := job.DecodeArgs(&args); err != nil {
		return nil, errors.New(errors.InternalError, "malformed job arguments", err)
	}
	resp, err := c.Compute(ctx, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// Compute runs the pipeline. ctx is checked between engine calls; an engine
// call already in progress is not interrupted.
func (c *Computer) Compute(ctx context.Context, args JobArgs) (*Response, error) {
	if args.Index != c.proc.Index() {
		return nil, errors.New(errors.ConfigInvalid,
			fmt.Sprintf("job for index %s reached the worker of index %s", args.Index, c.proc.Index()), nil)
	}

	ids := c.proc.Tokenize(args.Input)
	candidates, err := c.proc.FindAttributionSpans(ids, args.Delimiters,
		args.MinimumSpanLength, args.MaximumFrequency, !args.AllowSpansWithPartialWords)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxSpans := MaxSpanCount(len(ids), args.MaximumSpanDensity)
	selected := SelectSpans(candidates, args.SpanRankingMethod, maxSpans)
	c.logger.Debug("Selected spans",
		"inputTokens", len(ids),
		"candidates", len(candidates),
		"maxSpans", maxSpans,
		"selected", len(selected),
	)

	requests := make([]engine.PointerRequest, len(selected))
	for i, s := range selected {
		requests[i] = engine.PointerRequest{
			Docs:                 sampleDocuments(s.Docs, args.MaximumDocumentsPerSpan),
			SpanIDs:              ids[s.Left:s.Right],
			NeedleLength:         s.Length,
			MaximumContextLength: args.MaximumContextLength,
		}
	}
	groups, err := c.proc.FetchDocumentsByPointer(requests)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spans := make([]Span, len(selected))
	for i, s := range selected {
		tokenIDs := slices.Clone(ids[s.Left:s.Right])
		docs := make([]Document, len(groups[i]))
		for j, d := range groups[i] {
			docs[j] = c.withWindows(d, s.Length, args)
		}
		spans[i] = Span{
			Left:              s.Left,
			Right:             s.Right,
			Length:            s.Length,
			Count:             s.Count,
			UnigramLogprobSum: s.UnigramLogprobSum,
			Text:              c.proc.Decode(tokenIDs),
			TokenIDs:          tokenIDs,
			Documents:         docs,
		}
	}

	resp := &Response{Index: c.proc.Index(), Spans: spans}
	if args.IncludeInputAsTokens {
		resp.InputTokens = c.proc.Pieces(args.Input)
	}
	return resp, nil
}

func (c *Computer) withWindows(d engine.Document, spanLength int, args JobArgs) Document {
	long := TrimContext(c.proc, d.TokenIDs, d.NeedleOffset, spanLength, args.MaximumContextLengthLong)
	snippet := TrimContext(c.proc, d.TokenIDs, d.NeedleOffset, spanLength, args.MaximumContextLengthSnippet)
	return Document{
		Document:             d,
		TextLong:             long.Text,
		DisplayLengthLong:    long.DisplayLength,
		NeedleOffsetLong:     long.NeedleOffset,
		TextSnippet:          snippet.Text,
		DisplayLengthSnippet: snippet.DisplayLength,
		NeedleOffsetSnippet:  snippet.NeedleOffset,
	}
}

// sampleDocuments picks n pointers with a fixed seed when there are more
// than n, so the same span always yields the same documents.
func sampleDocuments(docs []engine.DocPointer, n int) []engine.DocPointer {
	if len(docs) <= n {
		return docs
	}
	rng := rand.New(rand.NewPCG(sampleSeed, sampleSeed))
	perm := rng.Perm(len(docs))
	out := make([]engine.DocPointer, n)
	for i := range out {
		out[i] = docs[perm[i]]
	}
	return out
}
