package attribution

import (
	"math"
	"slices"

	"github.com/allenai/infinigram-api/internal/engine"
)

// MaxSpanCount is ceil(inputTokens * density). The small tolerance keeps
// float noise such as 20*0.05 = 1.0000000000000002 from adding a span.
func MaxSpanCount(inputTokens int, density float64) int {
	return int(math.Ceil(float64(inputTokens)*density - 1e-9))
}

// SelectSpans ranks spans by method, keeps the first maxSpanCount and returns
// them in ascending left order. The input slice is not reordered.
func SelectSpans(spans []engine.SpanCandidate, method RankingMethod, maxSpanCount int) []engine.SpanCandidate {
	ranked := slices.Clone(spans)
	switch method {
	case RankByUnigramLogprobSum:
		slices.SortStableFunc(ranked, func(a, b engine.SpanCandidate) int {
			return cmpFloat(a.UnigramLogprobSum, b.UnigramLogprobSum)
		})
	default:
		slices.SortStableFunc(ranked, func(a, b engine.SpanCandidate) int {
			return b.Length - a.Length
		})
	}

	if maxSpanCount < 0 {
		maxSpanCount = 0
	}
	if len(ranked) > maxSpanCount {
		ranked = ranked[:maxSpanCount]
	}

	slices.SortStableFunc(ranked, func(a, b engine.SpanCandidate) int {
		return a.Left - b.Left
	})
	return ranked
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
