package attribution

import (
	"math"
	"slices"

	"github.com/allenai/infinigram-api/internal/bm25"
)

// FilterRelevance applies the request's document filter. With bm25 it scores
// every document against the query fields, keeps the top
// ceil(total*ratio) documents (at least one) and drops spans left empty.
// Equal scores keep corpus order, so earlier documents win at the cutoff.
func FilterRelevance(spans []Span, req Request) []Span {
	if req.FilterMethod != FilterBM25 {
		return spans
	}

	var texts []string
	for _, s := range spans {
		for _, d := range s.Documents {
			texts = append(texts, d.Text)
		}
	}
	total := len(texts)
	if total == 0 {
		return spans
	}

	corpus := make([][]string, total)
	for i, t := range texts {
		corpus[i] = bm25.Tokenize(t)
	}
	scores := queryScores(bm25.New(corpus, bm25.DefaultParams()), req)

	keep := int(math.Ceil(float64(total) * req.FilterBm25RatioToKeep))
	keep = max(1, min(keep, total))

	order := make([]int, total)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmpFloat(scores[b], scores[a])
	})
	kept := make(map[int]bool, keep)
	for _, i := range order[:keep] {
		kept[i] = true
	}

	out := make([]Span, 0, len(spans))
	i := 0
	for _, s := range spans {
		docs := make([]Document, 0, len(s.Documents))
		for _, d := range s.Documents {
			if kept[i] {
				score := scores[i]
				d.RelevanceScore = &score
				docs = append(docs, d)
			}
			i++
		}
		if len(docs) > 0 {
			s.Documents = docs
			out = append(out, s)
		}
	}
	return out
}

func queryScores(idx *bm25.Okapi, req Request) []float64 {
	response := bm25.Tokenize(req.Response)
	switch req.FilterBm25FieldsConsidered {
	case FieldsPrompt:
		if req.Prompt == "" {
			return idx.Scores(response)
		}
		return idx.Scores(bm25.Tokenize(req.Prompt))
	case FieldsPromptOrResponse:
		if req.Prompt == "" {
			return idx.Scores(response)
		}
		return idx.Scores(bm25.Tokenize(req.Prompt + " " + req.Response))
	case FieldsPromptPlusResponse:
		scores := idx.Scores(response)
		if req.Prompt != "" {
			for i, s := range idx.Scores(bm25.Tokenize(req.Prompt)) {
				scores[i] += s
			}
		}
		return scores
	default:
		return idx.Scores(response)
	}
}
