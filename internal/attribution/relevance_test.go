package attribution

import (
	"fmt"
	"testing"

	"github.com/allenai/infinigram-api/internal/engine"
)

func doc(index int64, text string) Document {
	return Document{Document: engine.Document{DocumentIndex: index, Text: text}}
}

// fruitSpans holds three documents with disjoint vocabularies in two spans.
func fruitSpans() []Span {
	return []Span{
		{Left: 0, Right: 2, Documents: []Document{doc(1, "apple banana"), doc(2, "cherry date")}},
		{Left: 4, Right: 6, Documents: []Document{doc(3, "elder fig")}},
	}
}

func bm25Request(response, prompt string, fields FieldsConsidered, ratio float64) Request {
	req := DefaultRequest()
	req.Response = response
	req.Prompt = prompt
	req.FilterMethod = FilterBM25
	req.FilterBm25FieldsConsidered = fields
	req.FilterBm25RatioToKeep = ratio
	return req
}

func keptIndexes(spans []Span) []int64 {
	var out []int64
	for _, s := range spans {
		for _, d := range s.Documents {
			out = append(out, d.DocumentIndex)
		}
	}
	return out
}

func scoreOf(t *testing.T, spans []Span, index int64) float64 {
	t.Helper()
	for _, s := range spans {
		for _, d := range s.Documents {
			if d.DocumentIndex == index {
				if d.RelevanceScore == nil {
					t.Fatalf("document %d has no relevance score", index)
				}
				return *d.RelevanceScore
			}
		}
	}
	t.Fatalf("document %d not kept", index)
	return 0
}

func TestFilterRelevance_NoneIsIdentity(t *testing.T) {
	req := DefaultRequest()
	req.Response = "apple"
	got := FilterRelevance(fruitSpans(), req)
	if fmt.Sprint(keptIndexes(got)) != "[1 2 3]" {
		t.Errorf("kept = %v", keptIndexes(got))
	}
	if got[0].Documents[0].RelevanceScore != nil {
		t.Error("no filter should not set relevance scores")
	}
}

func TestFilterRelevance_KeepCount(t *testing.T) {
	var docs []Document
	for i := 0; i < 10; i++ {
		docs = append(docs, doc(int64(i), fmt.Sprintf("word%d shared", i)))
	}
	spans := []Span{{Documents: docs}}

	tests := []struct {
		ratio float64
		want  int
	}{
		{0, 1},
		{0.05, 1},
		{0.5, 5},
		{0.51, 6},
		{1, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.ratio), func(t *testing.T) {
			got := FilterRelevance(spans, bm25Request("word3 shared", "", FieldsResponse, tt.ratio))
			if n := len(keptIndexes(got)); n != tt.want {
				t.Errorf("kept %d documents, want %d", n, tt.want)
			}
		})
	}

	got := FilterRelevance(spans, bm25Request("word3", "", FieldsResponse, 0))
	if fmt.Sprint(keptIndexes(got)) != "[3]" {
		t.Errorf("best match = %v, want [3]", keptIndexes(got))
	}
}

func TestFilterRelevance_DropsEmptySpans(t *testing.T) {
	got := FilterRelevance(fruitSpans(), bm25Request("elder", "", FieldsResponse, 0.3))
	if len(got) != 1 || got[0].Left != 4 {
		t.Fatalf("spans = %+v, want only the span at left 4", got)
	}
	if scoreOf(t, got, 3) <= 0 {
		t.Error("matching document should score above zero")
	}
}

func TestFilterRelevance_TiesKeepCorpusOrder(t *testing.T) {
	got := FilterRelevance(fruitSpans(), bm25Request("unrelated", "", FieldsResponse, 0.3))
	if fmt.Sprint(keptIndexes(got)) != "[1]" {
		t.Errorf("kept = %v, want the first document", keptIndexes(got))
	}
}

func TestFilterRelevance_Fields(t *testing.T) {
	tests := []struct {
		name     string
		response string
		prompt   string
		fields   FieldsConsidered
		positive []int64
		zero     []int64
	}{
		{"response", "cherry", "apple", FieldsResponse, []int64{2}, []int64{1, 3}},
		{"prompt", "cherry", "apple", FieldsPrompt, []int64{1}, []int64{2, 3}},
		{"prompt falls back to response", "cherry", "", FieldsPrompt, []int64{2}, []int64{1, 3}},
		{"prompt or response", "cherry", "apple", FieldsPromptOrResponse, []int64{1, 2}, []int64{3}},
		{"prompt plus response", "cherry", "apple", FieldsPromptPlusResponse, []int64{1, 2}, []int64{3}},
		{"prompt plus empty prompt", "cherry", "", FieldsPromptPlusResponse, []int64{2}, []int64{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterRelevance(fruitSpans(), bm25Request(tt.response, tt.prompt, tt.fields, 1))
			for _, i := range tt.positive {
				if s := scoreOf(t, got, i); s <= 0 {
					t.Errorf("document %d score = %v, want > 0", i, s)
				}
			}
			for _, i := range tt.zero {
				if s := scoreOf(t, got, i); s != 0 {
					t.Errorf("document %d score = %v, want 0", i, s)
				}
			}
		})
	}
}

func TestFilterRelevance_PromptPlusResponseSums(t *testing.T) {
	req := bm25Request("apple", "apple", FieldsPromptPlusResponse, 1)
	summed := scoreOf(t, FilterRelevance(fruitSpans(), req), 1)
	single := scoreOf(t, FilterRelevance(fruitSpans(), bm25Request("apple", "", FieldsResponse, 1)), 1)
	if summed != 2*single {
		t.Errorf("summed score = %v, want %v", summed, 2*single)
	}
}

func TestFilterRelevance_EmptyCorpus(t *testing.T) {
	spans := []Span{{Left: 0, Right: 1, Documents: []Document{}}}
	got := FilterRelevance(spans, bm25Request("apple", "", FieldsResponse, 0))
	if len(got) != 1 {
		t.Errorf("empty corpus should be returned unchanged, got %+v", got)
	}
	if got := FilterRelevance(nil, bm25Request("apple", "", FieldsResponse, 0)); len(got) != 0 {
		t.Errorf("nil spans = %+v", got)
	}
}
