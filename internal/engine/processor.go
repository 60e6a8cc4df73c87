package engine

import (
	"encoding/json"
	"fmt"

	"github.com/allenai/infinigram-api/internal/errors"
	"github.com/allenai/infinigram-api/internal/tokenizer"
)

// Document is a decoded window with parsed metadata.
type Document struct {
	DocumentIndex  int64                  `json:"documentIndex"`
	DocumentLength int                    `json:"documentLength"`
	DisplayLength  int                    `json:"displayLength"`
	NeedleOffset   int                    `json:"needleOffset"`
	Metadata       map[string]interface{} `json:"metadata"`
	TokenIDs       []int                  `json:"tokenIds"`
	Text           string                 `json:"text"`
	Blocked        bool                   `json:"blocked"`
}

// Processor binds an Engine to the tokenizer of the same index and exposes
// the engine capabilities as plain (value, error) calls.
type Processor struct {
	index     string
	engine    Engine
	tokenizer tokenizer.Tokenizer
}

// NewProcessor creates a processor for one index.
func NewProcessor(index string, eng Engine, tok tokenizer.Tokenizer) *Processor {
	return &Processor{index: index, engine: eng, tokenizer: tok}
}

// Index returns the id of the index this processor serves.
func (p *Processor) Index() string {
	return p.index
}

// Tokenize encodes text with the index tokenizer.
func (p *Processor) Tokenize(text string) []int {
	return p.tokenizer.Encode(text)
}

// Decode turns token ids back into text.
func (p *Processor) Decode(ids []int) string {
	return p.tokenizer.Decode(ids)
}

// Pieces returns the text of every token of text, including pieces the
// index has never seen.
func (p *Processor) Pieces(text string) []string {
	return p.tokenizer.Pieces(text)
}

// DelimiterIDs tokenizes each delimiter string and returns the union of their ids.
func (p *Processor) DelimiterIDs(delimiters []string) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, d := range delimiters {
		for _, id := range p.tokenizer.Encode(d) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Count returns how often text occurs in the index.
func (p *Processor) Count(text string) int64 {
	return p.engine.Count(p.tokenizer.Encode(text))
}

// FindAttributionSpans returns the maximal rare spans of inputIDs in engine order.
func (p *Processor) FindAttributionSpans(inputIDs []int, delimiters []string, minLen, maxFreq int, enforceWordBoundary bool) ([]SpanCandidate, error) {
	return p.engine.FindAttributionSpans(inputIDs, p.DelimiterIDs(delimiters), minLen, maxFreq, enforceWordBoundary).Unwrap()
}

// FetchDocumentsByPointer resolves each request group into decoded documents,
// preserving group and pointer order.
func (p *Processor) FetchDocumentsByPointer(requests []PointerRequest) ([][]Document, error) {
	raw, err := p.engine.FetchDocumentsByPointer(requests).Unwrap()
	if err != nil {
		return nil, err
	}
	if len(raw) != len(requests) {
		return nil, errors.Engine(fmt.Sprintf("engine returned %d document groups for %d requests", len(raw), len(requests)))
	}

	out := make([][]Document, len(raw))
	for i, group := range raw {
		docs, err := p.decodeAll(group)
		if err != nil {
			return nil, err
		}
		out[i] = docs
	}
	return out, nil
}

// FetchDocumentsByRank resolves suffix-array ranks into decoded documents.
func (p *Processor) FetchDocumentsByRank(requests []RankRequest) ([]Document, error) {
	raw, err := p.engine.FetchDocumentsByRank(requests).Unwrap()
	if err != nil {
		return nil, err
	}
	return p.decodeAll(raw)
}

// FetchDocumentsByIndex resolves corpus positions into decoded documents.
func (p *Processor) FetchDocumentsByIndex(requests []IndexRequest) ([]Document, error) {
	raw, err := p.engine.FetchDocumentsByIndex(requests).Unwrap()
	if err != nil {
		return nil, err
	}
	return p.decodeAll(raw)
}

func (p *Processor) decodeAll(raw []RawDocument) ([]Document, error) {
	docs := make([]Document, len(raw))
	for i, r := range raw {
		doc, err := p.decode(r)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	return docs, nil
}

func (p *Processor) decode(r RawDocument) (Document, error) {
	metadata := map[string]interface{}{}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &metadata); err != nil {
			return Document{}, errors.New(errors.EngineError,
				fmt.Sprintf("document %d has malformed metadata", r.DocumentIndex), err)
		}
	}
	return Document{
		DocumentIndex:  r.DocumentIndex,
		DocumentLength: r.DocumentLength,
		DisplayLength:  r.DisplayLength,
		NeedleOffset:   r.NeedleOffset,
		Metadata:       metadata,
		TokenIDs:       r.TokenIDs,
		Text:           p.tokenizer.Decode(r.TokenIDs),
		Blocked:        r.Blocked,
	}, nil
}
