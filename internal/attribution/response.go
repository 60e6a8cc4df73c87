package attribution

import "github.com/allenai/infinigram-api/internal/engine"

// Document is a retrieved document window with its two display windows.
type Document struct {
	engine.Document

	TextLong             string   `json:"textLong"`
	DisplayLengthLong    int      `json:"displayLengthLong"`
	NeedleOffsetLong     int      `json:"needleOffsetLong"`
	TextSnippet          string   `json:"textSnippet"`
	DisplayLengthSnippet int      `json:"displayLengthSnippet"`
	NeedleOffsetSnippet  int      `json:"needleOffsetSnippet"`
	RelevanceScore       *float64 `json:"relevanceScore,omitempty"`
}

// Span is an attributed range of the input with its supporting documents.
type Span struct {
	Left              int        `json:"left"`
	Right             int        `json:"right"`
	Length            int        `json:"length"`
	Count             int64      `json:"count"`
	UnigramLogprobSum float64    `json:"unigramLogprobSum"`
	Text              string     `json:"text"`
	TokenIDs          []int      `json:"tokenIds"`
	Documents         []Document `json:"documents"`
}

// Response is the attribution result. The same encoding is returned by the
// worker, stored in the cache and sent to clients.
type Response struct {
	Index       string   `json:"index"`
	Spans       []Span   `json:"spans"`
	InputTokens []string `json:"inputTokens,omitempty"`
}
