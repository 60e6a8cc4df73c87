// Package ngram is an in-process engine over a small JSONL corpus. It keeps
// the concatenated token stream and a suffix array in memory and answers
// attribution queries by binary search.
package ngram

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/allenai/infinigram-api/internal/engine"
	"github.com/allenai/infinigram-api/internal/tokenizer"
)

// separator ends every document in the token stream. Tokenizers never emit
// negative ids, so no match can cross a document boundary.
const separator = -1

// Record is one line of a corpus file.
type Record struct {
	Text     string          `json:"text"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Blocked  bool            `json:"blocked,omitempty"`
}

type document struct {
	start    int
	length   int
	metadata string
	blocked  bool
}

// Engine implements engine.Engine. It is read-only after construction and
// safe for concurrent use.
type Engine struct {
	tok    tokenizer.Tokenizer
	tokens []int
	docs   []document
	sa     []int32

	unigram map[int]int64
	total   int64
}

// Load reads a JSONL corpus and builds the index.
func Load(path string, tok tokenizer.Tokenizer) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("corpus %s line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	return New(records, tok), nil
}

// New builds an index over records in memory. A tokenizer with a Freeze
// method is frozen once the corpus is encoded.
func New(records []Record, tok tokenizer.Tokenizer) *Engine {
	e := &Engine{
		tok:     tok,
		docs:    make([]document, 0, len(records)),
		unigram: make(map[int]int64),
	}

	for _, rec := range records {
		ids := tok.Encode(rec.Text)
		metadata := ""
		if len(rec.Metadata) > 0 && string(rec.Metadata) != "null" {
			metadata = string(rec.Metadata)
		}
		e.docs = append(e.docs, document{
			start:    len(e.tokens),
			length:   len(ids),
			metadata: metadata,
			blocked:  rec.Blocked,
		})
		e.tokens = append(e.tokens, ids...)
		e.tokens = append(e.tokens, separator)
		for _, id := range ids {
			e.unigram[id]++
		}
		e.total += int64(len(ids))
	}
	if f, ok := tok.(interface{ Freeze() }); ok {
		f.Freeze()
	}

	e.sa = make([]int32, 0, len(e.tokens))
	for i, id := range e.tokens {
		if id != separator {
			e.sa = append(e.sa, int32(i))
		}
	}
	sort.Slice(e.sa, func(i, j int) bool {
		return e.compareSuffixes(int(e.sa[i]), int(e.sa[j])) < 0
	})
	return e
}

// NumDocuments returns the number of documents in the corpus.
func (e *Engine) NumDocuments() int {
	return len(e.docs)
}

// NumTokens returns the number of corpus tokens, separators excluded.
func (e *Engine) NumTokens() int64 {
	return e.total
}

func (e *Engine) compareSuffixes(a, b int) int {
	for a < len(e.tokens) && b < len(e.tokens) {
		ta, tb := e.tokens[a], e.tokens[b]
		if ta != tb {
			if ta < tb {
				return -1
			}
			return 1
		}
		if ta == separator {
			return a - b
		}
		a++
		b++
	}
	return b - a
}

// comparePrefix compares the suffix at pos against query, looking at no more
// than len(query) tokens.
func (e *Engine) comparePrefix(pos int, query []int) int {
	for i, q := range query {
		if pos+i >= len(e.tokens) {
			return -1
		}
		t := e.tokens[pos+i]
		if t != q {
			if t < q {
				return -1
			}
			return 1
		}
	}
	return 0
}

// find returns the suffix-array range [lo, hi) of suffixes starting with query.
func (e *Engine) find(query []int) (int, int) {
	lo := sort.Search(len(e.sa), func(i int) bool {
		return e.comparePrefix(int(e.sa[i]), query) >= 0
	})
	hi := lo + sort.Search(len(e.sa)-lo, func(i int) bool {
		return e.comparePrefix(int(e.sa[lo+i]), query) > 0
	})
	return lo, hi
}

// Count returns the number of occurrences of query in the corpus.
func (e *Engine) Count(query []int) int64 {
	if len(query) == 0 {
		return e.total
	}
	lo, hi := e.find(query)
	return int64(hi - lo)
}

func (e *Engine) documentAt(pos int) (int, bool) {
	i := sort.Search(len(e.docs), func(i int) bool {
		return e.docs[i].start > pos
	}) - 1
	if i < 0 || pos >= e.docs[i].start+e.docs[i].length {
		return 0, false
	}
	return i, true
}

func (e *Engine) logprobSum(ids []int) float64 {
	if e.total == 0 {
		return 0
	}
	var sum float64
	for _, id := range ids {
		sum += math.Log(float64(e.unigram[id]) / float64(e.total))
	}
	return sum
}

// FindAttributionSpans implements engine.Engine. For every start position it
// extends the longest match present in the corpus, optionally shrinking it
// to whole words, and keeps it when it is not contained in the previous kept
// span. Spans never cross a delimiter token.
func (e *Engine) FindAttributionSpans(inputIDs, delimiterIDs []int, minLen, maxFreq int, enforceWordBoundary bool) engine.Result[[]engine.SpanCandidate] {
	if minLen <= 0 {
		return engine.Fail[[]engine.SpanCandidate]("minimum span length must be positive")
	}
	if maxFreq <= 0 {
		return engine.Fail[[]engine.SpanCandidate]("maximum frequency must be positive")
	}

	delim := make(map[int]bool, len(delimiterIDs))
	for _, id := range delimiterIDs {
		delim[id] = true
	}

	spans := []engine.SpanCandidate{}
	for segStart := 0; segStart < len(inputIDs); {
		if delim[inputIDs[segStart]] {
			segStart++
			continue
		}
		segEnd := segStart
		for segEnd < len(inputIDs) && !delim[inputIDs[segEnd]] {
			segEnd++
		}
		spans = e.spansInSegment(spans, inputIDs, segStart, segEnd, minLen, maxFreq, enforceWordBoundary)
		segStart = segEnd
	}
	return engine.OK(spans)
}

func (e *Engine) spansInSegment(out []engine.SpanCandidate, ids []int, start, end, minLen, maxFreq int, bow bool) []engine.SpanCandidate {
	wordStart := func(i int) bool {
		return i == start || i == end || e.tok.IsWordStart(ids[i])
	}

	lastRight := start
	for l := start; l < end; l++ {
		if bow && !wordStart(l) {
			continue
		}

		r := l
		lo, hi := 0, len(e.sa)
		for r < end {
			nlo, nhi := e.narrow(lo, hi, r-l, ids[r])
			if nlo == nhi {
				break
			}
			lo, hi = nlo, nhi
			r++
		}
		if bow {
			for r > l && !wordStart(r) {
				r--
			}
			if r > l {
				lo, hi = e.find(ids[l:r])
			}
		}

		length := r - l
		if length < minLen || r <= lastRight {
			continue
		}
		count := hi - lo
		if count > maxFreq {
			continue
		}

		docs := make([]engine.DocPointer, 0, count)
		for _, pos := range e.sa[lo:hi] {
			docs = append(docs, engine.DocPointer{Pointer: int64(pos)})
		}
		out = append(out, engine.SpanCandidate{
			Left:              l,
			Right:             r,
			Length:            length,
			Count:             int64(count),
			UnigramLogprobSum: e.logprobSum(ids[l:r]),
			Docs:              docs,
		})
		lastRight = r
	}
	return out
}

// narrow restricts the suffix-array range [lo, hi), whose suffixes share a
// prefix of length depth, to those whose next token is id.
func (e *Engine) narrow(lo, hi, depth, id int) (int, int) {
	at := func(i int) int {
		pos := int(e.sa[i]) + depth
		if pos >= len(e.tokens) {
			return separator
		}
		return e.tokens[pos]
	}
	nlo := lo + sort.Search(hi-lo, func(i int) bool { return at(lo+i) >= id })
	nhi := nlo + sort.Search(hi-nlo, func(i int) bool { return at(nlo+i) > id })
	return nlo, nhi
}

func (e *Engine) window(pos, needleLen, maxCtx int) (engine.RawDocument, error) {
	if needleLen < 0 || maxCtx < 0 {
		return engine.RawDocument{}, fmt.Errorf("needle length %d and context length %d must not be negative", needleLen, maxCtx)
	}
	di, ok := e.documentAt(pos)
	if !ok {
		return engine.RawDocument{}, fmt.Errorf("pointer %d is out of range", pos)
	}
	doc := e.docs[di]
	docEnd := doc.start + doc.length

	from := max(doc.start, pos-maxCtx)
	to := min(docEnd, pos+needleLen+maxCtx)
	ids := make([]int, to-from)
	copy(ids, e.tokens[from:to])

	return engine.RawDocument{
		DocumentIndex:  int64(di),
		DocumentLength: doc.length,
		DisplayLength:  to - from,
		NeedleOffset:   pos - from,
		Metadata:       doc.metadata,
		TokenIDs:       ids,
		Blocked:        doc.blocked,
	}, nil
}

// FetchDocumentsByPointer implements engine.Engine.
func (e *Engine) FetchDocumentsByPointer(requests []engine.PointerRequest) engine.Result[[][]engine.RawDocument] {
	out := make([][]engine.RawDocument, len(requests))
	for i, req := range requests {
		group := make([]engine.RawDocument, 0, len(req.Docs))
		for _, ptr := range req.Docs {
			if ptr.Shard != 0 {
				return engine.Fail[[][]engine.RawDocument](fmt.Sprintf("shard %d does not exist", ptr.Shard))
			}
			doc, err := e.window(int(ptr.Pointer), req.NeedleLength, req.MaximumContextLength)
			if err != nil {
				return engine.Fail[[][]engine.RawDocument](err.Error())
			}
			group = append(group, doc)
		}
		out[i] = group
	}
	return engine.OK(out)
}

// FetchDocumentsByRank implements engine.Engine.
func (e *Engine) FetchDocumentsByRank(requests []engine.RankRequest) engine.Result[[]engine.RawDocument] {
	out := make([]engine.RawDocument, 0, len(requests))
	for _, req := range requests {
		if req.Shard != 0 {
			return engine.Fail[[]engine.RawDocument](fmt.Sprintf("shard %d does not exist", req.Shard))
		}
		if req.Rank < 0 || req.Rank >= int64(len(e.sa)) {
			return engine.Fail[[]engine.RawDocument](fmt.Sprintf("rank %d is out of range", req.Rank))
		}
		doc, err := e.window(int(e.sa[req.Rank]), req.NeedleLength, req.MaximumContextLength)
		if err != nil {
			return engine.Fail[[]engine.RawDocument](err.Error())
		}
		out = append(out, doc)
	}
	return engine.OK(out)
}

// FetchDocumentsByIndex implements engine.Engine. The window starts at the
// beginning of the document.
func (e *Engine) FetchDocumentsByIndex(requests []engine.IndexRequest) engine.Result[[]engine.RawDocument] {
	out := make([]engine.RawDocument, 0, len(requests))
	for _, req := range requests {
		if req.DocumentIndex < 0 || req.DocumentIndex >= int64(len(e.docs)) {
			return engine.Fail[[]engine.RawDocument](fmt.Sprintf("document %d is out of range", req.DocumentIndex))
		}
		if req.MaximumContextLength < 0 {
			return engine.Fail[[]engine.RawDocument](fmt.Sprintf("context length %d must not be negative", req.MaximumContextLength))
		}
		doc := e.docs[req.DocumentIndex]
		n := min(doc.length, req.MaximumContextLength)
		ids := make([]int, n)
		copy(ids, e.tokens[doc.start:doc.start+n])
		out = append(out, engine.RawDocument{
			DocumentIndex:  req.DocumentIndex,
			DocumentLength: doc.length,
			DisplayLength:  n,
			Metadata:       doc.metadata,
			TokenIDs:       ids,
			Blocked:        doc.blocked,
		})
	}
	return engine.OK(out)
}
