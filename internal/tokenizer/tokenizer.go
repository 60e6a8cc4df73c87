// Package tokenizer provides the token encoders used by an index.
package tokenizer

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// WordsEncoding selects the built-in word-level tokenizer.
const WordsEncoding = "words"

// Tokenizer converts between text and token ids for one index.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	// Pieces splits text into the text of each token Encode would return.
	Pieces(text string) []string
	// IsWordStart reports whether the token begins a new word.
	IsWordStart(id int) bool
}

// New returns the tokenizer for an encoding name: "words" or any tiktoken
// encoding such as "cl100k_base" or "o200k_base".
func New(encoding string) (Tokenizer, error) {
	if encoding == "" || encoding == WordsEncoding {
		return NewWords(), nil
	}
	return NewTiktoken(encoding)
}

// Tiktoken wraps a BPE encoding from tiktoken-go.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
	name     string

	mu        sync.RWMutex
	wordStart map[int]bool
}

// NewTiktoken loads a tiktoken encoding by name.
func NewTiktoken(name string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", name, err)
	}
	return &Tiktoken{encoding: enc, name: name, wordStart: make(map[int]bool)}, nil
}

// Encode implements Tokenizer.
func (t *Tiktoken) Encode(text string) []int {
	return t.encoding.Encode(text, nil, nil)
}

// Decode implements Tokenizer.
func (t *Tiktoken) Decode(ids []int) string {
	return t.encoding.Decode(ids)
}

// Pieces implements Tokenizer. Each BPE token is decoded on its own.
func (t *Tiktoken) Pieces(text string) []string {
	ids := t.Encode(text)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.encoding.Decode([]int{id})
	}
	return out
}

// IsWordStart implements Tokenizer. A BPE token starts a word when its text
// begins with whitespace.
func (t *Tiktoken) IsWordStart(id int) bool {
	t.mu.RLock()
	v, ok := t.wordStart[id]
	t.mu.RUnlock()
	if ok {
		return v
	}
	text := t.encoding.Decode([]int{id})
	v = text != "" && strings.ContainsRune(" \t\n\r", rune(text[0]))
	t.mu.Lock()
	t.wordStart[id] = v
	t.mu.Unlock()
	return v
}

// wordPattern splits text into words and punctuation carrying their leading
// spaces, with each newline as its own token.
var wordPattern = regexp.MustCompile(`[^\S\n]*[\p{L}\p{N}_]+|[^\S\n]*[^\p{L}\p{N}_\s]|\n|[^\S\n]+`)

// Reserved ids for pieces first seen after Freeze. They sit above any
// vocabulary id, so they never match corpus text.
const (
	UnknownWord  = math.MaxInt32 - 1
	UnknownPiece = math.MaxInt32
)

// Words is a lossless word-level tokenizer. The vocabulary grows while the
// corpus is encoded and is fixed by Freeze. Safe for concurrent use.
type Words struct {
	mu     sync.RWMutex
	ids    map[string]int
	vocab  []string
	frozen atomic.Bool
}

// NewWords creates an empty word-level tokenizer.
func NewWords() *Words {
	return &Words{ids: make(map[string]int)}
}

// Freeze fixes the vocabulary. Afterwards Encode maps unseen pieces to
// UnknownWord or UnknownPiece and never allocates an id.
func (w *Words) Freeze() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frozen.Store(true)
}

// Size returns the number of pieces in the vocabulary.
func (w *Words) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.vocab)
}

// Encode implements Tokenizer.
func (w *Words) Encode(text string) []int {
	pieces := w.Pieces(text)
	ids := make([]int, len(pieces))
	for i, p := range pieces {
		ids[i] = w.id(p)
	}
	return ids
}

// Pieces implements Tokenizer.
func (w *Words) Pieces(text string) []string {
	return wordPattern.FindAllString(text, -1)
}

func (w *Words) id(piece string) int {
	if w.frozen.Load() {
		// The map is read-only once frozen.
		if id, ok := w.ids[piece]; ok {
			return id
		}
		if startsWord(piece) {
			return UnknownWord
		}
		return UnknownPiece
	}

	w.mu.RLock()
	id, ok := w.ids[piece]
	w.mu.RUnlock()
	if ok {
		return id
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.ids[piece]; ok {
		return id
	}
	if w.frozen.Load() {
		if startsWord(piece) {
			return UnknownWord
		}
		return UnknownPiece
	}
	id = len(w.vocab)
	w.ids[piece] = id
	w.vocab = append(w.vocab, piece)
	return id
}

// Decode implements Tokenizer. Unknown ids decode to the empty string.
func (w *Words) Decode(ids []int) string {
	var b strings.Builder
	for _, s := range w.TokenStrings(ids) {
		b.WriteString(s)
	}
	return b.String()
}

// TokenStrings decodes every id on its own, preserving order. Unknown ids
// decode to the empty string.
func (w *Words) TokenStrings(ids []int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(ids))
	for i, id := range ids {
		if id >= 0 && id < len(w.vocab) {
			out[i] = w.vocab[id]
		}
	}
	return out
}

// IsWordStart implements Tokenizer. Word tokens, punctuation preceded by a
// space, and newlines start a word; bare punctuation does not.
func (w *Words) IsWordStart(id int) bool {
	if id == UnknownWord {
		return true
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if id < 0 || id >= len(w.vocab) {
		return false
	}
	return startsWord(w.vocab[id])
}

func startsWord(piece string) bool {
	trimmed := strings.TrimLeft(piece, " \t\r")
	if trimmed == "" || trimmed == "\n" || trimmed != piece {
		return true
	}
	r, _ := utf8.DecodeRuneInString(trimmed)
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
