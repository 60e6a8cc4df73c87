package bm25

import (
	"math"
	"testing"
)

func corpus(texts ...string) [][]string {
	out := make([][]string, len(texts))
	for i, t := range texts {
		out[i] = Tokenize(t)
	}
	return out
}

func TestOkapi_Scores(t *testing.T) {
	idx := New(corpus(
		"the cat sat on the mat",
		"dogs chase cats",
		"a bird sang",
		"the dog barked",
	), DefaultParams())

	scores := idx.Scores(Tokenize("cat mat"))
	if len(scores) != 4 {
		t.Fatalf("got %d scores, want 4", len(scores))
	}
	if scores[0] <= 0 {
		t.Errorf("matching document score = %v, want positive", scores[0])
	}
	for i := 1; i < 4; i++ {
		if scores[i] != 0 {
			t.Errorf("scores[%d] = %v, want 0", i, scores[i])
		}
	}
}

func TestOkapi_KnownValue(t *testing.T) {
	// Three documents of equal length; "x" appears once in the first.
	idx := New(corpus("x y", "y z", "z w"), DefaultParams())

	wantIDF := math.Log(3-1+0.5) - math.Log(1+0.5)
	if got := idx.termIDF("x"); math.Abs(got-wantIDF) > 1e-12 {
		t.Errorf("IDF(x) = %v, want %v", got, wantIDF)
	}

	scores := idx.Scores([]string{"x"})
	want := wantIDF * 1 * 2.5 / (1 + 1.5)
	if math.Abs(scores[0]-want) > 1e-12 {
		t.Errorf("score = %v, want %v", scores[0], want)
	}
}

func TestOkapi_NegativeIDFFloored(t *testing.T) {
	// "the" occurs in every document, which makes its raw IDF negative.
	idx := New(corpus("the a", "the b", "the c"), DefaultParams())

	raw := math.Log(3-3+0.5) - math.Log(3+0.5)
	if raw >= 0 {
		t.Fatalf("test setup: raw idf %v should be negative", raw)
	}
	if got := idx.termIDF("the"); got == raw {
		t.Errorf("IDF(the) = %v, should have been floored", got)
	}
	rare := math.Log(3-1+0.5) - math.Log(1+0.5)
	mean := (raw + 3*rare) / 4
	if got := idx.termIDF("the"); math.Abs(got-0.25*mean) > 1e-12 {
		t.Errorf("IDF(the) = %v, want %v", got, 0.25*mean)
	}
}

func TestOkapi_EmptyCorpus(t *testing.T) {
	idx := New(nil, DefaultParams())
	if got := idx.Scores(Tokenize("anything")); len(got) != 0 {
		t.Errorf("Scores = %v, want empty", got)
	}

	idx = New(corpus("", "   "), DefaultParams())
	for i, s := range idx.Scores(Tokenize("anything")) {
		if s != 0 {
			t.Errorf("scores[%d] = %v, want 0", i, s)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("  a\tb\n c  ")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("Tokenize = %q", got)
	}
}
