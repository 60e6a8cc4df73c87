// Package bm25 scores documents against a query with Okapi BM25.
package bm25

import (
	"math"
	"strings"
)

// Params are the Okapi BM25 free parameters. Epsilon is the fraction of the
// mean IDF that replaces negative IDF values of very common terms.
type Params struct {
	K1      float64
	B       float64
	Epsilon float64
}

// DefaultParams returns k1=1.5, b=0.75, epsilon=0.25.
func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75, Epsilon: 0.25}
}

// Okapi is an index over a fixed, pre-tokenized corpus.
type Okapi struct {
	params   Params
	termFreq []map[string]int
	docLen   []int
	avgLen   float64
	idf      map[string]float64
}

// Tokenize splits text on whitespace. Queries and corpus documents must be
// tokenized the same way.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// New indexes corpus, one token list per document.
func New(corpus [][]string, params Params) *Okapi {
	o := &Okapi{
		params:   params,
		termFreq: make([]map[string]int, len(corpus)),
		docLen:   make([]int, len(corpus)),
		idf:      make(map[string]float64),
	}

	docFreq := make(map[string]int)
	total := 0
	for i, doc := range corpus {
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		for term := range tf {
			docFreq[term]++
		}
		o.termFreq[i] = tf
		o.docLen[i] = len(doc)
		total += len(doc)
	}
	if len(corpus) > 0 {
		o.avgLen = float64(total) / float64(len(corpus))
	}

	n := float64(len(corpus))
	var idfSum float64
	var negative []string
	for term, df := range docFreq {
		idf := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		o.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	if len(docFreq) > 0 {
		floor := params.Epsilon * idfSum / float64(len(docFreq))
		for _, term := range negative {
			o.idf[term] = floor
		}
	}
	return o
}

// termIDF returns the floored inverse document frequency of term; unseen
// terms score 0.
func (o *Okapi) termIDF(term string) float64 {
	return o.idf[term]
}

// Scores returns one score per corpus document, in corpus order.
func (o *Okapi) Scores(query []string) []float64 {
	scores := make([]float64, len(o.docLen))
	if o.avgLen == 0 {
		return scores
	}
	k1, b := o.params.K1, o.params.B
	for _, term := range query {
		idf, ok := o.idf[term]
		if !ok {
			continue
		}
		for i, tf := range o.termFreq {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := k1 * (1 - b + b*float64(o.docLen[i])/o.avgLen)
			scores[i] += idf * f * (k1 + 1) / (f + norm)
		}
	}
	return scores
}
