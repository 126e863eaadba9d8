package model

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const (
	// DefaultMaxFeatures bounds the text vocabulary.
	DefaultMaxFeatures = 500
	// DefaultNgramMax is the widest n-gram the analyzer emits.
	DefaultNgramMax = 2
)

// Analyze lower-cases text, splits it into word tokens of at least two
// characters and returns every n-gram from 1 to ngramMax in document order.
func Analyze(text string, ngramMax int) []string {
	tokens := tokenize(strings.ToLower(text))
	if ngramMax < 1 {
		ngramMax = 1
	}
	out := make([]string, 0, len(tokens)*ngramMax)
	out = append(out, tokens...)
	for n := 2; n <= ngramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

func tokenize(s string) []string {
	var tokens []string
	start := -1
	runes := 0
	flush := func(end int) {
		if start >= 0 && runes >= 2 {
			tokens = append(tokens, s[start:end])
		}
		start, runes = -1, 0
	}
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if start < 0 {
				start = i
			}
			runes++
			continue
		}
		flush(i)
	}
	flush(len(s))
	return tokens
}

// Vectorizer is a TF-IDF text transform with a bounded vocabulary.
// Columns are ordered lexically by term.
type Vectorizer struct {
	NgramMax   int
	Vocabulary []string
	IDF        []float64

	once  sync.Once
	index map[string]int
}

// FitVectorizer learns the vocabulary and inverse document frequencies from
// the given analyzed documents. The maxFeatures most frequent terms across the
// corpus are kept, ties broken by term.
func FitVectorizer(docs [][]string, ngramMax, maxFeatures int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	freq := make(map[string]int)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, term := range doc {
			freq[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(docs))
	idf := make([]float64, len(terms))
	for i, term := range terms {
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return &Vectorizer{NgramMax: ngramMax, Vocabulary: terms, IDF: idf}
}

func (v *Vectorizer) lookup(term string) (int, bool) {
	v.once.Do(func() {
		v.index = make(map[string]int, len(v.Vocabulary))
		for i, t := range v.Vocabulary {
			v.index[t] = i
		}
	})
	i, ok := v.index[term]
	return i, ok
}

// Width is the number of columns Transform writes.
func (v *Vectorizer) Width() int { return len(v.Vocabulary) }

// Transform writes the L2-normalized TF-IDF row for terms into dst, which
// must have Width columns and be zeroed.
func (v *Vectorizer) Transform(terms []string, dst []float64) {
	for _, term := range terms {
		if i, ok := v.lookup(term); ok {
			dst[i] += v.IDF[i]
		}
	}
	var norm float64
	for _, x := range dst {
		norm += x * x
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range dst {
		dst[i] /= norm
	}
}
