package search

import (
	"math"
	"strings"
	"unicode"
)

// BM25 constants, standard Robertson parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// bm25Scores scores every document against the query over the candidate
// corpus itself. The corpus is small (one search's candidate pool), so
// document frequencies are computed on the fly.
func bm25Scores(query string, docs []string) []float64 {
	queryTerms := tokenize(query)
	scores := make([]float64, len(docs))
	if len(queryTerms) == 0 || len(docs) == 0 {
		return scores
	}

	tokenized := make([][]string, len(docs))
	totalLen := 0
	for i, doc := range docs {
		tokenized[i] = tokenize(doc)
		totalLen += len(tokenized[i])
	}
	avgLen := float64(totalLen) / float64(len(docs))
	if avgLen == 0 {
		return scores
	}

	// Document frequency per query term.
	df := make(map[string]int, len(queryTerms))
	for _, term := range queryTerms {
		if _, done := df[term]; done {
			continue
		}
		for _, tokens := range tokenized {
			for _, token := range tokens {
				if token == term {
					df[term]++
					break
				}
			}
		}
	}

	n := float64(len(docs))
	for i, tokens := range tokenized {
		if len(tokens) == 0 {
			continue
		}
		counts := make(map[string]int, len(tokens))
		for _, token := range tokens {
			counts[token]++
		}
		lenNorm := bm25K1 * (1 - bm25B + bm25B*float64(len(tokens))/avgLen)
		for term, docFreq := range df {
			tf := float64(counts[term])
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(docFreq)+0.5)/(float64(docFreq)+0.5))
			scores[i] += idf * tf * (bm25K1 + 1) / (tf + lenNorm)
		}
	}
	return scores
}
