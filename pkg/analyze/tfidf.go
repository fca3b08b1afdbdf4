package analyze

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// vector is a sparse document vector: vocabulary index -> weight.
type vector map[int]float64

// Vectorizer converts a corpus into L2-normalised TF-IDF vectors over
// unigrams and bigrams. The vocabulary is capped at MaxFeatures terms,
// keeping the most frequent terms across the corpus.
type Vectorizer struct {
	MaxFeatures int
}

// NewVectorizer returns a vectorizer with the given vocabulary cap
// (<= 0 means 50000).
func NewVectorizer(maxFeatures int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = 50000
	}
	return &Vectorizer{MaxFeatures: maxFeatures}
}

// FitTransform learns the vocabulary from docs and returns one vector per
// document. Common terms are downweighted with smoothed inverse document
// frequency: idf = ln((1+n)/(1+df)) + 1.
func (v *Vectorizer) FitTransform(docs []string) []vector {
	n := len(docs)
	counts := make([]map[string]int, n)
	df := make(map[string]int)
	total := make(map[string]int)

	for i, doc := range docs {
		tc := make(map[string]int)
		for _, term := range ngrams(doc) {
			tc[term]++
		}
		counts[i] = tc
		for term, c := range tc {
			df[term]++
			total[term] += c
		}
	}

	vocab := buildVocab(total, v.MaxFeatures)

	idf := make([]float64, len(vocab))
	for term, idx := range vocab {
		idf[idx] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	vectors := make([]vector, n)
	for i, tc := range counts {
		vec := make(vector)
		var norm float64
		for term, c := range tc {
			idx, ok := vocab[term]
			if !ok {
				continue
			}
			w := float64(c) * idf[idx]
			vec[idx] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for idx := range vec {
				vec[idx] /= norm
			}
		}
		vectors[i] = vec
	}
	return vectors
}

// buildVocab assigns indices to terms, keeping only the maxFeatures most
// frequent ones when the vocabulary overflows. Ties break alphabetically so
// runs are deterministic.
func buildVocab(total map[string]int, maxFeatures int) map[string]int {
	terms := make([]string, 0, len(total))
	for term := range total {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	if len(terms) > maxFeatures {
		sort.SliceStable(terms, func(i, j int) bool {
			return total[terms[i]] > total[terms[j]]
		})
		terms = terms[:maxFeatures]
		sort.Strings(terms)
	}

	vocab := make(map[string]int, len(terms))
	for i, term := range terms {
		vocab[term] = i
	}
	return vocab
}

// ngrams lowercases the text, extracts word tokens of two or more runes and
// returns unigrams plus adjacent bigrams.
func ngrams(text string) []string {
	words := tokenize(text)
	grams := make([]string, 0, 2*len(words))
	grams = append(grams, words...)
	for i := 0; i+1 < len(words); i++ {
		grams = append(grams, words[i]+" "+words[i+1])
	}
	return grams
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	words := fields[:0]
	for _, w := range fields {
		if len([]rune(w)) >= 2 {
			words = append(words, w)
		}
	}
	return words
}

// cosine returns the dot product of two L2-normalised sparse vectors.
func cosine(a, b vector) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for idx, w := range a {
		if bw, ok := b[idx]; ok {
			dot += w * bw
		}
	}
	return dot
}
