package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
)

// Embedder generates vector embeddings for text. Vectors are only compared
// when produced by the same Model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// TFIDFEmbedder generates TF-IDF bag-of-words embeddings. It is used when
// no embedding provider is configured.
type TFIDFEmbedder struct {
	vocab []string
	idf   map[string]float64
	model string
}

// NewTFIDFEmbedder builds a vocabulary from docs, keeping the maxTerms
// terms with the highest document frequency.
func NewTFIDFEmbedder(docs []string, maxTerms int) *TFIDFEmbedder {
	if maxTerms <= 0 {
		maxTerms = 512
	}

	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if stopWords[term] || seen[term] {
				continue
			}
			df[term]++
			seen[term] = true
		}
	}

	type termFreq struct {
		term string
		freq int
	}
	terms := make([]termFreq, 0, len(df))
	for t, f := range df {
		terms = append(terms, termFreq{t, f})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].freq != terms[j].freq {
			return terms[i].freq > terms[j].freq
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}

	numDocs := float64(len(docs))
	if numDocs == 0 {
		numDocs = 1
	}
	vocab := make([]string, len(terms))
	idf := make(map[string]float64, len(terms))
	for i, tf := range terms {
		vocab[i] = tf.term
		// smoothed: log(N / df) + 1
		idf[tf.term] = math.Log(numDocs/float64(tf.freq)) + 1.0
	}
	if len(vocab) == 0 {
		vocab = []string{""}
	}

	sum := sha256.Sum256([]byte(strings.Join(vocab, "\x00")))
	return &TFIDFEmbedder{
		vocab: vocab,
		idf:   idf,
		model: "tfidf:" + hex.EncodeToString(sum[:4]),
	}
}

// Model names the vocabulary; rebuilding with new documents changes it.
func (t *TFIDFEmbedder) Model() string { return t.model }

// Dimensions returns the vector length.
func (t *TFIDFEmbedder) Dimensions() int { return len(t.vocab) }

// Embed generates a normalized TF-IDF vector for text.
func (t *TFIDFEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, len(t.vocab))
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	tf := make(map[string]int)
	maxTF := 0
	for _, tok := range tokens {
		tf[tok]++
		if tf[tok] > maxTF {
			maxTF = tf[tok]
		}
	}

	for i, term := range t.vocab {
		count := tf[term]
		if count == 0 {
			continue
		}
		// augmented TF to avoid favouring long texts
		augTF := 0.5 + 0.5*float64(count)/float64(maxTF)
		vec[i] = augTF * t.idf[term]
	}

	normalize(vec)
	return vec, nil
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
