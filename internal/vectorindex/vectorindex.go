// Package vectorindex provides text-to-embedding and k-NN search over stored
// items with pluggable backends.
package vectorindex

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Hit is one search result. Scores are cosine similarities in [-1,1],
// descending.
type Hit struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Index is the contract the orchestrator depends on. Any backend returning
// hits in descending score order is acceptable.
type Index interface {
	Add(ctx context.Context, id, title, content string, metadata map[string]string) error
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
	Recent(ctx context.Context, limit int) ([]Hit, error)
	Clear(ctx context.Context) error
}

const (
	// Dimensions of the hashed-feature embedding.
	Dimensions = 256
	// maxWordTokens caps the word features per text.
	maxWordTokens = 200
	// ngramPrefix is how much of the text contributes character n-grams.
	ngramPrefix = 500
)

// Embed computes the 256-dimensional hashed-feature embedding: lowercase word
// tokens plus character 2- and 3-grams, each hashed into a signed slot, then
// L2-normalized. It is a deduplication-quality heuristic, not a semantic
// model.
func Embed(text string) []float64 {
	vec := make([]float64, Dimensions)

	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	if len(words) > maxWordTokens {
		words = words[:maxWordTokens]
	}
	for _, w := range words {
		accumulate(vec, w)
	}

	prefix := lower
	if len(prefix) > ngramPrefix {
		prefix = prefix[:ngramPrefix]
	}
	runes := []rune(prefix)
	for _, n := range []int{2, 3} {
		for i := 0; i+n <= len(runes); i++ {
			accumulate(vec, string(runes[i:i+n]))
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func accumulate(vec []float64, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := sum % Dimensions
	sign := 1.0
	if (sum/Dimensions)%2 != 0 {
		sign = -1.0
	}
	vec[idx] += sign
}

// Cosine computes the cosine similarity of two normalized vectors (their dot
// product).
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
