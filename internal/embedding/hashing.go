package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
)

// HashingVectorizer is an offline vectorizer using signed feature hashing over
// word unigrams and bigrams. Texts that share vocabulary get positive cosine similarity.
type HashingVectorizer struct {
	dims int
}

// NewHashingVectorizer returns a vectorizer producing dims-dimensional unit vectors.
func NewHashingVectorizer(dims int) (*HashingVectorizer, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("embedding: dimensions must be positive, got %d", dims)
	}
	return &HashingVectorizer{dims: dims}, nil
}

// Model implements Vectorizer.
func (h *HashingVectorizer) Model() string {
	return fmt.Sprintf("hashing-%d", h.dims)
}

// Embed implements Vectorizer.
func (h *HashingVectorizer) Embed(_ context.Context, text string) ([]float64, error) {
	vector := make([]float64, h.dims)
	tokens := h.tokenize(text)
	for i, token := range tokens {
		h.add(vector, token, 1)
		if i > 0 {
			h.add(vector, tokens[i-1]+" "+token, 0.5)
		}
	}
	normalize(vector)
	return vector, nil
}

func (h *HashingVectorizer) tokenize(text string) []string {
	// A Caser is stateful, so each call gets its own.
	return strings.FieldsFunc(cases.Fold().String(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (h *HashingVectorizer) add(vector []float64, feature string, weight float64) {
	sum := blake2b.Sum256([]byte(feature))
	bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dims)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vector[bucket] += weight
}

func normalize(vector []float64) {
	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vector {
		vector[i] /= norm
	}
}
