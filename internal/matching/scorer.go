// Package matching scores attendee affinity and ranks match suggestions.
package matching

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/example/event-matchmaker/internal/embedding"
)

// Weights holds the blend constants. They are empirical and kept configurable.
type Weights struct {
	// BothKeyword, BothDocument and BothCross apply when both attendees supplied a document.
	BothKeyword  float64
	BothDocument float64
	BothCross    float64
	// SingleKeyword and SingleDocument apply when exactly one attendee supplied a document.
	SingleKeyword  float64
	SingleDocument float64
	// ExactMatchFloor is the minimum keyword similarity once any keyword matches exactly.
	ExactMatchFloor float64
}

// DefaultWeights returns the production blend.
func DefaultWeights() Weights {
	return Weights{
		BothKeyword:     0.7,
		BothDocument:    0.15,
		BothCross:       0.075,
		SingleKeyword:   0.8,
		SingleDocument:  0.2,
		ExactMatchFloor: 0.3,
	}
}

// Attendee is the raw scoring input loaded from a membership.
type Attendee struct {
	ID       string
	Keywords []string
	Document string
}

// Profile is an attendee with embeddings resolved. A nil embedding is the zero vector.
type Profile struct {
	ID                string
	Keywords          []string
	KeywordEmbedding  []float64
	DocumentEmbedding []float64
	HasDocument       bool

	keywords map[string]struct{}
}

// Scorer computes pairwise similarity. It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	vectorizer embedding.Vectorizer
	weights    Weights
}

// NewScorer returns a scorer embedding text with v.
func NewScorer(v embedding.Vectorizer, weights Weights) *Scorer {
	return &Scorer{vectorizer: v, weights: weights}
}

// Prepare resolves the embeddings for a.
func (s *Scorer) Prepare(ctx context.Context, a Attendee) (Profile, error) {
	profile := Profile{
		ID:       a.ID,
		Keywords: a.Keywords,
		keywords: keywordSet(a.Keywords),
	}

	if len(a.Keywords) > 0 {
		vector, err := s.vectorizer.Embed(ctx, KeywordText(a.Keywords))
		if err != nil {
			return Profile{}, fmt.Errorf("embed keywords for %s: %w", a.ID, err)
		}
		profile.KeywordEmbedding = vector
	}

	if strings.TrimSpace(a.Document) != "" {
		vector, err := s.vectorizer.Embed(ctx, a.Document)
		if err != nil {
			return Profile{}, fmt.Errorf("embed document for %s: %w", a.ID, err)
		}
		profile.DocumentEmbedding = vector
		profile.HasDocument = true
	}

	return profile, nil
}

// Score blends keyword and document similarity according to which attendees supplied documents.
func (s *Scorer) Score(a, b Profile) float64 {
	kw := s.KeywordSimilarity(a, b)
	w := s.weights

	switch {
	case a.HasDocument && b.HasDocument:
		return w.BothKeyword*kw +
			w.BothDocument*Cosine(a.DocumentEmbedding, b.DocumentEmbedding) +
			w.BothCross*Cosine(a.KeywordEmbedding, b.DocumentEmbedding) +
			w.BothCross*Cosine(b.KeywordEmbedding, a.DocumentEmbedding)
	case a.HasDocument:
		return w.SingleKeyword*kw + w.SingleDocument*Cosine(a.DocumentEmbedding, b.KeywordEmbedding)
	case b.HasDocument:
		return w.SingleKeyword*kw + w.SingleDocument*Cosine(b.DocumentEmbedding, a.KeywordEmbedding)
	default:
		return kw
	}
}

// KeywordSimilarity prefers exact keyword overlap and falls back to embedding similarity.
func (s *Scorer) KeywordSimilarity(a, b Profile) float64 {
	if len(a.Keywords) == 0 || len(b.Keywords) == 0 {
		return 0
	}

	setA, setB := a.keywords, b.keywords
	if setA == nil {
		setA = keywordSet(a.Keywords)
	}
	if setB == nil {
		setB = keywordSet(b.Keywords)
	}

	exact := 0
	for keyword := range setA {
		if _, ok := setB[keyword]; ok {
			exact++
		}
	}
	if exact > 0 {
		ratio := math.Min(float64(exact)/float64(max(len(a.Keywords), len(b.Keywords))), 1)
		return math.Max(ratio, s.weights.ExactMatchFloor)
	}

	return Cosine(a.KeywordEmbedding, b.KeywordEmbedding)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is the zero vector
// or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
