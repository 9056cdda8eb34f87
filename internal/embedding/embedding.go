// Package embedding turns attendee text into vectors for similarity scoring.
package embedding

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAPIKey is returned by remote vectorizers constructed without credentials.
var ErrEmptyAPIKey = errors.New("embedding: api key is required")

// Vectorizer maps text to a dense vector. Blank text maps to the zero vector,
// which implementations may represent as nil.
type Vectorizer interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	// Model identifies the embedding space so cached vectors from different models never mix.
	Model() string
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// WithTimeout bounds every Embed call on next by d. A non-positive d returns next unchanged.
func WithTimeout(next Vectorizer, d time.Duration) Vectorizer {
	if d <= 0 {
		return next
	}
	return timeoutVectorizer{next: next, timeout: d}
}

type timeoutVectorizer struct {
	next    Vectorizer
	timeout time.Duration
}

func (t timeoutVectorizer) Model() string {
	return t.next.Model()
}

func (t timeoutVectorizer) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Embed(ctx, text)
}
