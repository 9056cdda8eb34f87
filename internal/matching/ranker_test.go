package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeywordRanker(opts Options) *Ranker {
	return NewRanker(NewScorer(tableVectorizer{}, DefaultWeights()), opts)
}

func ids(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.UserID
	}
	return out
}

func TestRanker(t *testing.T) {
	ctx := context.Background()
	seeker := Attendee{ID: "seeker", Keywords: []string{"ai", "design"}}

	t.Run("excludes seeker, interacted targets and low scores", func(t *testing.T) {
		pool := []Attendee{
			{ID: "seeker", Keywords: []string{"ai", "design"}},
			{ID: "liked", Keywords: []string{"ai", "design"}},
			{ID: "strong", Keywords: []string{"ai", "design"}},
			{ID: "half", Keywords: []string{"ai", "product"}},
			{ID: "unrelated", Keywords: []string{"cooking"}},
		}
		ranker := newKeywordRanker(Options{TopK: 10, Threshold: 0.26, MaxPool: 100})

		got, err := ranker.Rank(ctx, seeker, pool, map[string]struct{}{"liked": {}})
		require.NoError(t, err)
		assert.Equal(t, []string{"strong", "half"}, ids(got))
		assert.InDelta(t, 1.0, got[0].Score, 1e-9)
		assert.InDelta(t, 0.5, got[1].Score, 1e-9)
	})

	t.Run("threshold is strict", func(t *testing.T) {
		pool := []Attendee{{ID: "half", Keywords: []string{"ai", "product"}}}
		ranker := newKeywordRanker(Options{TopK: 10, Threshold: 0.5, MaxPool: 100})

		got, err := ranker.Rank(ctx, seeker, pool, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ties break by ascending id and top k truncates", func(t *testing.T) {
		pool := []Attendee{
			{ID: "c", Keywords: []string{"ai"}},
			{ID: "a", Keywords: []string{"ai"}},
			{ID: "b", Keywords: []string{"ai"}},
		}
		ranker := newKeywordRanker(Options{TopK: 2, Threshold: 0.26, MaxPool: 100})

		got, err := ranker.Rank(ctx, seeker, pool, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(got))
	})

	t.Run("pool is truncated before scoring", func(t *testing.T) {
		pool := []Attendee{
			{ID: "weak", Keywords: []string{"ai", "x", "y", "z"}},
			{ID: "strong", Keywords: []string{"ai", "design"}},
		}
		ranker := newKeywordRanker(Options{TopK: 10, Threshold: 0.26, MaxPool: 1})

		got, err := ranker.Rank(ctx, seeker, pool, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"weak"}, ids(got))
	})

	t.Run("excluded attendees do not consume the pool budget", func(t *testing.T) {
		pool := []Attendee{
			{ID: "seeker", Keywords: []string{"ai"}},
			{ID: "liked", Keywords: []string{"ai"}},
			{ID: "fresh", Keywords: []string{"ai"}},
		}
		ranker := newKeywordRanker(Options{TopK: 10, Threshold: 0.26, MaxPool: 1})

		got, err := ranker.Rank(ctx, seeker, pool, map[string]struct{}{"liked": {}})
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh"}, ids(got))
	})

	t.Run("empty pool", func(t *testing.T) {
		got, err := newKeywordRanker(DefaultOptions()).Rank(ctx, seeker, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
