package matching

import (
	"context"
	"sort"
)

// Options bounds a ranking pass.
type Options struct {
	TopK      int
	Threshold float64
	MaxPool   int
}

// DefaultOptions returns the production ranking bounds.
func DefaultOptions() Options {
	return Options{TopK: 20, Threshold: 0.26, MaxPool: 500}
}

// Candidate is a ranked suggestion.
type Candidate struct {
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}

// Ranker turns a pool of attendees into ordered suggestions for one seeker.
type Ranker struct {
	scorer *Scorer
	opts   Options
}

// NewRanker returns a ranker. Non-positive bounds fall back to DefaultOptions.
func NewRanker(scorer *Scorer, opts Options) *Ranker {
	defaults := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = defaults.TopK
	}
	if opts.MaxPool <= 0 {
		opts.MaxPool = defaults.MaxPool
	}
	return &Ranker{scorer: scorer, opts: opts}
}

// Rank excludes the seeker and anyone in interacted, truncates the pool to MaxPool,
// keeps scores strictly above Threshold, and returns the TopK by descending score.
// Ties are broken by ascending user ID.
func (r *Ranker) Rank(ctx context.Context, seeker Attendee, pool []Attendee, interacted map[string]struct{}) ([]Candidate, error) {
	eligible := make([]Attendee, 0, len(pool))
	for _, attendee := range pool {
		if attendee.ID == seeker.ID {
			continue
		}
		if _, ok := interacted[attendee.ID]; ok {
			continue
		}
		eligible = append(eligible, attendee)
		if len(eligible) == r.opts.MaxPool {
			break
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	seekerProfile, err := r.scorer.Prepare(ctx, seeker)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(eligible))
	for _, attendee := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		profile, err := r.scorer.Prepare(ctx, attendee)
		if err != nil {
			return nil, err
		}
		score := r.scorer.Score(seekerProfile, profile)
		if score > r.opts.Threshold {
			candidates = append(candidates, Candidate{UserID: attendee.ID, Score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].UserID < candidates[j].UserID
		}
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > r.opts.TopK {
		candidates = candidates[:r.opts.TopK]
	}
	return candidates, nil
}
