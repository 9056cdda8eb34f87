package embedding

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// CachedVectorizer memoises another vectorizer in Redis. Cache failures are
// logged and fall through to the wrapped vectorizer.
type CachedVectorizer struct {
	next   Vectorizer
	client goredis.Cmdable
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewCachedVectorizer wraps next with a Redis cache whose entries expire after ttl.
func NewCachedVectorizer(next Vectorizer, client goredis.Cmdable, ttl time.Duration, logger *zap.Logger) *CachedVectorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedVectorizer{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "matchmaker:embedding",
		logger: logger,
	}
}

// Model implements Vectorizer.
func (c *CachedVectorizer) Model() string {
	return c.next.Model()
}

// Embed implements Vectorizer.
func (c *CachedVectorizer) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.key(text)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vector []float64
		if jsonErr := json.Unmarshal(raw, &vector); jsonErr == nil {
			return vector, nil
		}
		c.logger.Warn("discarding corrupt cached embedding", zap.String("key", key))
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("embedding cache read failed", zap.Error(err))
	}

	vector, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(vector)
	if err != nil {
		return vector, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return vector, nil
}

func (c *CachedVectorizer) key(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return c.prefix + ":" + c.next.Model() + ":" + hex.EncodeToString(sum[:])
}
