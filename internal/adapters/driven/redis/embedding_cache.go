package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

const embeddingCachePrefix = "thinkpod:embedding:"

// EmbeddingCache implements driven.EmbeddingCache using Redis.
// Entries expire through Redis TTL.
type EmbeddingCache struct {
	client *redis.Client
}

// NewEmbeddingCache creates a new Redis-backed EmbeddingCache
func NewEmbeddingCache(client *redis.Client) *EmbeddingCache {
	return &EmbeddingCache{client: client}
}

// Get returns the cached vector for model and text. A miss is (nil, false, nil).
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingKey(model, text)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get embedding: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return vector, true, nil
}

// Set stores a vector for ttl. A non-positive ttl stores nothing.
func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vector []float32, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, embeddingKey(model, text), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// embeddingKey hashes the text so keys stay short whatever the query length
func embeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return embeddingCachePrefix + model + ":" + hex.EncodeToString(sum[:])
}
