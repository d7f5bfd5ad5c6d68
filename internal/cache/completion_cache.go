package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const completionKeyPrefix = "llm:completion:"

// CompletionCache stores chat completions in redis under a digest of the
// prompt. It satisfies ai.ResponseCache.
type CompletionCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewCompletionCache(client *redisv9.Client, ttl time.Duration) *CompletionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CompletionCache{client: client, ttl: ttl}
}

func (c *CompletionCache) GetCompletion(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.client.Get(ctx, c.completionKey(key)).Result()
	if errors.Is(err, redisv9.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get completion failed: %w", err)
	}
	return raw, true, nil
}

func (c *CompletionCache) SetCompletion(ctx context.Context, key, completion string) error {
	if err := c.client.Set(ctx, c.completionKey(key), completion, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set completion failed: %w", err)
	}
	return nil
}

func (c *CompletionCache) completionKey(key string) string {
	return completionKeyPrefix + key
}
