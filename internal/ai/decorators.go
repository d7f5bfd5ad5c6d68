package ai

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"
)

// LimitedClient waits on a token bucket before every call.
type LimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// NewLimitedClient returns next unchanged when rps is not positive.
func NewLimitedClient(next Client, rps float64, burst int) Client {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &LimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *LimitedClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit wait failed: %w", err)
	}
	return c.next.Complete(ctx, cfg, messages)
}

type CompletionObserver interface {
	ObserveCompletion(outcome string, elapsed time.Duration)
}

// InstrumentedClient reports the outcome and latency of every call.
type InstrumentedClient struct {
	next     Client
	observer CompletionObserver
}

func NewInstrumentedClient(next Client, observer CompletionObserver) Client {
	if observer == nil {
		return next
	}
	return &InstrumentedClient{next: next, observer: observer}
}

func (c *InstrumentedClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	started := time.Now()
	out, err := c.next.Complete(ctx, cfg, messages)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.observer.ObserveCompletion(outcome, time.Since(started))
	return out, err
}

type ResponseCache interface {
	GetCompletion(ctx context.Context, key string) (string, bool, error)
	SetCompletion(ctx context.Context, key, completion string) error
}

// CachedClient serves repeated prompts from cache. Cache errors are logged
// and never fail the call.
type CachedClient struct {
	next   Client
	cache  ResponseCache
	logger *slog.Logger
}

func NewCachedClient(next Client, cache ResponseCache, logger *slog.Logger) Client {
	if cache == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{next: next, cache: cache, logger: logger}
}

func (c *CachedClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	key := CacheKey(cfg, messages)
	if cached, hit, err := c.cache.GetCompletion(ctx, key); err != nil {
		c.logger.Warn("completion cache read failed", "err", err)
	} else if hit {
		return cached, nil
	}

	out, err := c.next.Complete(ctx, cfg, messages)
	if err != nil {
		return "", err
	}
	if err := c.cache.SetCompletion(ctx, key, out); err != nil {
		c.logger.Warn("completion cache write failed", "err", err)
	}
	return out, nil
}

// CacheKey digests the endpoint, model and every message. The API key is
// not part of the digest.
func CacheKey(cfg ChatConfig, messages []ChatMessage) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", cfg.Provider, cfg.BaseURL, cfg.Model)
	for _, m := range messages {
		fmt.Fprintf(h, "%s\x00%d\x00%s\x00", m.Role, len(m.Content), m.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}
