// Package cache wraps the index façade's Search with a Redis-backed result
// cache keyed by the sorted query-term list, collapsing concurrent
// identical queries into a single façade search via singleflight.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/acoustid-go/fpindex/internal/segment"
	"github.com/acoustid-go/fpindex/pkg/config"
	pkgredis "github.com/acoustid-go/fpindex/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// SearchFunc runs a query against the index façade.
type SearchFunc func(ctx context.Context, terms []uint32, maxResults, topScorePercent int) ([]segment.Result, error)

// ResultCache caches Search results in Redis.
type ResultCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a ResultCache backed by client.
func New(client *pkgredis.Client, cfg config.RedisConfig) *ResultCache {
	return &ResultCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "search-cache"),
	}
}

// Search returns cached results for (terms, maxResults, topScorePercent) if
// present, otherwise calls search once (collapsing concurrent identical
// queries) and caches the outcome.
func (c *ResultCache) Search(ctx context.Context, terms []uint32, maxResults, topScorePercent int, search SearchFunc) ([]segment.Result, bool, error) {
	key := c.buildKey(terms, maxResults, topScorePercent)

	if results, ok := c.get(ctx, key); ok {
		return results, true, nil
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if results, ok := c.get(ctx, key); ok {
			return results, nil
		}
		results, err := search(ctx, terms, maxResults, topScorePercent)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]segment.Result), false, nil
}

func (c *ResultCache) get(ctx context.Context, key string) ([]segment.Result, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			c.misses.Add(1)
			return nil, false
		}
		c.logger.Error("cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	var results []segment.Result
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return results, true
}

func (c *ResultCache) set(ctx context.Context, key string, results []segment.Result) {
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached search result. Called after a flush or
// merge changes what a query would return.
func (c *ResultCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating search cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns cumulative hit/miss counts.
func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ResultCache) buildKey(terms []uint32, maxResults, topScorePercent int) string {
	sorted := make([]uint32, len(terms))
	copy(sorted, terms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	raw := fmt.Sprintf("%v:max=%d:top=%d", sorted, maxResults, topScorePercent)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
