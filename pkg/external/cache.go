package external

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// SimilarityCache is a two-tier (in-memory LRU, optional Redis) cache for
// text-pair similarity scores. Entries are write-once, read-many: two cases
// querying the same diagnosis pair concurrently hit the same key.
type SimilarityCache struct {
	memory     *lru.Cache[string, float64]
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger
}

// NewSimilarityCache creates the cache. The Redis tier is attached only
// when enabled in config; a connection failure there is fatal since it
// signals a misconfigured run.
func NewSimilarityCache(config domain.CacheConfig, logger *logrus.Logger) (*SimilarityCache, error) {
	size := config.MemorySize
	if size <= 0 {
		size = 4096
	}
	memory, err := lru.New[string, float64](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	cache := &SimilarityCache{
		memory:     memory,
		defaultTTL: config.DefaultTTL,
		log:        logger,
	}

	if config.RedisEnabled {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache.redis = client
	}

	return cache, nil
}

// Get looks the pair up in the memory tier, then Redis.
func (c *SimilarityCache) Get(ctx context.Context, textA, textB string) (float64, bool) {
	key := pairKey(textA, textB)

	if score, ok := c.memory.Get(key); ok {
		return score, true
	}

	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			score, parseErr := strconv.ParseFloat(val, 64)
			if parseErr == nil {
				c.memory.Add(key, score)
				return score, true
			}
			// Corrupted entry; drop it.
			c.redis.Del(ctx, key)
		} else if err != redis.Nil {
			c.log.WithError(err).Debug("Redis similarity lookup failed")
		}
	}

	return 0, false
}

// Set stores the score in both tiers.
func (c *SimilarityCache) Set(ctx context.Context, textA, textB string, score float64) {
	key := pairKey(textA, textB)
	c.memory.Add(key, score)

	if c.redis != nil {
		if err := c.redis.Set(ctx, key, strconv.FormatFloat(score, 'f', -1, 64), c.defaultTTL).Err(); err != nil {
			c.log.WithError(err).Debug("Redis similarity store failed")
		}
	}
}

// Len returns the number of entries in the memory tier.
func (c *SimilarityCache) Len() int {
	return c.memory.Len()
}

// pairKey builds a stable cache key for an ordered text pair.
func pairKey(textA, textB string) string {
	sum := sha256.Sum256([]byte(textA + "\x00" + textB))
	return fmt.Sprintf("sim:%x", sum[:16])
}
