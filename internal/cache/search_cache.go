package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/songblend/api/internal/model"
)

// SearchCache stores autocomplete results under search:<query>:<limit>.
type SearchCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSearchCache(redisClient *redis.Client) *SearchCache {
	return &SearchCache{redis: redisClient, ttl: SearchTTL}
}

// SearchKey normalizes the query so differently cased requests share an entry.
func SearchKey(query string, limit int) string {
	return fmt.Sprintf("search:%s:%d", strings.ToLower(strings.TrimSpace(query)), limit)
}

func (c *SearchCache) Get(ctx context.Context, query string, limit int) ([]model.Song, error) {
	data, err := c.redis.Get(ctx, SearchKey(query, limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get search results: %w", err)
	}

	var songs []model.Song
	if err := json.Unmarshal(data, &songs); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	return songs, nil
}

func (c *SearchCache) Set(ctx context.Context, query string, limit int, songs []model.Song) error {
	data, err := json.Marshal(songs)
	if err != nil {
		return fmt.Errorf("marshal search results: %w", err)
	}
	return c.redis.Set(ctx, SearchKey(query, limit), data, c.ttl).Err()
}
