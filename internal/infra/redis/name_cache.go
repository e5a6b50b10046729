package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NameSource looks up a display name for an authenticated viewer key.
type NameSource interface {
	DisplayName(ctx context.Context, externalKey string) (string, error)
}

// NameCache caches resolved display names in Redis so repeated submissions
// from the same viewer do not hammer the identity service.
type NameCache struct {
	client *redis.Client
	source NameSource
	ttl    time.Duration
}

func NewNameCache(client *redis.Client, source NameSource, ttl time.Duration) *NameCache {
	return &NameCache{client: client, source: source, ttl: ttl}
}

func (c *NameCache) DisplayName(ctx context.Context, externalKey string) (string, error) {
	key := "user:" + externalKey + ":name"
	if name, err := c.client.Get(ctx, key).Result(); err == nil && name != "" {
		return name, nil
	}

	name, err := c.source.DisplayName(ctx, externalKey)
	if err != nil {
		return "", err
	}
	_ = c.client.Set(ctx, key, name, c.ttl).Err()
	return name, nil
}
