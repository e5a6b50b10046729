package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"twitch-trivia-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ContentLoader fetches quiz content from a backing store.
type ContentLoader interface {
	QuizContent(ctx context.Context, quizID string) (domain.QuizContent, error)
}

// ContentCache caches whole quiz content documents in Redis as JSON under
// quiz:{quizID}:content, falling back to a loader on cache miss.
type ContentCache struct {
	client *redis.Client
	loader ContentLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewContentCache(client *redis.Client, loader ContentLoader, ttl time.Duration) *ContentCache {
	return &ContentCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ContentCache) QuizContent(ctx context.Context, quizID string) (domain.QuizContent, error) {
	key := c.key(quizID)

	if quiz, ok := c.cached(ctx, key); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if quiz, ok := c.cached(ctx, key); ok {
			return quiz, nil
		}

		quiz, err := c.loader.QuizContent(ctx, quizID)
		if err != nil {
			return domain.QuizContent{}, err
		}

		if data, err := json.Marshal(quiz); err == nil {
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.QuizContent{}, err
	}
	return result.(domain.QuizContent), nil
}

func (c *ContentCache) cached(ctx context.Context, key string) (domain.QuizContent, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.QuizContent{}, false
	}
	var quiz domain.QuizContent
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.QuizContent{}, false
	}
	return quiz, true
}

func (c *ContentCache) key(quizID string) string {
	return "quiz:" + quizID + ":content"
}

func (c *ContentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
