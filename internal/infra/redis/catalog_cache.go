package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogCache caches question sets in Redis as JSON and falls back to
// the loader on a miss, deduplicating concurrent fills per set.
type CatalogCache struct {
	client *redis.Client
	loader memory.CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCatalogCache(client *redis.Client, loader memory.CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := c.fromCache(ctx, setID); ok {
		return set, nil
	}

	result, err, _ := c.sf.Do(setID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if set, ok := c.fromCache(ctx, setID); ok {
			return set, nil
		}
		set, err := c.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}
		if data, err := json.Marshal(set); err == nil {
			// best-effort cache fill
			_ = c.client.Set(ctx, c.key(setID), data, c.ttlWithJitter()).Err()
		}
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// Question serves per-question lookups for verification out of the
// cached sets, falling through to nothing: verification requires the
// session's set to have been loaded first.
func (c *CatalogCache) Question(ctx context.Context, questionID string) (domain.Question, error) {
	iter := c.client.Scan(ctx, 0, c.key("*"), 0).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var set domain.QuestionSet
		if err := json.Unmarshal(data, &set); err != nil {
			continue
		}
		for _, q := range set.Questions {
			if q.ID == questionID {
				return q, nil
			}
		}
	}
	if err := iter.Err(); err != nil {
		return domain.Question{}, err
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (c *CatalogCache) fromCache(ctx context.Context, setID string) (domain.QuestionSet, bool) {
	data, err := c.client.Get(ctx, c.key(setID)).Bytes()
	if err != nil {
		return domain.QuestionSet{}, false
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(data, &set); err != nil {
		return domain.QuestionSet{}, false
	}
	return set, true
}

func (c *CatalogCache) key(setID string) string {
	return "catalog:set:" + setID
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
