// Package memory provides in-process implementations of the service's
// storage ports, used for tests, demos, and single-node deployments.
package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-session-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches question-set content from a backing store.
type CatalogLoader interface {
	LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// Catalog caches question sets with TTL to avoid repeated backing-store
// hits, and answers per-question lookups from the cached sets.
type Catalog struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func NewCatalog(loader CatalogLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

func (c *Catalog) QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[setID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.set, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(setID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[setID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.set, nil
		}
		c.mu.RUnlock()

		set, err := c.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		c.mu.Lock()
		c.cache[setID] = cachedSet{set: set, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// Question scans the cached sets for a question ID. Verification looks
// questions up individually, so sets must be loaded before verifying.
func (c *Catalog) Question(_ context.Context, questionID string) (domain.Question, error) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range c.cache {
		if !entry.expiresAt.After(now) {
			continue
		}
		for _, q := range entry.set.Questions {
			if q.ID == questionID {
				return q, nil
			}
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticCatalogLoader serves question sets from an in-memory map
// (useful for tests and the no-database demo mode).
type StaticCatalogLoader struct {
	sets map[string]domain.QuestionSet
}

func NewStaticCatalogLoader(sets map[string]domain.QuestionSet) *StaticCatalogLoader {
	return &StaticCatalogLoader{sets: sets}
}

func (l *StaticCatalogLoader) LoadQuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := l.sets[setID]; ok {
		return set, nil
	}
	return domain.QuestionSet{}, domain.ErrCatalogLoad
}

// StaticCatalog is a Catalog-compatible view over fixed content with no
// TTL or loader indirection.
type StaticCatalog struct {
	sets map[string]domain.QuestionSet
}

func NewStaticCatalog(sets map[string]domain.QuestionSet) *StaticCatalog {
	return &StaticCatalog{sets: sets}
}

func (c *StaticCatalog) QuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := c.sets[setID]; ok {
		return set, nil
	}
	return domain.QuestionSet{}, domain.ErrCatalogLoad
}

func (c *StaticCatalog) Question(_ context.Context, questionID string) (domain.Question, error) {
	for _, set := range c.sets {
		for _, q := range set.Questions {
			if q.ID == questionID {
				return q, nil
			}
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
