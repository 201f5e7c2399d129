// Package redis provides Redis-backed implementations of the snapshot
// cache and the catalog cache, for deployments where session recovery
// must survive the process.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"exam-session-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const snapshotPrefix = "session:snapshot:"

// SnapshotStore caches session snapshots as JSON values with a TTL.
// Redis SET is atomic, so a crash mid-save cannot leave a torn record.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.SessionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key(snapshot.SnapshotKey), data, s.ttl).Err()
}

func (s *SnapshotStore) Load(ctx context.Context, key domain.SnapshotKey) (domain.SessionSnapshot, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return domain.SessionSnapshot{}, false, nil
	}
	if err != nil {
		return domain.SessionSnapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snapshot domain.SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.SessionSnapshot{}, false, nil
	}
	if snapshot.SnapshotKey != key {
		return domain.SessionSnapshot{}, false, nil
	}
	return snapshot, true, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, key domain.SnapshotKey) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *SnapshotStore) PurgeAllExcept(ctx context.Context, userID string) error {
	keep := snapshotPrefix + userID + ":"
	iter := s.client.Scan(ctx, 0, snapshotPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, keep) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("purge snapshot %s: %w", key, err)
		}
	}
	return iter.Err()
}

func (s *SnapshotStore) key(key domain.SnapshotKey) string {
	return snapshotPrefix + key.UserID + ":" + key.SessionType + ":" + key.SessionID
}
