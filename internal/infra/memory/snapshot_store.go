package memory

import (
	"context"
	"sync"

	"exam-session-service/internal/domain"
)

// SnapshotStore keeps session snapshots in memory. Snapshots are deep
// copied on both save and load so callers can keep mutating their own
// state without aliasing the cache.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[domain.SnapshotKey]domain.SessionSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[domain.SnapshotKey]domain.SessionSnapshot)}
}

func (s *SnapshotStore) Save(_ context.Context, snapshot domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.SnapshotKey] = copySnapshot(snapshot)
	return nil
}

func (s *SnapshotStore) Load(_ context.Context, key domain.SnapshotKey) (domain.SessionSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[key]
	if !ok {
		return domain.SessionSnapshot{}, false, nil
	}
	return copySnapshot(snapshot), true, nil
}

func (s *SnapshotStore) Delete(_ context.Context, key domain.SnapshotKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, key)
	return nil
}

func (s *SnapshotStore) PurgeAllExcept(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.snapshots {
		if key.UserID != userID {
			delete(s.snapshots, key)
		}
	}
	return nil
}

func copySnapshot(in domain.SessionSnapshot) domain.SessionSnapshot {
	out := in
	out.Answers = make(map[int][]int, len(in.Answers))
	for idx, sel := range in.Answers {
		out.Answers[idx] = append([]int(nil), sel...)
	}
	out.Flagged = append([]int(nil), in.Flagged...)
	out.Verification = make(map[int]domain.VerificationResult, len(in.Verification))
	for idx, res := range in.Verification {
		out.Verification[idx] = res
	}
	return out
}
