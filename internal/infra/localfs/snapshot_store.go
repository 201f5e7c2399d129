// Package localfs persists session snapshots as JSON files on the
// local disk, one file per (user, session-type, session-id). Writes go
// through a temp file and rename so a crash mid-write can never leave a
// snapshot that parses but is torn.
package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"exam-session-service/internal/domain"
)

const snapshotSuffix = ".session.json"

// SnapshotStore is a directory-backed snapshot cache.
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) Save(_ context.Context, snapshot domain.SessionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	path := s.path(snapshot.SnapshotKey)
	tmp, err := os.CreateTemp(s.dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Load(_ context.Context, key domain.SnapshotKey) (domain.SessionSnapshot, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return domain.SessionSnapshot{}, false, nil
	}
	if err != nil {
		return domain.SessionSnapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot domain.SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// A corrupt file is treated as absent; the server remains the
		// source of truth and the next save replaces it.
		return domain.SessionSnapshot{}, false, nil
	}
	if !validSnapshot(snapshot, key) {
		return domain.SessionSnapshot{}, false, nil
	}
	return snapshot, true, nil
}

func (s *SnapshotStore) Delete(_ context.Context, key domain.SnapshotKey) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// PurgeAllExcept removes every cached snapshot that does not belong to
// the given user, so a shared device never leaks another learner's
// in-progress answers.
func (s *SnapshotStore) PurgeAllExcept(_ context.Context, userID string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read snapshot dir: %w", err)
	}
	prefix := encode(userID) + "_"
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("purge snapshot %s: %w", name, err)
		}
	}
	return nil
}

func (s *SnapshotStore) path(key domain.SnapshotKey) string {
	name := encode(key.UserID) + "_" + encode(key.SessionType) + "_" + encode(key.SessionID) + snapshotSuffix
	return filepath.Join(s.dir, name)
}

// encode makes identifiers filesystem-safe while staying reversible.
// PathEscape leaves "_" alone, so it is escaped explicitly: the file
// name joins its parts with "_" and an identifier containing one must
// not collide with the separator.
func encode(part string) string {
	return strings.ReplaceAll(url.PathEscape(part), "_", "%5F")
}

// validSnapshot rejects records that parse but are semantically
// inconsistent with the key or themselves.
func validSnapshot(snapshot domain.SessionSnapshot, key domain.SnapshotKey) bool {
	if snapshot.SnapshotKey != key {
		return false
	}
	if snapshot.CurrentIndex < 0 || snapshot.ElapsedSeconds < 0 {
		return false
	}
	for idx, selection := range snapshot.Answers {
		if idx < 0 {
			return false
		}
		for _, opt := range selection {
			if opt < 0 {
				return false
			}
		}
	}
	return true
}
