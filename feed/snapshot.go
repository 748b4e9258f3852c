package feed

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SnapshotStore holds immutable copies of the ranked list for paging.
type SnapshotStore interface {
	// Create stores uris under a fresh id. uris must not be empty.
	Create(ctx context.Context, uris []string) (string, error)
	// Page returns up to limit uris starting at offset, and the snapshot
	// length. found is false once the snapshot expired.
	Page(ctx context.Context, id string, offset, limit int) (uris []string, total int, found bool, err error)
}

type MemSnapshotStore struct {
	data *expirable.LRU[string, []string]
}

var _ SnapshotStore = (*MemSnapshotStore)(nil)

func NewMemSnapshotStore(capacity int, ttl time.Duration) *MemSnapshotStore {
	return &MemSnapshotStore{data: expirable.NewLRU[string, []string](capacity, nil, ttl)}
}

func (s *MemSnapshotStore) Create(ctx context.Context, uris []string) (string, error) {
	id := uuid.NewString()
	s.data.Add(id, slices.Clone(uris))
	return id, nil
}

func (s *MemSnapshotStore) Page(ctx context.Context, id string, offset, limit int) ([]string, int, bool, error) {
	uris, ok := s.data.Get(id)
	if !ok {
		return nil, 0, false, nil
	}
	if offset >= len(uris) {
		return nil, len(uris), true, nil
	}
	end := min(offset+limit, len(uris))
	return slices.Clone(uris[offset:end]), len(uris), true, nil
}
