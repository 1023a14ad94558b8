package editor

import (
	"context"
	"sort"
	"sync"
	"time"
)

type snapshotRepoMemory struct {
	mu    sync.RWMutex
	items map[string]*Snapshot
}

// NewSnapshotRepoMemory returns a process-local repository.
func NewSnapshotRepoMemory() SnapshotRepository {
	return &snapshotRepoMemory{items: map[string]*Snapshot{}}
}

func copySnapshot(s *Snapshot) *Snapshot {
	out := *s
	if s.State != nil {
		out.State = s.State.Clone()
	}
	return &out
}

func (r *snapshotRepoMemory) Get(_ context.Context, id string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return copySnapshot(s), nil
}

func (r *snapshotRepoMemory) Save(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := r.items[snap.ID]; ok {
		snap.Version = prev.Version + 1
		snap.CreatedAt = prev.CreatedAt
	} else {
		snap.Version = 1
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now
	r.items[snap.ID] = copySnapshot(snap)
	return nil
}

func (r *snapshotRepoMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrSnapshotNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *snapshotRepoMemory) List(_ context.Context, limit, offset int) ([]Summary, int, error) {
	r.mu.RLock()
	all := make([]Summary, 0, len(r.items))
	for _, s := range r.items {
		all = append(all, s.Summary())
	}
	r.mu.RUnlock()

	sortSummaries(all)
	return page(all, limit, offset), len(all), nil
}

// sortSummaries orders by most recent update, then id.
func sortSummaries(items []Summary) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func page(items []Summary, limit, offset int) []Summary {
	if limit <= 0 || offset >= len(items) {
		return []Summary{}
	}
	end := len(items)
	if offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
