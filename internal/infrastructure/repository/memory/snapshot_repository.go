package memory

import (
	"context"
	"sync"

	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
)

type SnapshotRepository struct {
	mu    sync.RWMutex
	items map[string]snapshot.Snapshot
}

func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{
		items: make(map[string]snapshot.Snapshot),
	}
}

func (r *SnapshotRepository) Save(_ context.Context, snap snapshot.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := make([]byte, len(snap.Payload))
	copy(payload, snap.Payload)
	snap.Payload = payload
	r.items[snapshotKey(snap.LeagueID, snap.Section)] = snap
	return nil
}

func (r *SnapshotRepository) Get(_ context.Context, leagueID string, section snapshot.Section) (snapshot.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.items[snapshotKey(leagueID, section)]
	if !ok {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return snap, nil
}

func snapshotKey(leagueID string, section snapshot.Section) string {
	return leagueID + ":" + string(section)
}
