package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

// TransferLogRepository is the in-memory transfer history used when no
// database is configured. History then only spans the process lifetime.
type TransferLogRepository struct {
	mu     sync.RWMutex
	items  map[string]map[string]transfer.Transfer
	orders map[string][]string
}

func NewTransferLogRepository() *TransferLogRepository {
	return &TransferLogRepository{
		items:  make(map[string]map[string]transfer.Transfer),
		orders: make(map[string][]string),
	}
}

func (r *TransferLogRepository) AppendMany(_ context.Context, leagueID string, transfers []transfer.Transfer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.items[leagueID]
	if byID == nil {
		byID = make(map[string]transfer.Transfer)
		r.items[leagueID] = byID
	}

	added := 0
	for _, t := range transfers {
		if t.EventID == "" {
			continue
		}
		if _, ok := byID[t.EventID]; ok {
			continue
		}
		byID[t.EventID] = t
		r.orders[leagueID] = append(r.orders[leagueID], t.EventID)
		added++
	}
	return added, nil
}

func (r *TransferLogRepository) ListByLeague(_ context.Context, leagueID string) ([]transfer.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.items[leagueID]
	out := make([]transfer.Transfer, 0, len(byID))
	for _, id := range r.orders[leagueID] {
		out = append(out, byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
