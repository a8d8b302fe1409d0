package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

func TestTransferLogAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := NewTransferLogRepository()
	batch := []transfer.Transfer{
		{EventID: "e1", Date: time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC), Type: transfer.TypeBuy, ManagerID: "m1", PlayerID: "p1", Price: 100},
		{EventID: "e2", Date: time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC), Type: transfer.TypeSell, ManagerID: "m1", PlayerID: "p2", Price: 200},
	}

	added, err := repo.AppendMany(context.Background(), "l1", batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 added, got=%d", added)
	}

	added, err = repo.AppendMany(context.Background(), "l1", batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 0 {
		t.Fatalf("expected replay to add nothing, got=%d", added)
	}

	listed, err := repo.ListByLeague(context.Background(), "l1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 transfers, got=%d", len(listed))
	}
	// Chronological regardless of append order.
	if listed[0].EventID != "e2" || listed[1].EventID != "e1" {
		t.Fatalf("expected chronological order, got=%v, %v", listed[0].EventID, listed[1].EventID)
	}

	other, err := repo.ListByLeague(context.Background(), "l2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected empty history for unknown league, got=%d", len(other))
	}
}
