package balance

import (
	"testing"
	"time"

	"github.com/kbinsights/kickbase-insights/internal/domain/manager"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

const startingBudget = 50_000_000

func trade(day int, transferType transfer.Type, managerID string, price int64) transfer.Transfer {
	return transfer.Transfer{
		Date:      time.Date(2025, 9, day, 12, 0, 0, 0, time.UTC),
		Type:      transferType,
		ManagerID: managerID,
		PlayerID:  "7",
		Price:     price,
	}
}

func TestProjectBuyThenSell(t *testing.T) {
	t.Parallel()

	managers := []manager.Manager{{ID: "u1", Name: "Alice", TeamValue: 80_000_000}}
	transfers := []transfer.Transfer{
		trade(1, transfer.TypeBuy, "u1", 10_000_000),
		trade(5, transfer.TypeSell, "u1", 12_000_000),
	}

	got := Project(transfers, managers, startingBudget)["u1"]
	if got.Balance != 52_000_000 {
		t.Fatalf("unexpected balance: got=%d want=52000000", got.Balance)
	}
	if got.TeamValue != 80_000_000 {
		t.Fatalf("unexpected team value: %d", got.TeamValue)
	}

	// balance >= 0: max bid is 33% of team value plus cash.
	wantBid := int64(float64(80_000_000+52_000_000) * MaxBidRatio)
	if got.MaxBid != wantBid {
		t.Fatalf("unexpected max bid: got=%d want=%d", got.MaxBid, wantBid)
	}
}

func TestProjectNegativeBalance(t *testing.T) {
	t.Parallel()

	managers := []manager.Manager{{ID: "u1", Name: "Alice", TeamValue: 120_000_000}}
	transfers := []transfer.Transfer{
		trade(1, transfer.TypeBuy, "u1", 90_000_000),
	}

	got := Project(transfers, managers, startingBudget)["u1"]
	if got.Balance != -40_000_000 {
		t.Fatalf("unexpected balance: got=%d want=-40000000", got.Balance)
	}

	adjusted := int64(120_000_000 - 40_000_000)
	wantBid := int64(float64(adjusted)*MaxBidRatio) - 40_000_000
	if wantBid < 0 {
		wantBid = 0
	}
	if got.MaxBid != wantBid {
		t.Fatalf("unexpected max bid: got=%d want=%d", got.MaxBid, wantBid)
	}
}

func TestProjectMaxBidNeverNegative(t *testing.T) {
	t.Parallel()

	managers := []manager.Manager{{ID: "u1", Name: "Alice", TeamValue: 10_000_000}}
	transfers := []transfer.Transfer{
		trade(1, transfer.TypeBuy, "u1", 200_000_000),
	}

	got := Project(transfers, managers, startingBudget)["u1"]
	if got.Balance >= 0 {
		t.Fatalf("expected a deeply negative balance, got %d", got.Balance)
	}
	if got.MaxBid != 0 {
		t.Fatalf("max bid must be clamped at zero, got %d", got.MaxBid)
	}
}

func TestProjectManagerWithoutTransfers(t *testing.T) {
	t.Parallel()

	managers := []manager.Manager{{ID: "u2", Name: "Bob", TeamValue: 60_000_000}}

	got := Project(nil, managers, startingBudget)["u2"]
	if got.Balance != startingBudget {
		t.Fatalf("idle manager keeps the starting budget, got %d", got.Balance)
	}
}

func TestProjectIgnoresSyntheticAndUnknownTransfers(t *testing.T) {
	t.Parallel()

	managers := []manager.Manager{{ID: "u1", Name: "Alice", TeamValue: 60_000_000}}
	transfers := []transfer.Transfer{
		{Date: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), Type: transfer.TypeAssignedAtStart, ManagerID: "u1", PlayerID: "9", Price: 5_000_000},
		trade(2, transfer.TypeSell, "gone", 1_000_000),
	}

	got := Project(transfers, managers, startingBudget)["u1"]
	if got.Balance != startingBudget {
		t.Fatalf("synthetic buys must not move cash, got %d", got.Balance)
	}
}
