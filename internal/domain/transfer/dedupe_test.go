package transfer

import (
	"reflect"
	"testing"
	"time"
)

func testTransfer(eventID, playerID string, price int64, day int) Transfer {
	return Transfer{
		EventID:      eventID,
		Date:         time.Date(2025, 9, day, 12, 0, 0, 0, time.UTC),
		Type:         TypeBuy,
		ManagerID:    "u1",
		ManagerName:  "Alice",
		TradePartner: PlatformCounterparty,
		Price:        price,
		PlayerID:     playerID,
		TeamID:       "2",
	}
}

func TestDedupeRemovesStructuralDuplicates(t *testing.T) {
	t.Parallel()

	a := testTransfer("", "7", 1_000_000, 1)
	b := testTransfer("", "7", 1_000_000, 1)
	c := testTransfer("", "7", 1_100_000, 2)

	got := Dedupe([]Transfer{a, b, c, a})
	if len(got) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(got))
	}
	if got[0].Price != 1_000_000 || got[1].Price != 1_100_000 {
		t.Fatalf("input order not preserved: %+v", got)
	}
}

func TestDedupeIsIdempotent(t *testing.T) {
	t.Parallel()

	in := []Transfer{
		testTransfer("", "7", 1_000_000, 1),
		testTransfer("", "7", 1_000_000, 1),
		testTransfer("", "9", 2_000_000, 3),
	}

	once := Dedupe(in)
	twice := Dedupe(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("dedup of a deduplicated list must be a no-op:\nonce=%+v\ntwice=%+v", once, twice)
	}
}

func TestDedupeByEventID(t *testing.T) {
	t.Parallel()

	withID := testTransfer("e1", "7", 1_000_000, 1)
	sameIDDifferentPrice := testTransfer("e1", "7", 999_999, 1)
	noID := testTransfer("", "9", 500_000, 2)

	got := DedupeByEventID([]Transfer{withID, sameIDDifferentPrice, noID, noID})
	if len(got) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(got))
	}
	if got[0].Price != 1_000_000 {
		t.Fatalf("first occurrence must win for a repeated id, got price=%d", got[0].Price)
	}
}
