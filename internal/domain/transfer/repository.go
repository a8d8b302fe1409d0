package transfer

import "context"

// LogRepository is the append-only transfer log. Appends are idempotent on
// event id so overlapping feed windows across runs do not duplicate history.
type LogRepository interface {
	// AppendMany stores the given transfers for a league, skipping event ids
	// already present. Returns the number of newly stored transfers.
	AppendMany(ctx context.Context, leagueID string, transfers []Transfer) (int, error)

	// ListByLeague returns the full accumulated transfer history for a league
	// ordered by event date ascending.
	ListByLeague(ctx context.Context, leagueID string) ([]Transfer, error)
}
