package snapshot

import (
	"context"
	"errors"
	"time"
)

// Section names one precomputed dashboard dataset. Each refresh run rewrites
// sections independently, so one failed section leaves the others current.
type Section string

const (
	SectionTurnovers      Section = "turnovers"
	SectionRevenue        Section = "revenue_sum"
	SectionBalances       Section = "balances"
	SectionMarketUser     Section = "market_user"
	SectionMarketPlatform Section = "market_kickbase"
	SectionMarketValues   Section = "market_value_changes"
	SectionTakenPlayers   Section = "taken_players"
	SectionFreePlayers    Section = "free_players"
	SectionTeamValues     Section = "team_values"
)

// All lists every section a full refresh run produces.
var All = []Section{
	SectionTurnovers,
	SectionRevenue,
	SectionBalances,
	SectionMarketUser,
	SectionMarketPlatform,
	SectionMarketValues,
	SectionTakenPlayers,
	SectionFreePlayers,
	SectionTeamValues,
}

var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the serialized result of one section for one league, stamped
// with when it was computed. The core never interprets Payload; it is the
// presentation layer's JSON.
type Snapshot struct {
	LeagueID   string
	Section    Section
	Payload    []byte
	ComputedAt time.Time
}

// Repository stores the latest snapshot per (league, section). Writes replace
// atomically; a failed run must never leave a section half-written.
type Repository interface {
	Save(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, leagueID string, section Section) (Snapshot, error)
}
