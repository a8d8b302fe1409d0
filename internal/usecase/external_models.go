package usecase

import (
	"context"
	"time"

	"github.com/kbinsights/kickbase-insights/internal/domain/manager"
	"github.com/kbinsights/kickbase-insights/internal/domain/roster"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

// MarketListing is one player currently offered on the transfer market.
// SellerID is empty for platform listings.
type MarketListing struct {
	PlayerID    string
	TeamID      string
	FirstName   string
	LastName    string
	Position    string
	Price       int64
	Trend       int
	SellerID    string
	SellerName  string
	ExpiresAt   time.Time
	MarketValue int64
}

// ValuePoint is one day of a market-value or team-value history.
type ValuePoint struct {
	Date  time.Time `json:"date"`
	Value int64     `json:"value"`
}

// LeagueClient is the upstream API surface the refresh run consumes. The
// implementation owns authentication, pagination flattening, retries and
// schema-version selection; the run only sees complete collections.
type LeagueClient interface {
	// Managers returns every league participant with current team value.
	Managers(ctx context.Context, leagueID string) ([]manager.Manager, error)

	// ManagerFeed returns the full buy/sell feed for one manager, flattened
	// across pages and tagged with the schema version each item came from.
	ManagerFeed(ctx context.Context, leagueID string, owner transfer.Party) ([]transfer.RawFeedItem, error)

	// Roster returns the full competition player pool with league ownership.
	Roster(ctx context.Context, leagueID string) ([]roster.Player, error)

	// MarketListings returns the players currently up for sale.
	MarketListings(ctx context.Context, leagueID string) ([]MarketListing, error)

	// PlayerValueHistory returns the player's market value per day, oldest
	// first, covering at least the requested number of days when available.
	PlayerValueHistory(ctx context.Context, leagueID, playerID string, days int) ([]ValuePoint, error)

	// ManagerValueHistory returns the manager's team value per day.
	ManagerValueHistory(ctx context.Context, leagueID, managerID string) ([]ValuePoint, error)

	// SeasonStartValues returns the market value per player at season start,
	// used to price synthetic buys. Best effort: an empty map is valid.
	SeasonStartValues(ctx context.Context, leagueID string) (map[string]int64, error)
}

// RunNotifier is told how a refresh run went. Implementations must be best
// effort; notification failure never fails a run.
type RunNotifier interface {
	NotifyRun(ctx context.Context, result RunResult)
}

type noopNotifier struct{}

func (noopNotifier) NotifyRun(context.Context, RunResult) {}

func NewNoopNotifier() RunNotifier {
	return noopNotifier{}
}
