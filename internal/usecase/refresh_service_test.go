package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/kbinsights/kickbase-insights/internal/domain/manager"
	"github.com/kbinsights/kickbase-insights/internal/domain/roster"
	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
)

type stubLeagueClient struct {
	managers       []manager.Manager
	managersErr    error
	feeds          map[string][]transfer.RawFeedItem
	feedErr        error
	players        []roster.Player
	rosterErr      error
	listings       []MarketListing
	listingsErr    error
	valueHistories map[string][]ValuePoint
	valueErr       error
	teamHistories  map[string][]ValuePoint
	teamErr        error
	startValues    map[string]int64
	startValuesErr error
}

func (c *stubLeagueClient) Managers(context.Context, string) ([]manager.Manager, error) {
	return c.managers, c.managersErr
}

func (c *stubLeagueClient) ManagerFeed(_ context.Context, _ string, owner transfer.Party) ([]transfer.RawFeedItem, error) {
	if c.feedErr != nil {
		return nil, c.feedErr
	}
	return c.feeds[owner.ID], nil
}

func (c *stubLeagueClient) Roster(context.Context, string) ([]roster.Player, error) {
	return c.players, c.rosterErr
}

func (c *stubLeagueClient) MarketListings(context.Context, string) ([]MarketListing, error) {
	return c.listings, c.listingsErr
}

func (c *stubLeagueClient) PlayerValueHistory(_ context.Context, _ string, playerID string, _ int) ([]ValuePoint, error) {
	if c.valueErr != nil {
		return nil, c.valueErr
	}
	return c.valueHistories[playerID], nil
}

func (c *stubLeagueClient) ManagerValueHistory(_ context.Context, _ string, managerID string) ([]ValuePoint, error) {
	if c.teamErr != nil {
		return nil, c.teamErr
	}
	return c.teamHistories[managerID], nil
}

func (c *stubLeagueClient) SeasonStartValues(context.Context, string) (map[string]int64, error) {
	return c.startValues, c.startValuesErr
}

type stubTransferLog struct {
	mu        sync.Mutex
	byEventID map[string]transfer.Transfer
	order     []string
	appendErr error
	listErr   error
}

func newStubTransferLog() *stubTransferLog {
	return &stubTransferLog{byEventID: make(map[string]transfer.Transfer)}
}

func (l *stubTransferLog) AppendMany(_ context.Context, _ string, transfers []transfer.Transfer) (int, error) {
	if l.appendErr != nil {
		return 0, l.appendErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, t := range transfers {
		if _, ok := l.byEventID[t.EventID]; ok {
			continue
		}
		l.byEventID[t.EventID] = t
		l.order = append(l.order, t.EventID)
		added++
	}
	return added, nil
}

func (l *stubTransferLog) ListByLeague(context.Context, string) ([]transfer.Transfer, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transfer.Transfer, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byEventID[id])
	}
	return out, nil
}

type stubSnapshotRepo struct {
	mu      sync.Mutex
	saved   map[snapshot.Section]snapshot.Snapshot
	saveErr map[snapshot.Section]error
}

func newStubSnapshotRepo() *stubSnapshotRepo {
	return &stubSnapshotRepo{
		saved:   make(map[snapshot.Section]snapshot.Snapshot),
		saveErr: make(map[snapshot.Section]error),
	}
}

func (r *stubSnapshotRepo) Save(_ context.Context, snap snapshot.Snapshot) error {
	if err := r.saveErr[snap.Section]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[snap.Section] = snap
	return nil
}

func (r *stubSnapshotRepo) Get(_ context.Context, _ string, section snapshot.Section) (snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.saved[section]
	if !ok {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return snap, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []RunResult
}

func (n *recordingNotifier) NotifyRun(_ context.Context, result RunResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
}

func feedItem(id string, itemType int, date time.Time, price int64, playerID, buyer, seller string) transfer.RawFeedItem {
	return transfer.RawFeedItem{
		Schema:          transfer.FeedSchemaV1,
		EventID:         id,
		ItemType:        itemType,
		Date:            date,
		PlayerID:        &playerID,
		TeamID:          strPtr("t1"),
		PlayerFirstName: strPtr("First"),
		PlayerLastName:  strPtr("Last"),
		Price:           &price,
		BuyerName:       strPtr(buyer),
		SellerName:      strPtr(seller),
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newTestRefreshService(client LeagueClient, log transfer.LogRepository, snaps snapshot.Repository, notifier RunNotifier) *RefreshService {
	svc := NewRefreshService(client, log, snaps, notifier, RefreshConfig{
		LeagueID:       "league-1",
		SeasonStart:    time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		StartingBudget: 50_000_000,
		MaxWorkers:     2,
	}, logging.NewNop())
	svc.now = func() time.Time { return time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func defaultStubClient() *stubLeagueClient {
	buyDate := time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC)
	sellDate := time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)
	return &stubLeagueClient{
		managers: []manager.Manager{
			{ID: "m1", Name: "Alice", TeamValue: 120_000_000},
			{ID: "m2", Name: "Bob", TeamValue: 90_000_000},
		},
		feeds: map[string][]transfer.RawFeedItem{
			"m1": {
				feedItem("e1", 12, buyDate, 1_000_000, "p1", "", ""),
				feedItem("e2", 2, sellDate, 1_500_000, "p1", "", ""),
			},
			"m2": nil,
		},
		players: []roster.Player{
			{ID: "p2", TeamID: "t1", FirstName: "Owned", LastName: "Player", OwnerID: "m1", OwnerName: "Alice", MarketValue: 3_000_000},
			{ID: "p3", TeamID: "t2", FirstName: "Free", LastName: "Agent", MarketValue: 2_000_000},
		},
		listings: []MarketListing{
			{PlayerID: "p4", SellerID: "m2", SellerName: "Bob", Price: 4_000_000},
			{PlayerID: "p5", Price: 1_000_000},
		},
		valueHistories: map[string][]ValuePoint{
			"p2": {
				{Date: time.Date(2025, 9, 13, 0, 0, 0, 0, time.UTC), Value: 2_800_000},
				{Date: time.Date(2025, 9, 14, 0, 0, 0, 0, time.UTC), Value: 2_900_000},
				{Date: time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC), Value: 3_000_000},
			},
		},
		teamHistories: map[string][]ValuePoint{
			"m1": {{Date: time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC), Value: 120_000_000}},
			"m2": {{Date: time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC), Value: 90_000_000}},
		},
		startValues: map[string]int64{},
	}
}

func TestRefreshServiceRunPersistsAllSections(t *testing.T) {
	t.Parallel()

	client := defaultStubClient()
	log := newStubTransferLog()
	snaps := newStubSnapshotRepo()
	notifier := &recordingNotifier{}
	svc := newTestRefreshService(client, log, snaps, notifier)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, result.ManagerCount)
	require.Equal(t, 2, result.TransferCount)
	require.Equal(t, 2, result.NewTransfers)
	require.Equal(t, 1, result.PairCount)
	require.Empty(t, result.FailedSections())
	require.Len(t, result.Sections, len(snapshot.All))

	for _, section := range snapshot.All {
		snap, err := snaps.Get(context.Background(), "league-1", section)
		require.NoError(t, err, "section %s", section)
		require.NotEmpty(t, snap.Payload)
		require.Equal(t, svc.now(), snap.ComputedAt)
	}

	require.Len(t, notifier.results, 1)
	require.Equal(t, "league-1", notifier.results[0].LeagueID)
}

func TestRefreshServiceRunAbortsWhenManagersUnavailable(t *testing.T) {
	t.Parallel()

	client := defaultStubClient()
	client.managersErr = errors.New("upstream down")
	snaps := newStubSnapshotRepo()
	svc := newTestRefreshService(client, newStubTransferLog(), snaps, nil)

	_, err := svc.Run(context.Background())
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	require.Empty(t, snaps.saved)
}

func TestRefreshServiceRunAbortsWhenFeedUnavailable(t *testing.T) {
	t.Parallel()

	client := defaultStubClient()
	client.feedErr = errors.New("feed down")
	snaps := newStubSnapshotRepo()
	svc := newTestRefreshService(client, newStubTransferLog(), snaps, nil)

	_, err := svc.Run(context.Background())
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	require.Empty(t, snaps.saved)
}

func TestRefreshServiceRunDegradesOnTransferLogFailure(t *testing.T) {
	t.Parallel()

	client := defaultStubClient()
	log := newStubTransferLog()
	log.appendErr = errors.New("db down")
	snaps := newStubSnapshotRepo()
	svc := newTestRefreshService(client, log, snaps, nil)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.NewTransfers)
	require.Equal(t, 2, result.TransferCount)
	require.Equal(t, 1, result.PairCount)
	require.Empty(t, result.FailedSections())
}

func TestRefreshServiceRunSectionsFailIndependently(t *testing.T) {
	t.Parallel()

	client := defaultStubClient()
	client.rosterErr = errors.New("roster down")
	snaps := newStubSnapshotRepo()
	svc := newTestRefreshService(client, newStubTransferLog(), snaps, nil)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	failed := result.FailedSections()
	require.ElementsMatch(t, []snapshot.Section{
		snapshot.SectionTakenPlayers,
		snapshot.SectionFreePlayers,
		snapshot.SectionMarketValues,
	}, failed)

	for _, section := range []snapshot.Section{
		snapshot.SectionTurnovers,
		snapshot.SectionRevenue,
		snapshot.SectionBalances,
		snapshot.SectionMarketUser,
		snapshot.SectionMarketPlatform,
		snapshot.SectionTeamValues,
	} {
		_, err := snaps.Get(context.Background(), "league-1", section)
		require.NoError(t, err, "section %s", section)
	}
}

func TestRefreshServiceRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	client := defaultStubClient()
	log := newStubTransferLog()
	snaps := newStubSnapshotRepo()
	svc := newTestRefreshService(client, log, snaps, nil)

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.NewTransfers)

	second, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.NewTransfers)
	require.Equal(t, first.TransferCount, second.TransferCount)
	require.Equal(t, first.PairCount, second.PairCount)
}

func TestSplitMarketListings(t *testing.T) {
	t.Parallel()

	later := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)
	byUser, byPlatform := splitMarketListings([]MarketListing{
		{PlayerID: "p1", SellerID: "m1", SellerName: "Alice", ExpiresAt: later},
		{PlayerID: "p2", ExpiresAt: earlier},
		{PlayerID: "p3", SellerID: "m2", SellerName: "Bob", ExpiresAt: earlier},
	})

	require.Len(t, byUser, 2)
	require.Len(t, byPlatform, 1)
	require.Equal(t, "p3", byUser[0].PlayerID)
	require.Equal(t, "p1", byUser[1].PlayerID)
	require.Equal(t, "p2", byPlatform[0].PlayerID)
	require.Empty(t, byPlatform[0].SellerName)
}

func TestValueChangeFromClampsShortHistory(t *testing.T) {
	t.Parallel()

	p := roster.Player{ID: "p1", OwnerName: "Alice"}
	day := func(offset int, value int64) ValuePoint {
		return ValuePoint{Date: time.Date(2025, 9, 10+offset, 0, 0, 0, 0, time.UTC), Value: value}
	}

	change := valueChangeFrom(p, []ValuePoint{day(0, 100), day(1, 110), day(2, 130)})
	require.Equal(t, int64(20), change.Today)
	require.Equal(t, int64(10), change.Yesterday)
	// Horizons past the history clamp to the oldest value.
	require.Equal(t, int64(30), change.SevenDays)
	require.Equal(t, int64(30), change.ThirtyDays)

	empty := valueChangeFrom(p, nil)
	require.Zero(t, empty.Today)
	require.Zero(t, empty.ThirtyDays)
}
