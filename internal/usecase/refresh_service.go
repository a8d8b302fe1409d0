package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sourcegraph/conc/pool"

	"github.com/kbinsights/kickbase-insights/internal/domain/balance"
	"github.com/kbinsights/kickbase-insights/internal/domain/manager"
	"github.com/kbinsights/kickbase-insights/internal/domain/revenue"
	"github.com/kbinsights/kickbase-insights/internal/domain/roster"
	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
	idgen "github.com/kbinsights/kickbase-insights/internal/platform/id"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
)

// RefreshConfig carries the league constants a run needs.
type RefreshConfig struct {
	LeagueID       string
	SeasonStart    time.Time
	StartingBudget int64
	// MaxWorkers bounds parallel upstream calls (feed pages, value
	// histories). Defaults to 4.
	MaxWorkers int
}

const defaultRefreshWorkers = 4

type SectionStatus struct {
	Section snapshot.Section `json:"section"`
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
}

// RunResult summarizes one full refresh for logs and notifications.
type RunResult struct {
	RunID         string          `json:"run_id"`
	LeagueID      string          `json:"league_id"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	ManagerCount  int             `json:"manager_count"`
	TransferCount int             `json:"transfer_count"`
	NewTransfers  int             `json:"new_transfers"`
	PairCount     int             `json:"pair_count"`
	Sections      []SectionStatus `json:"sections"`
}

// FailedSections lists the sections that did not persist.
func (r RunResult) FailedSections() []snapshot.Section {
	var failed []snapshot.Section
	for _, s := range r.Sections {
		if !s.OK {
			failed = append(failed, s.Section)
		}
	}
	return failed
}

// RefreshService executes one full dashboard refresh: fetch, normalize,
// deduplicate, match, aggregate, project, persist. Sections persist
// independently so one failure never blocks the rest; only missing required
// inputs (managers, feeds) abort a run and leave every prior snapshot intact.
type RefreshService struct {
	client     LeagueClient
	log        transfer.LogRepository
	snapshots  snapshot.Repository
	notifier   RunNotifier
	normalizer *transfer.Normalizer
	ids        idgen.Generator
	cfg        RefreshConfig
	logger     *logging.Logger
	now        func() time.Time
}

func NewRefreshService(
	client LeagueClient,
	transferLog transfer.LogRepository,
	snapshots snapshot.Repository,
	notifier RunNotifier,
	cfg RefreshConfig,
	logger *logging.Logger,
) *RefreshService {
	if logger == nil {
		logger = logging.Default()
	}
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultRefreshWorkers
	}
	return &RefreshService{
		client:     client,
		log:        transferLog,
		snapshots:  snapshots,
		notifier:   notifier,
		normalizer: transfer.NewNormalizer(logger),
		ids:        idgen.NewRandomGenerator(),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run performs one refresh. The returned error is non-nil only when the run
// aborted before computing anything; per-section failures are reported in the
// result instead.
func (s *RefreshService) Run(ctx context.Context) (RunResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RefreshService.Run")
	defer span.End()

	startedAt := s.now().UTC()
	runID, err := s.ids.NewID()
	if err != nil {
		runID = startedAt.Format("20060102T150405")
	}
	result := RunResult{RunID: runID, LeagueID: s.cfg.LeagueID, StartedAt: startedAt}

	managers, err := s.client.Managers(ctx, s.cfg.LeagueID)
	if err != nil {
		return result, fmt.Errorf("fetch league managers: %w: %v", ErrDependencyUnavailable, err)
	}
	result.ManagerCount = len(managers)

	fetched, err := s.fetchTransfers(ctx, managers)
	if err != nil {
		return result, fmt.Errorf("fetch transfer feeds: %w: %v", ErrDependencyUnavailable, err)
	}

	history, newCount := s.accumulate(ctx, fetched)
	history = transfer.Dedupe(history)
	result.TransferCount = len(history)
	result.NewTransfers = newCount

	pairs := transfer.Match(history, transfer.MatchOptions{
		SeasonStart: s.cfg.SeasonStart,
		StartValue:  s.startValueLookup(ctx),
		Logger:      s.logger,
	})
	result.PairCount = len(pairs)

	now := s.now().UTC()
	s.persistCoreSections(ctx, &result, history, pairs, managers, now)
	s.persistRosterSections(ctx, &result, history)
	s.persistMarketSections(ctx, &result)
	s.persistTeamValueSections(ctx, &result, managers)

	result.Duration = s.now().UTC().Sub(startedAt)
	s.logger.InfoContext(ctx, "refresh run finished",
		"run_id", runID,
		"league_id", s.cfg.LeagueID,
		"managers", result.ManagerCount,
		"transfers", result.TransferCount,
		"new_transfers", result.NewTransfers,
		"pairs", result.PairCount,
		"failed_sections", len(result.FailedSections()),
		"duration", result.Duration,
	)
	s.notifier.NotifyRun(ctx, result)

	return result, nil
}

// fetchTransfers hydrates every manager's feed in parallel and normalizes the
// items. Any feed failure aborts: a run computes from complete inputs or not
// at all.
func (s *RefreshService) fetchTransfers(ctx context.Context, managers []manager.Manager) ([]transfer.Transfer, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RefreshService.fetchTransfers")
	defer span.End()

	p := pool.NewWithResults[[]transfer.Transfer]().
		WithContext(ctx).
		WithMaxGoroutines(s.cfg.MaxWorkers)

	for _, m := range managers {
		owner := transfer.Party{ID: m.ID, Name: m.Name}
		p.Go(func(ctx context.Context) ([]transfer.Transfer, error) {
			items, err := s.client.ManagerFeed(ctx, s.cfg.LeagueID, owner)
			if err != nil {
				return nil, fmt.Errorf("fetch feed for manager %s: %w", owner.ID, err)
			}
			return s.normalizer.NormalizeAll(items, owner), nil
		})
	}

	batches, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var all []transfer.Transfer
	for _, batch := range batches {
		all = append(all, batch...)
	}
	return all, nil
}

// accumulate appends the fetched window to the durable transfer log and reads
// the full history back. Log trouble degrades to the in-run window with a
// warning; history depth suffers but the run still completes.
func (s *RefreshService) accumulate(ctx context.Context, fetched []transfer.Transfer) ([]transfer.Transfer, int) {
	if s.log == nil {
		return fetched, 0
	}

	newCount, err := s.log.AppendMany(ctx, s.cfg.LeagueID, transfer.DedupeByEventID(fetched))
	if err != nil {
		s.logger.WarnContext(ctx, "transfer log append failed, continuing with fetched window",
			"league_id", s.cfg.LeagueID, "error", err)
		return fetched, 0
	}

	history, err := s.log.ListByLeague(ctx, s.cfg.LeagueID)
	if err != nil {
		s.logger.WarnContext(ctx, "transfer log read failed, continuing with fetched window",
			"league_id", s.cfg.LeagueID, "error", err)
		return fetched, newCount
	}
	return history, newCount
}

func (s *RefreshService) startValueLookup(ctx context.Context) transfer.StartValueFunc {
	values, err := s.client.SeasonStartValues(ctx, s.cfg.LeagueID)
	if err != nil {
		s.logger.WarnContext(ctx, "season-start values unavailable, synthetic buys fall back to zero",
			"league_id", s.cfg.LeagueID, "error", err)
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return func(playerID string) (int64, bool) {
		v, ok := values[playerID]
		return v, ok
	}
}

func (s *RefreshService) persistCoreSections(
	ctx context.Context,
	result *RunResult,
	history []transfer.Transfer,
	pairs []transfer.TurnoverPair,
	managers []manager.Manager,
	now time.Time,
) {
	s.saveSection(ctx, result, snapshot.SectionTurnovers, func() (any, error) {
		return turnoverPayload(pairs), nil
	})

	s.saveSection(ctx, result, snapshot.SectionRevenue, func() (any, error) {
		names := make([]string, 0, len(managers))
		for _, m := range managers {
			names = append(names, m.Name)
		}
		return revenue.Daily(pairs, names, s.cfg.SeasonStart, now), nil
	})

	s.saveSection(ctx, result, snapshot.SectionBalances, func() (any, error) {
		projected := balance.Project(history, managers, s.cfg.StartingBudget)
		rows := make([]balance.ManagerBalance, 0, len(projected))
		for _, row := range projected {
			rows = append(rows, row)
		}
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].TeamValue > rows[j].TeamValue })
		return rows, nil
	})
}

func (s *RefreshService) persistRosterSections(ctx context.Context, result *RunResult, history []transfer.Transfer) {
	players, err := s.client.Roster(ctx, s.cfg.LeagueID)
	if err != nil {
		s.failSections(ctx, result, err,
			snapshot.SectionTakenPlayers, snapshot.SectionFreePlayers, snapshot.SectionMarketValues)
		return
	}

	s.saveSection(ctx, result, snapshot.SectionTakenPlayers, func() (any, error) {
		return takenPlayersPayload(roster.Holdings(players, history)), nil
	})
	s.saveSection(ctx, result, snapshot.SectionFreePlayers, func() (any, error) {
		return freePlayersPayload(roster.FreeAgents(players)), nil
	})
	s.saveSection(ctx, result, snapshot.SectionMarketValues, func() (any, error) {
		return s.marketValueChanges(ctx, players)
	})
}

func (s *RefreshService) persistMarketSections(ctx context.Context, result *RunResult) {
	listings, err := s.client.MarketListings(ctx, s.cfg.LeagueID)
	if err != nil {
		s.failSections(ctx, result, err, snapshot.SectionMarketUser, snapshot.SectionMarketPlatform)
		return
	}

	byUser, byPlatform := splitMarketListings(listings)
	s.saveSection(ctx, result, snapshot.SectionMarketUser, func() (any, error) {
		return byUser, nil
	})
	s.saveSection(ctx, result, snapshot.SectionMarketPlatform, func() (any, error) {
		return byPlatform, nil
	})
}

func (s *RefreshService) persistTeamValueSections(ctx context.Context, result *RunResult, managers []manager.Manager) {
	s.saveSection(ctx, result, snapshot.SectionTeamValues, func() (any, error) {
		return s.teamValueSeries(ctx, managers)
	})
}

// saveSection computes and stores one dashboard dataset. A failure marks the
// section in the result and leaves its previous snapshot untouched.
func (s *RefreshService) saveSection(ctx context.Context, result *RunResult, section snapshot.Section, build func() (any, error)) {
	payload, err := build()
	if err == nil {
		err = s.storeSnapshot(ctx, section, payload)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "dashboard section failed",
			"league_id", s.cfg.LeagueID, "section", string(section), "error", err)
		result.Sections = append(result.Sections, SectionStatus{Section: section, Error: err.Error()})
		return
	}
	result.Sections = append(result.Sections, SectionStatus{Section: section, OK: true})
}

func (s *RefreshService) failSections(ctx context.Context, result *RunResult, err error, sections ...snapshot.Section) {
	for _, section := range sections {
		s.logger.ErrorContext(ctx, "dashboard section failed",
			"league_id", s.cfg.LeagueID, "section", string(section), "error", err)
		result.Sections = append(result.Sections, SectionStatus{Section: section, Error: err.Error()})
	}
}

func (s *RefreshService) storeSnapshot(ctx context.Context, section snapshot.Section, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal section %s: %w", section, err)
	}
	err = s.snapshots.Save(ctx, snapshot.Snapshot{
		LeagueID:   s.cfg.LeagueID,
		Section:    section,
		Payload:    data,
		ComputedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save section %s: %w", section, err)
	}
	return nil
}
