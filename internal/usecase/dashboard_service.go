package usecase

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
	"github.com/kbinsights/kickbase-insights/internal/platform/cache"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
)

// DashboardService is the read side: it serves the precomputed section
// snapshots the refresh run persisted. Reads go through a short-lived cache;
// the scheduler invalidates it after every run so a fresh computation is
// visible immediately.
type DashboardService struct {
	snapshots snapshot.Repository
	cache     *cache.Store
	logger    *logging.Logger
}

func NewDashboardService(snapshots snapshot.Repository, store *cache.Store, logger *logging.Logger) *DashboardService {
	if logger == nil {
		logger = logging.Default()
	}
	return &DashboardService{
		snapshots: snapshots,
		cache:     store,
		logger:    logger,
	}
}

// Section returns the latest snapshot of one dashboard dataset. ErrNotFound
// when no refresh run has produced the section yet.
func (s *DashboardService) Section(ctx context.Context, leagueID string, section snapshot.Section) (snapshot.Snapshot, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DashboardService.Section")
	defer span.End()

	if leagueID == "" {
		return snapshot.Snapshot{}, errors.Wrap(ErrInvalidInput, "league id is required")
	}
	if !validSection(section) {
		return snapshot.Snapshot{}, errors.Wrapf(ErrInvalidInput, "unknown section %q", section)
	}

	load := func(ctx context.Context) (any, error) {
		snap, err := s.snapshots.Get(ctx, leagueID, section)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				return nil, errors.Wrapf(ErrNotFound, "section %s", section)
			}
			return nil, fmt.Errorf("load section %s: %w", section, err)
		}
		return snap, nil
	}

	if s.cache == nil {
		value, err := load(ctx)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		return value.(snapshot.Snapshot), nil
	}

	value, err := s.cache.GetOrLoad(ctx, sectionCacheKey(leagueID, section), load)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return value.(snapshot.Snapshot), nil
}

// Invalidate evicts every cached section of one league.
func (s *DashboardService) Invalidate(ctx context.Context, leagueID string) {
	if s.cache == nil || leagueID == "" {
		return
	}
	s.cache.DeletePrefix(ctx, "snapshot:"+leagueID+":")
	s.logger.DebugContext(ctx, "dashboard cache invalidated", "league_id", leagueID)
}

func sectionCacheKey(leagueID string, section snapshot.Section) string {
	return "snapshot:" + leagueID + ":" + string(section)
}

func validSection(section snapshot.Section) bool {
	for _, s := range snapshot.All {
		if s == section {
			return true
		}
	}
	return false
}
