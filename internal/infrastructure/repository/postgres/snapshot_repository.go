package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
	qb "github.com/kbinsights/kickbase-insights/internal/platform/querybuilder"
)

// SnapshotRepository stores the latest payload per (league, section). Saves
// upsert in one statement so readers never observe a half-written section.
type SnapshotRepository struct {
	db *sqlx.DB
}

func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type snapshotRow struct {
	LeagueID   string    `db:"league_id"`
	Section    string    `db:"section"`
	Payload    []byte    `db:"payload"`
	ComputedAt time.Time `db:"computed_at"`
}

func (r *SnapshotRepository) Save(ctx context.Context, snap snapshot.Snapshot) error {
	row := snapshotRow{
		LeagueID:   snap.LeagueID,
		Section:    string(snap.Section),
		Payload:    snap.Payload,
		ComputedAt: snap.ComputedAt.UTC(),
	}

	query, args, err := qb.InsertModel("dashboard_snapshots", row, `ON CONFLICT (league_id, section)
DO UPDATE SET
    payload = EXCLUDED.payload,
    computed_at = EXCLUDED.computed_at`)
	if err != nil {
		return fmt.Errorf("build save snapshot query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save snapshot league=%s section=%s: %w", snap.LeagueID, snap.Section, err)
	}
	return nil
}

func (r *SnapshotRepository) Get(ctx context.Context, leagueID string, section snapshot.Section) (snapshot.Snapshot, error) {
	query, args, err := qb.Select("league_id", "section", "payload", "computed_at").
		From("dashboard_snapshots").
		Where(qb.Eq("league_id", leagueID), qb.Eq("section", string(section))).
		ToSQL()
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("build get snapshot query: %w", err)
	}

	var row snapshotRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isBindParameterMismatch(err) || isUnnamedPreparedStatementMissing(err) {
			return r.getLiteral(ctx, leagueID, section)
		}
		if isNotFound(err) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get snapshot league=%s section=%s: %w", leagueID, section, err)
	}

	return snapshotFromRow(row), nil
}

// getLiteral retries the lookup with values inlined, for pools that drop the
// unnamed prepared statement between bind and execute.
func (r *SnapshotRepository) getLiteral(ctx context.Context, leagueID string, section snapshot.Section) (snapshot.Snapshot, error) {
	query := "SELECT league_id, section, payload, computed_at FROM dashboard_snapshots WHERE league_id = " +
		quoteLiteral(leagueID) + " AND section = " + quoteLiteral(string(section))

	var row snapshotRow
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		if isNotFound(err) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get snapshot fallback league=%s section=%s: %w", leagueID, section, err)
	}
	return snapshotFromRow(row), nil
}

func snapshotFromRow(row snapshotRow) snapshot.Snapshot {
	return snapshot.Snapshot{
		LeagueID:   row.LeagueID,
		Section:    snapshot.Section(row.Section),
		Payload:    row.Payload,
		ComputedAt: row.ComputedAt.UTC(),
	}
}
