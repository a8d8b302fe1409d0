package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
	qb "github.com/kbinsights/kickbase-insights/internal/platform/querybuilder"
)

// TransferLogRepository persists the append-only transfer history. The
// (league_id, event_id) unique index makes appends idempotent: replayed feed
// windows insert nothing.
type TransferLogRepository struct {
	db *sqlx.DB
}

func NewTransferLogRepository(db *sqlx.DB) *TransferLogRepository {
	return &TransferLogRepository{db: db}
}

type transferLogRow struct {
	LeagueID        string    `db:"league_id"`
	EventID         string    `db:"event_id"`
	OccurredAt      time.Time `db:"occurred_at"`
	Type            string    `db:"type"`
	ManagerID       string    `db:"manager_id"`
	ManagerName     string    `db:"manager_name"`
	TradePartner    string    `db:"trade_partner"`
	Price           int64     `db:"price"`
	PlayerID        string    `db:"player_id"`
	TeamID          string    `db:"team_id"`
	PlayerFirstName string    `db:"player_first_name"`
	PlayerLastName  string    `db:"player_last_name"`
}

func (r *TransferLogRepository) AppendMany(ctx context.Context, leagueID string, transfers []transfer.Transfer) (int, error) {
	if len(transfers) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx append transfers: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	added := 0
	for _, t := range transfers {
		row := transferLogRow{
			LeagueID:        leagueID,
			EventID:         eventKey(t),
			OccurredAt:      t.Date.UTC(),
			Type:            string(t.Type),
			ManagerID:       t.ManagerID,
			ManagerName:     t.ManagerName,
			TradePartner:    t.TradePartner,
			Price:           t.Price,
			PlayerID:        t.PlayerID,
			TeamID:          t.TeamID,
			PlayerFirstName: t.PlayerFirstName,
			PlayerLastName:  t.PlayerLastName,
		}

		query, args, err := qb.InsertModel("transfer_log", row, "ON CONFLICT (league_id, event_id) DO NOTHING")
		if err != nil {
			return 0, fmt.Errorf("build append transfer query: %w", err)
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("append transfer event=%s: %w", row.EventID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("count appended transfer rows: %w", err)
		}
		added += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append transfers tx: %w", err)
	}
	return added, nil
}

func (r *TransferLogRepository) ListByLeague(ctx context.Context, leagueID string) ([]transfer.Transfer, error) {
	query, args, err := qb.Select(
		"event_id", "occurred_at", "type", "manager_id", "manager_name",
		"trade_partner", "price", "player_id", "team_id",
		"player_first_name", "player_last_name",
	).
		From("transfer_log").
		Where(qb.Eq("league_id", leagueID)).
		OrderBy("occurred_at ASC", "event_id ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list transfers query: %w", err)
	}

	var rows []transferLogRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if isBindParameterMismatch(err) || isUnnamedPreparedStatementMissing(err) {
			return r.listByLeagueLiteral(ctx, leagueID)
		}
		return nil, fmt.Errorf("list transfers league=%s: %w", leagueID, err)
	}

	return transfersFromRows(rows), nil
}

// listByLeagueLiteral retries the listing with the league id inlined, for
// pools that drop the unnamed prepared statement between bind and execute.
func (r *TransferLogRepository) listByLeagueLiteral(ctx context.Context, leagueID string) ([]transfer.Transfer, error) {
	query := "SELECT event_id, occurred_at, type, manager_id, manager_name, trade_partner, price, player_id, team_id, player_first_name, player_last_name " +
		"FROM transfer_log WHERE league_id = " + quoteLiteral(leagueID) + " ORDER BY occurred_at ASC, event_id ASC"

	var rows []transferLogRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list transfers fallback league=%s: %w", leagueID, err)
	}
	return transfersFromRows(rows), nil
}

func transfersFromRows(rows []transferLogRow) []transfer.Transfer {
	transfers := make([]transfer.Transfer, 0, len(rows))
	for _, row := range rows {
		transfers = append(transfers, transfer.Transfer{
			EventID:         row.EventID,
			Date:            row.OccurredAt.UTC(),
			Type:            transfer.Type(row.Type),
			ManagerID:       row.ManagerID,
			ManagerName:     row.ManagerName,
			TradePartner:    row.TradePartner,
			Price:           row.Price,
			PlayerID:        row.PlayerID,
			TeamID:          row.TeamID,
			PlayerFirstName: row.PlayerFirstName,
			PlayerLastName:  row.PlayerLastName,
		})
	}
	return transfers
}

// eventKey returns the upstream event id, or a deterministic surrogate for
// items that arrived without one so replays still deduplicate.
func eventKey(t transfer.Transfer) string {
	if t.EventID != "" {
		return t.EventID
	}
	sum := sha256.Sum256([]byte(
		t.ManagerID + "|" + t.PlayerID + "|" + string(t.Type) + "|" +
			strconv.FormatInt(t.Date.UTC().UnixNano(), 10) + "|" +
			strconv.FormatInt(t.Price, 10),
	))
	return "gen-" + hex.EncodeToString(sum[:16])
}
