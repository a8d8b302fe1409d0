package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kbinsights/kickbase-insights/internal/domain/manager"
	"github.com/kbinsights/kickbase-insights/internal/domain/roster"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

// The payload types below are the wire shape of the dashboard sections. They
// are serialized once per refresh and returned verbatim by the read API, so
// their JSON tags are the public contract.

type turnoverEntry struct {
	Date         time.Time     `json:"date"`
	Type         transfer.Type `json:"type"`
	User         string        `json:"user"`
	TradePartner string        `json:"tradePartner"`
	Price        int64         `json:"price"`
	PlayerID     string        `json:"playerId"`
	TeamID       string        `json:"teamId"`
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
}

type turnoverRecord struct {
	Buy     turnoverEntry `json:"buy"`
	Sell    turnoverEntry `json:"sell"`
	Revenue int64         `json:"revenue"`
}

func turnoverEntryFrom(t transfer.Transfer) turnoverEntry {
	return turnoverEntry{
		Date:         t.Date,
		Type:         t.Type,
		User:         t.ManagerName,
		TradePartner: t.TradePartner,
		Price:        t.Price,
		PlayerID:     t.PlayerID,
		TeamID:       t.TeamID,
		FirstName:    t.PlayerFirstName,
		LastName:     t.PlayerLastName,
	}
}

// turnoverPayload renders the matched pairs sell-date descending, newest deal
// first, the order the dashboard shows them in.
func turnoverPayload(pairs []transfer.TurnoverPair) []turnoverRecord {
	records := make([]turnoverRecord, 0, len(pairs))
	for _, p := range pairs {
		records = append(records, turnoverRecord{
			Buy:     turnoverEntryFrom(p.Buy),
			Sell:    turnoverEntryFrom(p.Sell),
			Revenue: p.Revenue(),
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Sell.Date.After(records[j].Sell.Date)
	})
	return records
}

type takenPlayerEntry struct {
	PlayerID       string `json:"playerId"`
	TeamID         string `json:"teamId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Position       string `json:"position"`
	OwnerID        string `json:"ownerId"`
	OwnerName      string `json:"ownerName"`
	BuyPrice       int64  `json:"buyPrice"`
	AssignedAtJoin bool   `json:"assignedAtJoin"`
	MarketValue    int64  `json:"marketValue"`
	Trend          int    `json:"trend"`
	Status         int    `json:"status"`
	TotalPoints    int    `json:"totalPoints"`
}

func takenPlayersPayload(holdings []roster.Holding) []takenPlayerEntry {
	entries := make([]takenPlayerEntry, 0, len(holdings))
	for _, h := range holdings {
		entries = append(entries, takenPlayerEntry{
			PlayerID:       h.Player.ID,
			TeamID:         h.Player.TeamID,
			FirstName:      h.Player.FirstName,
			LastName:       h.Player.LastName,
			Position:       h.Player.Position,
			OwnerID:        h.Player.OwnerID,
			OwnerName:      h.Player.OwnerName,
			BuyPrice:       h.BuyPrice,
			AssignedAtJoin: h.AssignedAtJoin,
			MarketValue:    h.Player.MarketValue,
			Trend:          h.Player.Trend,
			Status:         h.Player.Status,
			TotalPoints:    h.Player.TotalPoints,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].OwnerName != entries[j].OwnerName {
			return entries[i].OwnerName < entries[j].OwnerName
		}
		return entries[i].MarketValue > entries[j].MarketValue
	})
	return entries
}

type freePlayerEntry struct {
	PlayerID    string `json:"playerId"`
	TeamID      string `json:"teamId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Position    string `json:"position"`
	MarketValue int64  `json:"marketValue"`
	Trend       int    `json:"trend"`
	Status      int    `json:"status"`
	TotalPoints int    `json:"totalPoints"`
}

func freePlayersPayload(players []roster.Player) []freePlayerEntry {
	entries := make([]freePlayerEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, freePlayerEntry{
			PlayerID:    p.ID,
			TeamID:      p.TeamID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Position:    p.Position,
			MarketValue: p.MarketValue,
			Trend:       p.Trend,
			Status:      p.Status,
			TotalPoints: p.TotalPoints,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].MarketValue > entries[j].MarketValue
	})
	return entries
}

type marketEntry struct {
	PlayerID    string    `json:"playerId"`
	TeamID      string    `json:"teamId"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Position    string    `json:"position"`
	Price       int64     `json:"price"`
	MarketValue int64     `json:"marketValue"`
	Trend       int       `json:"trend"`
	SellerName  string    `json:"sellerName,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// splitMarketListings divides the current market into manager-offered and
// platform-offered players. A listing with no seller id came from Kickbase.
func splitMarketListings(listings []MarketListing) (byUser, byPlatform []marketEntry) {
	byUser = make([]marketEntry, 0, len(listings))
	byPlatform = make([]marketEntry, 0, len(listings))
	for _, l := range listings {
		entry := marketEntry{
			PlayerID:    l.PlayerID,
			TeamID:      l.TeamID,
			FirstName:   l.FirstName,
			LastName:    l.LastName,
			Position:    l.Position,
			Price:       l.Price,
			MarketValue: l.MarketValue,
			Trend:       l.Trend,
			SellerName:  l.SellerName,
			ExpiresAt:   l.ExpiresAt,
		}
		if l.SellerID == "" {
			byPlatform = append(byPlatform, entry)
			continue
		}
		byUser = append(byUser, entry)
	}
	sortMarketEntries(byUser)
	sortMarketEntries(byPlatform)
	return byUser, byPlatform
}

func sortMarketEntries(entries []marketEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ExpiresAt.Before(entries[j].ExpiresAt)
	})
}

type marketValueChange struct {
	PlayerID   string `json:"playerId"`
	TeamID     string `json:"teamId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	OwnerName  string `json:"ownerName,omitempty"`
	Today      int64  `json:"today"`
	Yesterday  int64  `json:"yesterday"`
	TwoDays    int64  `json:"twoDays"`
	SevenDays  int64  `json:"sevenDays"`
	ThirtyDays int64  `json:"thirtyDays"`
}

const valueHistoryDays = 31

// marketValueChanges fetches every owned player's value history and computes
// the deltas the trends table shows. Histories are fetched through a bounded
// worker pool; a single-player failure drops that row rather than the section.
func (s *RefreshService) marketValueChanges(ctx context.Context, players []roster.Player) ([]marketValueChange, error) {
	owned := make([]roster.Player, 0, len(players))
	for _, p := range players {
		if p.Owned() {
			owned = append(owned, p)
		}
	}
	if len(owned) == 0 {
		return []marketValueChange{}, nil
	}

	workers, err := ants.NewPool(s.cfg.MaxWorkers)
	if err != nil {
		return nil, fmt.Errorf("start value-history workers: %w", err)
	}
	defer workers.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		changes = make([]marketValueChange, 0, len(owned))
		failed  int
	)
	for _, p := range owned {
		p := p
		wg.Add(1)
		submitErr := workers.Submit(func() {
			defer wg.Done()
			history, err := s.client.PlayerValueHistory(ctx, s.cfg.LeagueID, p.ID, valueHistoryDays)
			if err != nil {
				s.logger.WarnContext(ctx, "player value history unavailable",
					"player_id", p.ID, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			change := valueChangeFrom(p, history)
			mu.Lock()
			changes = append(changes, change)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("submit value-history task: %w", submitErr)
		}
	}
	wg.Wait()

	if failed == len(owned) {
		return nil, fmt.Errorf("all %d player value histories failed", failed)
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Today > changes[j].Today
	})
	return changes, nil
}

// valueChangeFrom derives value deltas from a per-day history, oldest first.
// A horizon longer than the history clamps to the oldest known value.
func valueChangeFrom(p roster.Player, history []ValuePoint) marketValueChange {
	delta := func(daysBack int) int64 {
		if len(history) < 2 {
			return 0
		}
		latest := history[len(history)-1].Value
		idx := len(history) - 1 - daysBack
		if idx < 0 {
			idx = 0
		}
		return latest - history[idx].Value
	}
	return marketValueChange{
		PlayerID:   p.ID,
		TeamID:     p.TeamID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		OwnerName:  p.OwnerName,
		Today:      delta(1),
		Yesterday:  delta(2) - delta(1),
		TwoDays:    delta(3) - delta(2),
		SevenDays:  delta(7),
		ThirtyDays: delta(30),
	}
}

type teamValueSeries struct {
	ManagerID   string       `json:"managerId"`
	ManagerName string       `json:"managerName"`
	Points      []ValuePoint `json:"points"`
}

// teamValueSeries collects every manager's team-value history. Managers whose
// history fails are skipped with a warning; the section fails only when no
// history at all could be fetched.
func (s *RefreshService) teamValueSeries(ctx context.Context, managers []manager.Manager) ([]teamValueSeries, error) {
	series := make([]teamValueSeries, 0, len(managers))
	var lastErr error
	for _, m := range managers {
		history, err := s.client.ManagerValueHistory(ctx, s.cfg.LeagueID, m.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "team value history unavailable",
				"manager_id", m.ID, "error", err)
			lastErr = err
			continue
		}
		series = append(series, teamValueSeries{
			ManagerID:   m.ID,
			ManagerName: m.Name,
			Points:      history,
		})
	}
	if len(series) == 0 && lastErr != nil {
		return nil, fmt.Errorf("no team value history fetched: %w", lastErr)
	}
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].ManagerName < series[j].ManagerName
	})
	return series, nil
}
