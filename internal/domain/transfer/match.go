package transfer

import (
	"sort"
	"time"

	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
)

// StartValueFunc returns the season-start market value for a player, used to
// price synthetic buys. ok=false means no snapshot is available.
type StartValueFunc func(playerID string) (value int64, ok bool)

// MatchOptions configure the buy/sell matcher.
type MatchOptions struct {
	// SeasonStart dates synthetic buys for players sold without a buy record.
	SeasonStart time.Time
	// StartValue prices synthetic buys. When nil or not ok, the price falls
	// back to zero and a warning is logged; the pair's revenue then equals
	// the full sell price, the best available approximation.
	StartValue StartValueFunc
	Logger     *logging.Logger
}

// Match pairs every sell with its originating buy per (manager, player) using
// oldest-first greedy matching, synthesizing a season-start buy for sells
// without one. Unmatched buys (players still held) yield no pair. The result
// covers all managers in one flat list.
func Match(transfers []Transfer, opts MatchOptions) []TurnoverPair {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	byManager := make(map[string][]Transfer)
	managerOrder := make([]string, 0)
	for _, t := range transfers {
		if _, ok := byManager[t.ManagerID]; !ok {
			managerOrder = append(managerOrder, t.ManagerID)
		}
		byManager[t.ManagerID] = append(byManager[t.ManagerID], t)
	}
	sort.Strings(managerOrder)

	pairs := make([]TurnoverPair, 0, len(transfers)/2)
	for _, managerID := range managerOrder {
		pairs = append(pairs, matchManager(byManager[managerID], opts, logger)...)
	}
	return pairs
}

func matchManager(transfers []Transfer, opts MatchOptions, logger *logging.Logger) []TurnoverPair {
	ordered := make([]Transfer, len(transfers))
	copy(ordered, transfers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	pairs := make([]TurnoverPair, 0, len(ordered)/2)
	claimed := make(map[int]bool, len(ordered))

	// Forward scan pairs each buy with the nearest following unclaimed sell
	// of the same player, which preserves FIFO lot matching for players that
	// were re-acquired and re-sold.
	for i, buy := range ordered {
		if buy.Type != TypeBuy {
			continue
		}
		for j := i + 1; j < len(ordered); j++ {
			sell := ordered[j]
			if sell.Type != TypeSell || claimed[j] || sell.PlayerID != buy.PlayerID {
				continue
			}
			claimed[j] = true
			pairs = append(pairs, TurnoverPair{Buy: buy, Sell: sell})
			break
		}
	}

	// Every sell left unclaimed belongs to a player the manager never bought:
	// part of the squad assigned at league join. Pair it with a synthetic buy
	// dated at season start.
	for j, sell := range ordered {
		if sell.Type != TypeSell || claimed[j] {
			continue
		}
		pairs = append(pairs, TurnoverPair{
			Buy:  syntheticStartBuy(sell, opts, logger),
			Sell: sell,
		})
	}

	return pairs
}

func syntheticStartBuy(sell Transfer, opts MatchOptions, logger *logging.Logger) Transfer {
	var price int64
	if opts.StartValue != nil {
		if v, ok := opts.StartValue(sell.PlayerID); ok {
			price = v
		}
	}
	if price == 0 {
		logger.Warn("no season-start value for assigned player, pricing synthetic buy at zero",
			"player_id", sell.PlayerID,
			"manager_id", sell.ManagerID,
		)
	}

	return Transfer{
		Date:            opts.SeasonStart,
		Type:            TypeAssignedAtStart,
		ManagerID:       sell.ManagerID,
		ManagerName:     sell.ManagerName,
		TradePartner:    PlatformCounterparty,
		Price:           price,
		PlayerID:        sell.PlayerID,
		TeamID:          sell.TeamID,
		PlayerFirstName: sell.PlayerFirstName,
		PlayerLastName:  sell.PlayerLastName,
	}
}
