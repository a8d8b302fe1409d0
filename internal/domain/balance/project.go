// Package balance replays the transfer history against the starting budget to
// estimate each manager's cash balance and bid ceiling. Daily login bonuses
// and one-off achievement payouts are not part of the transfer feed and are
// not modeled, so the projected balance drifts from the platform's true value
// by exactly those amounts.
package balance

import (
	"sort"

	"github.com/kbinsights/kickbase-insights/internal/domain/manager"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

// MaxBidRatio is the platform rule: a manager may bid up to 33% of the
// adjusted team value even while cash-negative.
const MaxBidRatio = 0.33

// ManagerBalance is the projected cash position of one manager. Balance can
// go negative, a real platform mechanic; MaxBid never does.
type ManagerBalance struct {
	ManagerID       string `json:"managerId"`
	ManagerName     string `json:"username"`
	ProfileImageURL string `json:"profilePic,omitempty"`
	TeamValue       int64  `json:"teamValue"`
	Balance         int64  `json:"balance"`
	MaxBid          int64  `json:"maxBid"`
}

// Project replays every buy and sell chronologically against the starting
// budget. The final sum is order-independent today, but replay stays
// chronological so order-dependent rules (rolling caps) can slot in without a
// rewrite. Transfers of managers absent from the managers list are ignored;
// managers without transfers keep the full starting budget.
func Project(transfers []transfer.Transfer, managers []manager.Manager, startingBudget int64) map[string]ManagerBalance {
	ordered := make([]transfer.Transfer, len(transfers))
	copy(ordered, transfers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	balances := make(map[string]int64, len(managers))
	for _, m := range managers {
		balances[m.ID] = startingBudget
	}
	for _, t := range ordered {
		current, ok := balances[t.ManagerID]
		if !ok {
			continue
		}
		switch t.Type {
		case transfer.TypeBuy:
			balances[t.ManagerID] = current - t.Price
		case transfer.TypeSell:
			balances[t.ManagerID] = current + t.Price
		}
	}

	out := make(map[string]ManagerBalance, len(managers))
	for _, m := range managers {
		cash := balances[m.ID]
		out[m.ID] = ManagerBalance{
			ManagerID:       m.ID,
			ManagerName:     m.Name,
			ProfileImageURL: m.ProfileImageURL,
			TeamValue:       m.TeamValue,
			Balance:         cash,
			MaxBid:          maxBid(m.TeamValue, cash),
		}
	}
	return out
}

func maxBid(teamValue, cash int64) int64 {
	adjustedTeamValue := teamValue + cash
	maxNegative := int64(float64(adjustedTeamValue) * MaxBidRatio)

	bid := maxNegative
	if cash < 0 {
		bid = maxNegative + cash
	}
	if bid < 0 {
		return 0
	}
	return bid
}
