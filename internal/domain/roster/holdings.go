package roster

import (
	"sort"

	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

// Holding is one currently-owned player together with how the owner acquired
// them. AssignedAtJoin is true when no buy record exists anywhere in the
// transfer history: the player came with the squad at league join and the
// acquisition price is unknown (reported as zero).
type Holding struct {
	Player         Player
	BuyPrice       int64
	AssignedAtJoin bool
}

// Holdings cross-references the current roster against the transfer history.
// For every owned player the most recent buy by the current owner supplies
// the acquisition price; owned players without one are flagged as assigned at
// join. Free agents are left out.
func Holdings(players []Player, transfers []transfer.Transfer) []Holding {
	type lastBuy struct {
		price int64
		found bool
	}
	buys := make(map[string]lastBuy)
	ordered := make([]transfer.Transfer, len(transfers))
	copy(ordered, transfers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})
	for _, t := range ordered {
		if t.Type != transfer.TypeBuy {
			continue
		}
		buys[t.ManagerID+"/"+t.PlayerID] = lastBuy{price: t.Price, found: true}
	}

	holdings := make([]Holding, 0, len(players))
	for _, p := range players {
		if !p.Owned() {
			continue
		}
		acquired := buys[p.OwnerID+"/"+p.ID]
		holdings = append(holdings, Holding{
			Player:         p,
			BuyPrice:       acquired.price,
			AssignedAtJoin: !acquired.found,
		})
	}
	return holdings
}

// FreeAgents returns the players no manager owns.
func FreeAgents(players []Player) []Player {
	free := make([]Player, 0, len(players))
	for _, p := range players {
		if !p.Owned() {
			free = append(free, p)
		}
	}
	return free
}
