package transfer

import (
	"fmt"
	"time"
)

// Type classifies the economic direction of a transfer event.
type Type string

const (
	TypeBuy  Type = "buy"
	TypeSell Type = "sell"
	// TypeAssignedAtStart marks a synthetic buy created for a player a manager
	// sold without ever buying (the squad assigned at league join).
	TypeAssignedAtStart Type = "assigned_at_start"
)

// PlatformCounterparty is the trade partner recorded when a transfer settles
// against Kickbase itself rather than a peer manager.
const PlatformCounterparty = "Kickbase"

// Transfer is one canonical economic event for one player.
type Transfer struct {
	EventID         string
	Date            time.Time
	Type            Type
	ManagerID       string
	ManagerName     string
	TradePartner    string
	Price           int64
	PlayerID        string
	TeamID          string
	PlayerFirstName string
	PlayerLastName  string
}

func (t Transfer) Validate() error {
	if t.ManagerID == "" {
		return fmt.Errorf("transfer manager id is required")
	}
	if t.PlayerID == "" {
		return fmt.Errorf("transfer player id is required")
	}
	if t.Price < 0 {
		return fmt.Errorf("transfer price must not be negative")
	}
	switch t.Type {
	case TypeBuy, TypeSell, TypeAssignedAtStart:
	default:
		return fmt.Errorf("unknown transfer type: %q", t.Type)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("transfer date is required")
	}
	return nil
}

// TurnoverPair is a resolved buy-then-sell round trip for one player by one
// manager. Buy may be synthetic (TypeAssignedAtStart).
type TurnoverPair struct {
	Buy  Transfer
	Sell Transfer
}

// Revenue is the realized profit or loss of the round trip. Negative when the
// player was sold below the acquisition price.
func (p TurnoverPair) Revenue() int64 {
	return p.Sell.Price - p.Buy.Price
}

func (p TurnoverPair) Validate() error {
	if p.Buy.PlayerID != p.Sell.PlayerID {
		return fmt.Errorf("turnover pair player mismatch: buy=%s sell=%s", p.Buy.PlayerID, p.Sell.PlayerID)
	}
	if p.Buy.ManagerID != p.Sell.ManagerID {
		return fmt.Errorf("turnover pair manager mismatch: buy=%s sell=%s", p.Buy.ManagerID, p.Sell.ManagerID)
	}
	if p.Buy.Date.After(p.Sell.Date) {
		return fmt.Errorf("turnover pair buy dated after sell: buy=%s sell=%s", p.Buy.Date, p.Sell.Date)
	}
	return nil
}
