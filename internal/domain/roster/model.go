package roster

// Value trend codes as sent by the upstream player statistics endpoint.
const (
	TrendFlat = 0
	TrendUp   = 1
	TrendDown = 2
)

// Player is one athlete in the competition pool with its current league
// ownership. OwnerID is empty for free agents.
type Player struct {
	ID          string
	TeamID      string
	FirstName   string
	LastName    string
	Position    string
	OwnerID     string
	OwnerName   string
	MarketValue int64
	Trend       int
	Status      int
	TotalPoints int
}

// Owned reports whether a manager currently holds the player.
func (p Player) Owned() bool {
	return p.OwnerID != ""
}
