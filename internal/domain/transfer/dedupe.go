package transfer

// identity is the comparable projection of a Transfer used for structural
// equality. Dates compare by instant, not by time.Time internals.
type identity struct {
	eventID         string
	dateUnix        int64
	transferType    Type
	managerID       string
	managerName     string
	tradePartner    string
	price           int64
	playerID        string
	teamID          string
	playerFirstName string
	playerLastName  string
}

func identityOf(t Transfer) identity {
	return identity{
		eventID:         t.EventID,
		dateUnix:        t.Date.UnixNano(),
		transferType:    t.Type,
		managerID:       t.ManagerID,
		managerName:     t.ManagerName,
		tradePartner:    t.TradePartner,
		price:           t.Price,
		playerID:        t.PlayerID,
		teamID:          t.TeamID,
		playerFirstName: t.PlayerFirstName,
		playerLastName:  t.PlayerLastName,
	}
}

// Dedupe removes structural duplicates, keeping the first occurrence and the
// input order. The upstream feed repeats identical records across overlapping
// pagination windows, and not every schema version carries a stable event id,
// so equality covers every field. Idempotent.
func Dedupe(transfers []Transfer) []Transfer {
	seen := make(map[identity]struct{}, len(transfers))
	out := make([]Transfer, 0, len(transfers))
	for _, t := range transfers {
		id := identityOf(t)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DedupeByEventID removes duplicates by stable event id alone. Used on the
// append-only log path where every record carries an id. Records without an
// id fall back to structural comparison.
func DedupeByEventID(transfers []Transfer) []Transfer {
	seenIDs := make(map[string]struct{}, len(transfers))
	seenStructural := make(map[identity]struct{})
	out := make([]Transfer, 0, len(transfers))
	for _, t := range transfers {
		if t.EventID == "" {
			id := identityOf(t)
			if _, ok := seenStructural[id]; ok {
				continue
			}
			seenStructural[id] = struct{}{}
			out = append(out, t)
			continue
		}
		if _, ok := seenIDs[t.EventID]; ok {
			continue
		}
		seenIDs[t.EventID] = struct{}{}
		out = append(out, t)
	}
	return out
}
