package kickbase

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
)

// Wire DTOs for the Kickbase API. Field names follow the upstream JSON, which
// is tersely abbreviated; the mapping functions in client.go translate them to
// domain types.

// flexInt64 decodes an amount that the API serves either as a JSON number
// (possibly with a fractional part) or as a numeric string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexInt64(parsed)
		return nil
	}
	var n float64
	if err := sonic.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

func (f *flexInt64) asPtr() *int64 {
	if f == nil {
		return nil
	}
	v := int64(*f)
	return &v
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Ext      bool   `json:"ext"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Leagues []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"leagues"`
}

type leagueUsersEnvelope struct {
	Users []leagueUserDTO `json:"users"`
}

type leagueUserDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProfileURL string `json:"profile"`
}

type userStatsDTO struct {
	Placement  int              `json:"placement"`
	Points     int              `json:"points"`
	TeamValue  flexInt64        `json:"teamValue"`
	TeamValues []teamValueEntry `json:"teamValues"`
}

type teamValueEntry struct {
	Date  string    `json:"d"`
	Value flexInt64 `json:"v"`
}

// v1 per-user feed.

type feedEnvelopeV1 struct {
	Items []feedItemV1 `json:"items"`
}

type feedItemV1 struct {
	ID   string     `json:"id"`
	Type int        `json:"type"`
	Date string     `json:"date"`
	Meta feedMetaV1 `json:"meta"`
}

type feedMetaV1 struct {
	PlayerID        *string    `json:"pid"`
	TeamID          *string    `json:"tid"`
	PlayerFirstName *string    `json:"pfn"`
	PlayerLastName  *string    `json:"pln"`
	Price           *flexInt64 `json:"p"`
	BuyerID         *string    `json:"bid"`
	BuyerName       *string    `json:"bn"`
	SellerID        *string    `json:"sid"`
	SellerName      *string    `json:"sn"`
}

// v2 league-wide feed.

type feedEnvelopeV2 struct {
	Items []feedItemV2 `json:"items"`
}

type feedItemV2 struct {
	ID   string     `json:"i"`
	Type int        `json:"t"`
	Date string     `json:"dt"`
	Data feedDataV2 `json:"data"`
}

type feedDataV2 struct {
	Seller *feedPartyV2  `json:"s"`
	Buyer  *feedPartyV2  `json:"b"`
	Player *feedPlayerV2 `json:"p"`
	Value  *flexInt64    `json:"v"`
}

type feedPartyV2 struct {
	ID   string `json:"i"`
	Name string `json:"n"`
}

type feedPlayerV2 struct {
	ID        string `json:"i"`
	TeamID    string `json:"tid"`
	FirstName string `json:"fn"`
	LastName  string `json:"n"`
}

// Competition pool and player statistics.

type teamPlayersEnvelope struct {
	Players []teamPlayerDTO `json:"p"`
}

type teamPlayerDTO struct {
	ID string `json:"id"`
}

type playerStatsDTO struct {
	PlayerID     string             `json:"id"`
	TeamID       string             `json:"teamId"`
	Position     int                `json:"position"`
	FirstName    string             `json:"firstName"`
	LastName     string             `json:"lastName"`
	Status       int                `json:"status"`
	MarketValue  flexInt64          `json:"marketValue"`
	Trend        int                `json:"mvTrend"`
	Points       int                `json:"points"`
	MarketValues []marketValueEntry `json:"marketValues"`
	LeaguePlayer *struct {
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
	} `json:"leaguePlayer"`
}

type marketValueEntry struct {
	Date  string    `json:"d"`
	Value flexInt64 `json:"m"`
}

// Transfer market.

type marketEnvelope struct {
	Players []marketPlayerDTO `json:"players"`
}

type marketPlayerDTO struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"teamId"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Position    int       `json:"position"`
	Price       flexInt64 `json:"price"`
	MarketValue flexInt64 `json:"marketValue"`
	Trend       int       `json:"marketValueTrend"`
	Expiry      string    `json:"expiry"`
	// Seller is absent for players Kickbase itself lists.
	Seller *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

// Position codes as sent by the API.
var positionNames = map[int]string{
	1: "TW",
	2: "ABW",
	3: "MF",
	4: "ANG",
}

func positionName(code int) string {
	if name, ok := positionNames[code]; ok {
		return name
	}
	return "UNK"
}

// parseAPITime accepts the two timestamp layouts the API mixes: RFC 3339 with
// milliseconds and a bare date.
func parseAPITime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
