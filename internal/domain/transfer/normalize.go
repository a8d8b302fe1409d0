package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
)

// FeedSchema tags which upstream feed shape a raw item came from.
type FeedSchema string

const (
	// FeedSchemaV1 is the per-manager buy/sell feed with a flat meta object
	// (pid/tid/pfn/pln/p plus optional bn/sn counterparty names).
	FeedSchemaV1 FeedSchema = "v1"
	// FeedSchemaV2 is the league-wide transfer feed with nested seller/buyer
	// and player sub-objects and the price carried in a value field.
	FeedSchemaV2 FeedSchema = "v2"
)

// Feed item type codes, as sent by the upstream API.
const (
	v1ItemTypeSell = 2
	v1ItemTypeBuy  = 12
	v2ItemTypeDeal = 15
)

var (
	// ErrNotEconomic marks feed items that are no buy/sell event (news,
	// listings, matchday summaries). They are dropped without logging.
	ErrNotEconomic = errors.New("feed item is not an economic event")
	// ErrMalformedItem marks feed items missing a required field. They are
	// logged and skipped so one bad record never aborts a run.
	ErrMalformedItem = errors.New("feed item is malformed")
)

// Party identifies a manager referenced by a feed item.
type Party struct {
	ID   string
	Name string
}

// RawPlayerRef is the nested player sub-object of v2 feed items.
type RawPlayerRef struct {
	ID        string
	TeamID    string
	FirstName string
	LastName  string
}

// RawFeedItem is one upstream feed entry prior to normalization. Optional
// fields are pointers so an absent field is distinguishable from one present
// with a zero value; the adapters make pass/reject decisions on presence.
type RawFeedItem struct {
	Schema   FeedSchema
	EventID  string
	Date     time.Time
	ItemType int

	// v1 flat meta fields.
	PlayerID        *string
	TeamID          *string
	PlayerFirstName *string
	PlayerLastName  *string
	Price           *int64
	BuyerName       *string
	SellerName      *string

	// v2 nested meta fields.
	Seller *Party
	Buyer  *Party
	Player *RawPlayerRef
	Value  *int64
}

type schemaAdapter func(item RawFeedItem, owner Party) (Transfer, error)

var schemaAdapters = map[FeedSchema]schemaAdapter{
	FeedSchemaV1: normalizeV1,
	FeedSchemaV2: normalizeV2,
}

// Normalizer converts raw feed items of any supported schema version into
// canonical transfers.
type Normalizer struct {
	logger *logging.Logger
}

func NewNormalizer(logger *logging.Logger) *Normalizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize maps one raw feed item to its canonical transfer. owner is the
// manager whose feed the item was read from; v2 items carry their own parties
// and ignore it.
func (n *Normalizer) Normalize(item RawFeedItem, owner Party) (Transfer, error) {
	adapter, ok := schemaAdapters[item.Schema]
	if !ok {
		return Transfer{}, fmt.Errorf("%w: unsupported feed schema %q", ErrMalformedItem, item.Schema)
	}
	return adapter(item, owner)
}

// NormalizeAll maps a whole feed page, dropping non-economic items silently
// and malformed items with a warning.
func (n *Normalizer) NormalizeAll(items []RawFeedItem, owner Party) []Transfer {
	out := make([]Transfer, 0, len(items))
	for _, item := range items {
		t, err := n.Normalize(item, owner)
		if errors.Is(err, ErrNotEconomic) {
			continue
		}
		if err != nil {
			n.logger.Warn("skipping malformed feed item",
				"schema", string(item.Schema),
				"event_id", item.EventID,
				"item_type", item.ItemType,
				"error", err,
			)
			continue
		}
		out = append(out, t)
	}
	return out
}

func normalizeV1(item RawFeedItem, owner Party) (Transfer, error) {
	var transferType Type
	var partner string

	switch item.ItemType {
	case v1ItemTypeSell:
		transferType = TypeSell
		// A sale to a peer carries the buyer's name; without one the
		// counterparty is the platform.
		partner = stringOr(item.BuyerName, PlatformCounterparty)
	case v1ItemTypeBuy:
		transferType = TypeBuy
		partner = stringOr(item.SellerName, PlatformCounterparty)
	default:
		return Transfer{}, ErrNotEconomic
	}

	if item.PlayerID == nil || *item.PlayerID == "" {
		return Transfer{}, fmt.Errorf("%w: player id missing", ErrMalformedItem)
	}
	if item.Price == nil {
		return Transfer{}, fmt.Errorf("%w: price missing for player %s", ErrMalformedItem, *item.PlayerID)
	}
	if *item.Price < 0 {
		return Transfer{}, fmt.Errorf("%w: negative price for player %s", ErrMalformedItem, *item.PlayerID)
	}
	if owner.ID == "" {
		return Transfer{}, fmt.Errorf("%w: feed owner unknown", ErrMalformedItem)
	}

	return Transfer{
		EventID:         item.EventID,
		Date:            item.Date,
		Type:            transferType,
		ManagerID:       owner.ID,
		ManagerName:     owner.Name,
		TradePartner:    partner,
		Price:           *item.Price,
		PlayerID:        *item.PlayerID,
		TeamID:          stringOr(item.TeamID, ""),
		PlayerFirstName: stringOr(item.PlayerFirstName, ""),
		PlayerLastName:  stringOr(item.PlayerLastName, ""),
	}, nil
}

// normalizeV2 maps one league-feed deal to exactly one canonical transfer.
// A peer-to-peer sale (both seller and buyer present) yields only the sell
// leg: the item is one economic event, and the buyer's side of the ledger is
// reconstructed from their own feed or synthesized by the matcher.
func normalizeV2(item RawFeedItem, _ Party) (Transfer, error) {
	if item.ItemType != v2ItemTypeDeal {
		return Transfer{}, ErrNotEconomic
	}
	if item.Player == nil || item.Player.ID == "" {
		return Transfer{}, fmt.Errorf("%w: player sub-object missing", ErrMalformedItem)
	}
	if item.Value == nil {
		return Transfer{}, fmt.Errorf("%w: value missing for player %s", ErrMalformedItem, item.Player.ID)
	}
	if *item.Value < 0 {
		return Transfer{}, fmt.Errorf("%w: negative value for player %s", ErrMalformedItem, item.Player.ID)
	}

	var transferType Type
	var actor Party
	var partner string

	switch {
	case item.Seller != nil && item.Seller.ID != "":
		transferType = TypeSell
		actor = *item.Seller
		partner = PlatformCounterparty
		if item.Buyer != nil && item.Buyer.Name != "" {
			partner = item.Buyer.Name
		}
	case item.Buyer != nil && item.Buyer.ID != "":
		transferType = TypeBuy
		actor = *item.Buyer
		partner = PlatformCounterparty
	default:
		return Transfer{}, fmt.Errorf("%w: deal without seller or buyer for player %s", ErrMalformedItem, item.Player.ID)
	}

	return Transfer{
		EventID:         item.EventID,
		Date:            item.Date,
		Type:            transferType,
		ManagerID:       actor.ID,
		ManagerName:     actor.Name,
		TradePartner:    partner,
		Price:           *item.Value,
		PlayerID:        item.Player.ID,
		TeamID:          item.Player.TeamID,
		PlayerFirstName: item.Player.FirstName,
		PlayerLastName:  item.Player.LastName,
	}, nil
}

func stringOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
