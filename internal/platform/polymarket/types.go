package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/karb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false"); the Gamma
// API sends both depending on endpoint.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// apiMarket is a market row from the Gamma API.
type apiMarket struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	ConditionID     string     `json:"condition_id"`
	Slug            string     `json:"slug"`
	Active          flexBool   `json:"active"`
	Closed          bool       `json:"closed"`
	AcceptingOrders bool       `json:"accepting_orders"`
	EnableOrderBook bool       `json:"enable_order_book"`
	NegRisk         bool       `json:"neg_risk"`
	Tokens          []apiToken `json:"tokens"`
	// ClobTokenIDs is a JSON-encoded string array, e.g. "[\"123\",\"456\"]".
	ClobTokenIDs string `json:"clob_token_ids"`
	MinTickSize  string `json:"minimum_tick_size"`
	MakerFeeBps  int64  `json:"maker_base_fee"`
	TakerFeeBps  int64  `json:"taker_base_fee"`
	UpdatedAt    string `json:"updated_at"`
}

// apiToken is one outcome token inside a CLOB or Gamma market payload.
type apiToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// toDomain converts the market, returning false when it is not a tradable
// binary YES/NO market (missing tokens, order book disabled).
func (m *apiMarket) toDomain() (domain.Market, bool) {
	dm := domain.Market{
		ID:       m.ID,
		Question: m.Question,
		Slug:     m.Slug,
		FeeBps:   m.TakerFeeBps,
		NegRisk:  m.NegRisk,
	}
	switch {
	case m.Closed:
		dm.Status = domain.MarketStatusResolved
	case bool(m.Active) && m.AcceptingOrders:
		dm.Status = domain.MarketStatusActive
	default:
		dm.Status = domain.MarketStatusHalted
	}

	for _, tok := range m.Tokens {
		switch strings.ToLower(tok.Outcome) {
		case domain.OutcomeYes:
			dm.YesTokenID = tok.TokenID
		case domain.OutcomeNo:
			dm.NoTokenID = tok.TokenID
		}
		if tok.Winner {
			dm.WinnerTokenID = tok.TokenID
		}
	}
	// Fall back to the raw token id pair, ordered [yes, no].
	if dm.YesTokenID == "" && m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil && len(ids) == 2 {
			dm.YesTokenID, dm.NoTokenID = ids[0], ids[1]
		}
	}

	if m.MinTickSize != "" {
		if ticks, err := domain.TicksFromString(m.MinTickSize); err == nil {
			dm.TickSize = ticks
		}
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}

	ok := dm.YesTokenID != "" && dm.NoTokenID != ""
	return dm, ok
}

// apiOrderResult is the CLOB response to order placement.
type apiOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// apiOrder is an order as reported by the CLOB data API.
type apiOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// toState maps the venue order onto the engine's order state. The venue
// reports live orders with partial matches as still "live".
func (o *apiOrder) toState() (domain.OrderState, error) {
	matched, err := domain.UnitsFromString(zeroIfEmpty(o.SizeMatched))
	if err != nil {
		return domain.OrderState{}, err
	}
	original, err := domain.UnitsFromString(zeroIfEmpty(o.OriginalSize))
	if err != nil {
		return domain.OrderState{}, err
	}
	price, err := domain.TicksFromString(zeroIfEmpty(o.Price))
	if err != nil {
		return domain.OrderState{}, err
	}

	st := domain.OrderState{FilledSizeUnits: matched}
	if matched > 0 {
		st.FilledPriceTicks = price
	}
	switch strings.ToLower(o.Status) {
	case "matched", "filled":
		st.Status = domain.OrderStatusFilled
		if st.FilledSizeUnits == 0 {
			st.FilledSizeUnits = original
		}
	case "cancelled", "canceled":
		st.Status = domain.OrderStatusCancelled
	case "rejected":
		st.Status = domain.OrderStatusRejected
	default:
		if matched > 0 && matched >= original {
			st.Status = domain.OrderStatusFilled
		} else if matched > 0 {
			st.Status = domain.OrderStatusPartiallyFilled
		} else {
			st.Status = domain.OrderStatusOpen
		}
	}
	return st, nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// apiBook is the REST order book response.
type apiBook struct {
	AssetID   string          `json:"asset_id"`
	Bids      []apiPriceLevel `json:"bids"`
	Asks      []apiPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
}

type apiPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsBookMessage is the "book" frame on the market WebSocket.
type wsBookMessage struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Bids      []apiPriceLevel `json:"bids"`
	Asks      []apiPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
}

// wsSubscribe is the subscription command for the market channel.
type wsSubscribe struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

// bookUpdate converts levels into the domain update. Venue asks arrive
// unsorted; best ask is the lowest price, best bid the highest. The venue's
// millisecond timestamp doubles as the monotonic sequence.
func bookUpdate(assetID string, bids, asks []apiPriceLevel, timestamp string) (domain.BookUpdate, error) {
	u := domain.BookUpdate{TokenID: assetID}

	for _, lvl := range bids {
		price, err := domain.TicksFromString(lvl.Price)
		if err != nil {
			return u, err
		}
		size, err := domain.UnitsFromString(lvl.Size)
		if err != nil {
			return u, err
		}
		if price > u.BidTicks {
			u.BidTicks, u.BidSizeUnits = price, size
		}
	}
	for _, lvl := range asks {
		price, err := domain.TicksFromString(lvl.Price)
		if err != nil {
			return u, err
		}
		size, err := domain.UnitsFromString(lvl.Size)
		if err != nil {
			return u, err
		}
		u.Asks = append(u.Asks, domain.BookLevel{PriceTicks: price, SizeUnits: size})
		if u.AskTicks == 0 || price < u.AskTicks {
			u.AskTicks, u.AskSizeUnits = price, size
		}
	}

	if ms, ok := parseMillis(timestamp); ok {
		u.Seq = uint64(ms)
		u.At = time.UnixMilli(ms)
	} else {
		u.At = time.Now()
		u.Seq = uint64(u.At.UnixMilli())
	}
	return u, nil
}

func parseMillis(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return 0, false
	}
	return d.IntPart(), true
}
