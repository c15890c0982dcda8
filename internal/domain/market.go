package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusHalted   MarketStatus = "halted"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is a binary-outcome prediction market: one YES token and one NO
// token that together always pay out exactly $1.00 at resolution.
type Market struct {
	ID         string
	Question   string
	Slug       string
	YesTokenID string
	NoTokenID  string
	TickSize   int64 // minimum price increment, in ticks
	FeeBps     int64 // taker fee in basis points of notional
	NegRisk    bool
	Status     MarketStatus
	// WinnerTokenID is set once the market resolves.
	WinnerTokenID string
	UpdatedAt     time.Time
}

// Active reports whether the market should still be evaluated for trading.
func (m Market) Active() bool {
	return m.Status == MarketStatusActive
}

// TokenFor maps an outcome name ("yes"/"no") to its token id.
func (m Market) TokenFor(outcome string) string {
	if outcome == OutcomeYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// Outcome names used on attempt legs and positions.
const (
	OutcomeYes = "yes"
	OutcomeNo  = "no"
)
