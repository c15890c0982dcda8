package domain

import "time"

// PositionStatus tracks whether a position is still held or settled.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusSettled PositionStatus = "settled"
)

// Position is accumulated holdings of one token in one market. Positions are
// only ever adjusted by confirmed fills and by market resolution.
type Position struct {
	MarketID  string
	TokenID   string
	Outcome   string // OutcomeYes or OutcomeNo
	SizeUnits int64
	CostTicks int64 // total cash spent acquiring the position
	Status    PositionStatus
	// PnLTicks is realized profit, set at settlement: payout - cost.
	PnLTicks  int64
	OpenedAt  time.Time
	SettledAt *time.Time
}

// AvgPriceTicks is the volume-weighted average entry price.
func (p Position) AvgPriceTicks() int64 {
	if p.SizeUnits == 0 {
		return 0
	}
	return p.CostTicks * UnitsPerShare / p.SizeUnits
}

// PayoutTicks is the cash the position pays if its token wins resolution.
// At $1.00 per share and 1e6 units per share, payout ticks equal size units.
func (p Position) PayoutTicks() int64 {
	return Notional(TicksPerDollar, p.SizeUnits)
}
