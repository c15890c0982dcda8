package domain

import "time"

// Opportunity is an ephemeral, derived value: a currently viable YES+NO
// arbitrage spread computed from a pair of book snapshots. Opportunities are
// never persisted as live state; they are recomputed on every evaluation and
// only logged for audit after the fact.
type Opportunity struct {
	ID         string
	MarketID   string
	YesTokenID string
	NoTokenID  string

	YesAskTicks int64
	NoAskTicks  int64
	// CombinedTicks = YesAskTicks + NoAskTicks, the cost of one hedged pair.
	CombinedTicks int64
	// SizeUnits is the executable size: min of both legs' depth, already
	// capped by available capital at dispatch time.
	SizeUnits int64

	GrossPerUnitTicks int64 // 1.00 - combined, per unit
	FeePerUnitTicks   int64
	NetPerUnitTicks   int64 // gross - fee, per unit

	// Sequence numbers of the two snapshots this was computed from.
	YesSeq uint64
	NoSeq  uint64

	DetectedAt time.Time
}

// CostTicks is the capital required to take the opportunity at full size.
func (o Opportunity) CostTicks() int64 {
	return Notional(o.CombinedTicks, o.SizeUnits)
}

// NetProfitTicks is the expected locked-in profit at full size, after fees.
// It is the greedy ranking key for the scheduler.
func (o Opportunity) NetProfitTicks() int64 {
	return Notional(o.NetPerUnitTicks, o.SizeUnits)
}

// GrossProfitTicks is the expected profit at full size before fees.
func (o Opportunity) GrossProfitTicks() int64 {
	return Notional(o.GrossPerUnitTicks, o.SizeUnits)
}

// WithSize returns a copy of the opportunity clamped to the given size.
func (o Opportunity) WithSize(sizeUnits int64) Opportunity {
	if sizeUnits < o.SizeUnits {
		o.SizeUnits = sizeUnits
	}
	return o
}
