package domain

import "time"

// AttemptState is the execution state machine for one two-leg attempt.
//
// Pending -> LegsSubmitted -> BothFilled | PartialYesOnly | PartialNoOnly | Failed
// and every branch terminates in Resolved.
type AttemptState string

const (
	AttemptPending        AttemptState = "pending"
	AttemptLegsSubmitted  AttemptState = "legs_submitted"
	AttemptBothFilled     AttemptState = "both_filled"
	AttemptPartialYesOnly AttemptState = "partial_yes_only"
	AttemptPartialNoOnly  AttemptState = "partial_no_only"
	AttemptFailed         AttemptState = "failed"
	AttemptResolved       AttemptState = "resolved"
)

// AttemptOutcome summarizes how a resolved attempt ended.
type AttemptOutcome string

const (
	// OutcomeHedged: both legs filled, profit locked in.
	OutcomeHedged AttemptOutcome = "hedged"
	// OutcomeHedgedChased: hedged, but the lagging leg needed a slippage chase.
	OutcomeHedgedChased AttemptOutcome = "hedged_chased"
	// OutcomeAbandoned: neither leg filled; both cancelled, no exposure.
	OutcomeAbandoned AttemptOutcome = "abandoned"
	// OutcomeUnhedged: one leg filled and remediation failed; directional
	// exposure remains and has been escalated.
	OutcomeUnhedged AttemptOutcome = "unhedged"
	// OutcomeRejected: the venue rejected a leg before any fill.
	OutcomeRejected AttemptOutcome = "rejected"
	// OutcomeCancelled: externally cancelled (e.g. shutdown) before resolution.
	OutcomeCancelled AttemptOutcome = "cancelled"
)

// AttemptLeg is one side of a two-leg execution attempt.
type AttemptLeg struct {
	Outcome          string // OutcomeYes or OutcomeNo
	TokenID          string
	OrderID          string
	PriceTicks       int64 // submitted limit price
	SizeUnits        int64 // target size
	FilledSizeUnits  int64
	FilledPriceTicks int64
	Status           OrderStatus
	// ChaseOrderID is set when the leg was re-bid at a worse price.
	ChaseOrderID string
}

// Attempt is one execution attempt for a detected opportunity. Exactly one
// attempt may be active per market at a time; the coordinator's registry
// enforces that.
type Attempt struct {
	ID            string
	OpportunityID string
	MarketID      string
	ReservationID string
	State         AttemptState
	Outcome       AttemptOutcome
	Yes           AttemptLeg
	No            AttemptLeg
	// ProfitTicks is the realized net profit once resolved (negative when
	// the attempt ended unhedged and is marked to cost).
	ProfitTicks int64
	StartedAt   time.Time
	ResolvedAt  *time.Time
}

// Leg returns the leg for the given outcome name.
func (a *Attempt) Leg(outcome string) *AttemptLeg {
	if outcome == OutcomeYes {
		return &a.Yes
	}
	return &a.No
}
