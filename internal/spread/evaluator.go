// Package spread computes YES+NO arbitrage viability from book snapshots.
package spread

import (
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/karb/internal/domain"
)

// Skip reasons returned by Evaluate when no viable opportunity exists. They
// label opportunity_missed events and scan-mode output.
const (
	SkipMarketInactive = "market_inactive"
	SkipUnknownBook    = "unknown_book"
	SkipStaleBook      = "stale_book"
	SkipNoDepth        = "no_depth"
	SkipNoEdge         = "no_edge"
	SkipBelowMinProfit = "below_min_profit"
)

// Config tunes the evaluator.
type Config struct {
	// MinProfitTicks is the profit floor per unit, after fees. Net profit
	// must strictly exceed it; a spread netting exactly the floor is
	// skipped.
	MinProfitTicks int64
	// StalenessWindow bounds how old a snapshot may be before the spread is
	// considered unverifiable. Zero disables the age check.
	StalenessWindow time.Duration
}

// Evaluator is a pure spread calculator. It holds no market state and is
// safe to call from any goroutine.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator with the given thresholds.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate computes whether buying both sides of the market at their current
// best asks locks in a profit. The returned skip reason is empty when the
// opportunity is viable; otherwise it names why the spread was passed over.
//
// Size is the minimum of both legs' displayed depth. The caller caps it
// further by available capital before dispatch.
func (e *Evaluator) Evaluate(m domain.Market, yes, no domain.BookSnapshot, now time.Time) (domain.Opportunity, string) {
	if !m.Active() {
		return domain.Opportunity{}, SkipMarketInactive
	}
	if !yes.Known() || !no.Known() {
		return domain.Opportunity{}, SkipUnknownBook
	}
	if e.cfg.StalenessWindow > 0 {
		cutoff := now.Add(-e.cfg.StalenessWindow)
		if yes.At.Before(cutoff) || no.At.Before(cutoff) {
			return domain.Opportunity{}, SkipStaleBook
		}
	}
	if yes.AskTicks <= 0 || no.AskTicks <= 0 {
		return domain.Opportunity{}, SkipNoDepth
	}
	size := min(yes.AskSizeUnits, no.AskSizeUnits)
	if size <= 0 {
		return domain.Opportunity{}, SkipNoDepth
	}

	combined := yes.AskTicks + no.AskTicks
	gross := domain.TicksPerDollar - combined
	if gross <= 0 {
		return domain.Opportunity{}, SkipNoEdge
	}
	fee := domain.FeeOn(combined, m.FeeBps)
	net := gross - fee
	if net <= e.cfg.MinProfitTicks {
		return domain.Opportunity{}, SkipBelowMinProfit
	}

	return domain.Opportunity{
		ID:                uuid.NewString(),
		MarketID:          m.ID,
		YesTokenID:        m.YesTokenID,
		NoTokenID:         m.NoTokenID,
		YesAskTicks:       yes.AskTicks,
		NoAskTicks:        no.AskTicks,
		CombinedTicks:     combined,
		SizeUnits:         size,
		GrossPerUnitTicks: gross,
		FeePerUnitTicks:   fee,
		NetPerUnitTicks:   net,
		YesSeq:            yes.Seq,
		NoSeq:             no.Seq,
		DetectedAt:        now,
	}, ""
}
