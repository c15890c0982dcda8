// Package exec drives two-leg execution attempts against the exchange
// gateway and guarantees capital and exposure are reconciled on every exit
// path.
package exec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/ledger"
)

// Config tunes the coordinator.
type Config struct {
	// LegFillTimeout is how long both legs get to fill before the attempt
	// is unwound.
	LegFillTimeout time.Duration
	// PollInterval is the order status polling cadence.
	PollInterval time.Duration
	// MaxSlippageBps bounds how far above its original limit price the
	// lagging leg may be chased, in basis points of that price.
	MaxSlippageBps int64
	// ChaseTimeout is how long a chase order gets to fill.
	ChaseTimeout time.Duration
}

// Coordinator runs execution attempts. At most one attempt is active per
// market; Dispatch rejects a second with ErrAttemptActive and the caller
// keeps its reservation to release. Every accepted attempt ends with its
// reservation fully consumed or released, whatever the venue does.
type Coordinator struct {
	cfg     Config
	logger  *slog.Logger
	gateway domain.ExchangeGateway
	ledger  *ledger.Ledger
	bus     domain.EventBus

	// attempts and positions are optional persistence sinks.
	attempts  domain.AttemptStore
	positions domain.PositionStore

	mu     sync.Mutex
	active map[string]string // market id -> attempt id
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. bus, attempts, and positions may be
// nil.
func NewCoordinator(cfg Config, logger *slog.Logger, gw domain.ExchangeGateway, led *ledger.Ledger, bus domain.EventBus, attempts domain.AttemptStore, positions domain.PositionStore) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "exec")),
		gateway:   gw,
		ledger:    led,
		bus:       bus,
		attempts:  attempts,
		positions: positions,
		active:    make(map[string]string),
	}
}

// Active reports whether an attempt is currently running for the market.
func (c *Coordinator) Active(marketID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[marketID]
	return ok
}

// Dispatch starts an attempt for the opportunity. The reservation must
// already cover the opportunity's cost; ownership of it transfers to the
// coordinator unless ErrAttemptActive is returned.
func (c *Coordinator) Dispatch(ctx context.Context, opp domain.Opportunity, reservationID string) error {
	a := &domain.Attempt{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		ReservationID: reservationID,
		State:         domain.AttemptPending,
		Yes: domain.AttemptLeg{
			Outcome:    domain.OutcomeYes,
			TokenID:    opp.YesTokenID,
			PriceTicks: opp.YesAskTicks,
			SizeUnits:  opp.SizeUnits,
			Status:     domain.OrderStatusOpen,
		},
		No: domain.AttemptLeg{
			Outcome:    domain.OutcomeNo,
			TokenID:    opp.NoTokenID,
			PriceTicks: opp.NoAskTicks,
			SizeUnits:  opp.SizeUnits,
			Status:     domain.OrderStatusOpen,
		},
		StartedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	if _, busy := c.active[opp.MarketID]; busy {
		c.mu.Unlock()
		return domain.ErrAttemptActive
	}
	c.active[opp.MarketID] = a.ID
	c.mu.Unlock()

	if c.attempts != nil {
		if err := c.attempts.Create(ctx, *a); err != nil {
			c.logger.Warn("persist attempt", slog.String("attempt_id", a.ID), slog.Any("error", err))
		}
	}

	c.wg.Add(1)
	go c.run(ctx, a, opp)
	return nil
}

// Wait blocks until every in-flight attempt has resolved. Called on
// shutdown after the parent context is cancelled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, a *domain.Attempt, opp domain.Opportunity) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.active, a.MarketID)
		c.mu.Unlock()
	}()

	logger := c.logger.With(
		slog.String("attempt_id", a.ID),
		slog.String("market_id", a.MarketID))
	logger.Info("attempt started",
		slog.String("combined", domain.Dollars(opp.CombinedTicks)),
		slog.String("size", domain.Dollars(opp.SizeUnits)),
		slog.String("expected_profit", domain.Dollars(opp.NetProfitTicks())))

	// Submit both legs. Placement is never retried: an opportunity priced a
	// moment ago is not worth chasing through a flaky submit path.
	if err := c.placeLeg(ctx, &a.Yes); err != nil {
		logger.Warn("yes leg rejected", slog.Any("error", err))
		a.State = domain.AttemptFailed
		c.resolve(ctx, a, opp, domain.OutcomeRejected, logger)
		return
	}
	if err := c.placeLeg(ctx, &a.No); err != nil {
		logger.Warn("no leg rejected after yes placed", slog.Any("error", err))
		// The YES order is live with nothing hedging it: pull it and settle
		// whatever filled in the meantime.
		c.cancelLeg(&a.Yes, logger)
		c.refreshLegs(a, logger)
		c.classify(a)
		if a.State == domain.AttemptBothFilled || a.Yes.FilledSizeUnits > 0 {
			c.handlePartial(ctx, a, opp, logger)
			return
		}
		a.State = domain.AttemptFailed
		c.resolve(ctx, a, opp, domain.OutcomeRejected, logger)
		return
	}
	a.State = domain.AttemptLegsSubmitted
	c.persist(ctx, a)

	interrupted := c.pollUntilFilled(ctx, a, logger)
	if interrupted {
		c.unwindOnShutdown(a, opp, logger)
		return
	}

	c.classify(a)
	switch a.State {
	case domain.AttemptBothFilled:
		c.resolve(ctx, a, opp, domain.OutcomeHedged, logger)
	case domain.AttemptPartialYesOnly, domain.AttemptPartialNoOnly:
		c.cancelOutstanding(a, logger)
		c.refreshLegs(a, logger)
		c.classify(a)
		if a.State == domain.AttemptBothFilled {
			// The cancel lost the race: the lagging leg completed.
			c.resolve(ctx, a, opp, domain.OutcomeHedged, logger)
			return
		}
		c.handlePartial(ctx, a, opp, logger)
	default:
		// Nothing filled before the deadline.
		c.cancelOutstanding(a, logger)
		c.refreshLegs(a, logger)
		c.classify(a)
		if a.State != domain.AttemptPending && a.State != domain.AttemptLegsSubmitted {
			// A late fill surfaced during cancellation.
			if a.State == domain.AttemptBothFilled {
				c.resolve(ctx, a, opp, domain.OutcomeHedged, logger)
			} else {
				c.handlePartial(ctx, a, opp, logger)
			}
			return
		}
		a.State = domain.AttemptFailed
		c.resolve(ctx, a, opp, domain.OutcomeAbandoned, logger)
	}
}

func (c *Coordinator) placeLeg(ctx context.Context, leg *domain.AttemptLeg) error {
	id, err := c.gateway.PlaceOrder(ctx, domain.OrderRequest{
		TokenID:    leg.TokenID,
		Side:       domain.OrderSideBuy,
		PriceTicks: leg.PriceTicks,
		SizeUnits:  leg.SizeUnits,
	})
	if err != nil {
		leg.Status = domain.OrderStatusRejected
		return err
	}
	leg.OrderID = id
	return nil
}

// pollUntilFilled polls both legs until they terminate or the fill deadline
// passes. It returns true when ctx was cancelled mid-flight.
func (c *Coordinator) pollUntilFilled(ctx context.Context, a *domain.Attempt, logger *slog.Logger) bool {
	deadline := time.Now().Add(c.cfg.LegFillTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
		c.refreshLegs(a, logger)
		if legDone(a.Yes) && legDone(a.No) {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

// refreshLegs pulls current order state for both legs. Poll errors are
// logged and the previous state kept; the fill deadline bounds how long we
// keep flying blind.
func (c *Coordinator) refreshLegs(a *domain.Attempt, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, leg := range []*domain.AttemptLeg{&a.Yes, &a.No} {
		if leg.OrderID == "" {
			continue
		}
		st, err := c.gateway.OrderStatus(ctx, leg.OrderID)
		if err != nil {
			logger.Warn("order status poll failed",
				slog.String("order_id", leg.OrderID), slog.Any("error", err))
			continue
		}
		leg.Status = st.Status
		leg.FilledSizeUnits = st.FilledSizeUnits
		if st.FilledPriceTicks > 0 {
			leg.FilledPriceTicks = st.FilledPriceTicks
		}
	}
}

func legFilled(leg domain.AttemptLeg) bool {
	return leg.FilledSizeUnits >= leg.SizeUnits
}

func legDone(leg domain.AttemptLeg) bool {
	return legFilled(leg) || leg.Status.Terminal()
}

// classify maps current leg fill state onto the attempt state machine.
func (c *Coordinator) classify(a *domain.Attempt) {
	yes, no := legFilled(a.Yes), legFilled(a.No)
	switch {
	case yes && no:
		a.State = domain.AttemptBothFilled
	case a.Yes.FilledSizeUnits > a.No.FilledSizeUnits:
		a.State = domain.AttemptPartialYesOnly
	case a.No.FilledSizeUnits > a.Yes.FilledSizeUnits:
		a.State = domain.AttemptPartialNoOnly
	case a.Yes.FilledSizeUnits > 0:
		// Equal partial fills on both legs: hedged at the smaller size.
		a.State = domain.AttemptBothFilled
	}
}

func (c *Coordinator) cancelOutstanding(a *domain.Attempt, logger *slog.Logger) {
	for _, leg := range []*domain.AttemptLeg{&a.Yes, &a.No} {
		if !legDone(*leg) {
			c.cancelLeg(leg, logger)
		}
	}
}

func (c *Coordinator) cancelLeg(leg *domain.AttemptLeg, logger *slog.Logger) {
	if leg.OrderID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.gateway.CancelOrder(ctx, leg.OrderID)
	if err != nil && !errors.Is(err, domain.ErrAlreadyFilled) {
		logger.Warn("cancel order failed",
			slog.String("order_id", leg.OrderID), slog.Any("error", err))
	}
}

// handlePartial remediates an attempt with one-sided fills: chase the
// deficit leg within the slippage bound, and escalate if exposure remains.
func (c *Coordinator) handlePartial(ctx context.Context, a *domain.Attempt, opp domain.Opportunity, logger *slog.Logger) {
	lead, lag := &a.Yes, &a.No
	if a.No.FilledSizeUnits > a.Yes.FilledSizeUnits {
		lead, lag = &a.No, &a.Yes
	}
	deficit := lead.FilledSizeUnits - lag.FilledSizeUnits
	logger.Warn("one-sided fill, chasing lagging leg",
		slog.String("lead", lead.Outcome),
		slog.String("deficit", domain.Dollars(deficit)))

	if c.chase(a, lag, deficit, logger) {
		c.resolve(ctx, a, opp, domain.OutcomeHedgedChased, logger)
		return
	}

	a.State = domain.AttemptFailed
	c.resolve(ctx, a, opp, domain.OutcomeUnhedged, logger)
}

// chase re-bids the lagging leg at the current ask for the deficit size,
// bounded by the slippage limit. Returns true when the deficit was fully
// covered. The chase runs on its own timeout so shutdown still completes it;
// leaving naked exposure is worse than a slow exit.
func (c *Coordinator) chase(a *domain.Attempt, lag *domain.AttemptLeg, deficit int64, logger *slog.Logger) bool {
	if c.cfg.MaxSlippageBps <= 0 || deficit <= 0 {
		return false
	}
	maxPrice := lag.PriceTicks + domain.FeeOn(lag.PriceTicks, c.cfg.MaxSlippageBps)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ChaseTimeout)
	defer cancel()

	snap, err := c.gateway.FetchBook(ctx, lag.TokenID)
	if err != nil {
		logger.Warn("chase reprice failed", slog.Any("error", err))
		return false
	}
	if snap.AskTicks <= 0 || snap.AskTicks > maxPrice {
		logger.Warn("chase abandoned, ask beyond slippage bound",
			slog.String("ask", domain.Dollars(snap.AskTicks)),
			slog.String("max", domain.Dollars(maxPrice)))
		return false
	}

	orderID, err := c.gateway.PlaceOrder(ctx, domain.OrderRequest{
		TokenID:    lag.TokenID,
		Side:       domain.OrderSideBuy,
		PriceTicks: snap.AskTicks,
		SizeUnits:  deficit,
	})
	if err != nil {
		logger.Warn("chase order rejected", slog.Any("error", err))
		return false
	}
	lag.ChaseOrderID = orderID

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.cancelChase(orderID, logger)
			c.applyChaseFill(ctx, lag, orderID, snap.AskTicks, logger)
			return false
		case <-ticker.C:
		}
		st, err := c.gateway.OrderStatus(ctx, orderID)
		if err != nil {
			logger.Warn("chase status poll failed", slog.Any("error", err))
			continue
		}
		if st.FilledSizeUnits >= deficit {
			c.mergeChaseFill(lag, st, snap.AskTicks)
			return true
		}
		if st.Status.Terminal() {
			c.mergeChaseFill(lag, st, snap.AskTicks)
			return false
		}
	}
}

func (c *Coordinator) cancelChase(orderID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.gateway.CancelOrder(ctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrAlreadyFilled) {
		logger.Warn("cancel chase order failed", slog.Any("error", err))
	}
}

func (c *Coordinator) applyChaseFill(_ context.Context, lag *domain.AttemptLeg, orderID string, price int64, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.gateway.OrderStatus(ctx, orderID)
	if err != nil {
		logger.Warn("chase final status failed", slog.Any("error", err))
		return
	}
	c.mergeChaseFill(lag, st, price)
}

// mergeChaseFill folds a chase order's fills into the leg, tracking the
// blended average fill price.
func (c *Coordinator) mergeChaseFill(lag *domain.AttemptLeg, st domain.OrderState, price int64) {
	if st.FilledSizeUnits <= 0 {
		return
	}
	fillPrice := st.FilledPriceTicks
	if fillPrice == 0 {
		fillPrice = price
	}
	prevCost := domain.Notional(lag.FilledPriceTicks, lag.FilledSizeUnits)
	addCost := domain.Notional(fillPrice, st.FilledSizeUnits)
	lag.FilledSizeUnits += st.FilledSizeUnits
	lag.FilledPriceTicks = (prevCost + addCost) * domain.UnitsPerShare / lag.FilledSizeUnits
}

// unwindOnShutdown handles a context-cancelled attempt: pull open orders,
// settle whatever filled, and release the rest.
func (c *Coordinator) unwindOnShutdown(a *domain.Attempt, opp domain.Opportunity, logger *slog.Logger) {
	logger.Info("shutdown during attempt, unwinding")
	c.cancelOutstanding(a, logger)
	c.refreshLegs(a, logger)
	c.classify(a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.State == domain.AttemptBothFilled {
		c.resolve(ctx, a, opp, domain.OutcomeHedged, logger)
		return
	}
	if a.Yes.FilledSizeUnits > 0 || a.No.FilledSizeUnits > 0 {
		// No chase on shutdown: record and alert the exposure.
		a.State = domain.AttemptFailed
		c.resolve(ctx, a, opp, domain.OutcomeUnhedged, logger)
		return
	}
	a.State = domain.AttemptFailed
	c.resolve(ctx, a, opp, domain.OutcomeCancelled, logger)
}

// resolve commits fills to the ledger, releases the reservation remainder,
// persists and publishes the terminal attempt, and escalates unhedged
// exposure.
func (c *Coordinator) resolve(ctx context.Context, a *domain.Attempt, opp domain.Opportunity, outcome domain.AttemptOutcome, logger *slog.Logger) {
	for _, leg := range []*domain.AttemptLeg{&a.Yes, &a.No} {
		if leg.FilledSizeUnits <= 0 {
			continue
		}
		err := c.ledger.CommitToPosition(ctx, a.ReservationID, a.MarketID, leg.TokenID,
			leg.Outcome, leg.FilledSizeUnits, leg.FilledPriceTicks)
		if err != nil {
			logger.Error("commit fill to ledger", slog.Any("error", err))
		}
		c.persistPosition(ctx, a.MarketID, leg, logger)
	}
	if err := c.ledger.Release(ctx, a.ReservationID); err != nil {
		logger.Error("release reservation", slog.Any("error", err))
	}

	a.Outcome = outcome
	a.ProfitTicks = markedProfitTicks(a, opp)
	now := time.Now().UTC()
	a.ResolvedAt = &now
	prior := a.State
	a.State = domain.AttemptResolved
	c.persist(ctx, a)

	logger.Info("attempt resolved",
		slog.String("outcome", string(outcome)),
		slog.String("profit", domain.Dollars(a.ProfitTicks)))

	fields := map[string]any{
		"attempt_id":     a.ID,
		"opportunity_id": a.OpportunityID,
		"market_id":      a.MarketID,
		"outcome":        string(outcome),
		"state":          string(prior),
		"profit":         domain.Dollars(a.ProfitTicks),
		"yes_filled":     domain.Dollars(a.Yes.FilledSizeUnits),
		"no_filled":      domain.Dollars(a.No.FilledSizeUnits),
	}
	if err := domain.PublishEvent(ctx, c.bus, domain.EventExecutionResolved, fields); err != nil {
		logger.Warn("publish execution resolved", slog.Any("error", err))
	}

	if outcome == domain.OutcomeUnhedged {
		exposure := a.Yes.FilledSizeUnits - a.No.FilledSizeUnits
		side := domain.OutcomeYes
		if exposure < 0 {
			exposure, side = -exposure, domain.OutcomeNo
		}
		alert := map[string]any{
			"attempt_id": a.ID,
			"market_id":  a.MarketID,
			"side":       side,
			"exposure":   domain.Dollars(exposure),
		}
		if err := domain.PublishEvent(ctx, c.bus, domain.EventUnhedgedPosition, alert); err != nil {
			logger.Error("publish unhedged position alert", slog.Any("error", err))
		}
	}
}

func (c *Coordinator) persist(ctx context.Context, a *domain.Attempt) {
	if c.attempts == nil {
		return
	}
	if err := c.attempts.Update(ctx, *a); err != nil {
		c.logger.Warn("persist attempt", slog.String("attempt_id", a.ID), slog.Any("error", err))
	}
}

func (c *Coordinator) persistPosition(ctx context.Context, marketID string, leg *domain.AttemptLeg, logger *slog.Logger) {
	if c.positions == nil {
		return
	}
	pos, ok := c.ledger.Position(marketID, leg.TokenID)
	if !ok {
		return
	}
	if err := c.positions.Upsert(ctx, pos); err != nil {
		logger.Warn("persist position", slog.Any("error", err))
	}
}

// markedProfitTicks values the attempt conservatively: the hedged portion is
// worth $1.00 per share at resolution, any one-sided remainder is marked to
// zero, and all fill costs are deducted.
func markedProfitTicks(a *domain.Attempt, opp domain.Opportunity) int64 {
	hedged := min(a.Yes.FilledSizeUnits, a.No.FilledSizeUnits)
	payout := domain.Notional(domain.TicksPerDollar, hedged)
	cost := domain.Notional(a.Yes.FilledPriceTicks, a.Yes.FilledSizeUnits) +
		domain.Notional(a.No.FilledPriceTicks, a.No.FilledSizeUnits)
	fee := domain.Notional(opp.FeePerUnitTicks, hedged)
	return payout - cost - fee
}
