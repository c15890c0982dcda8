// Package ledger tracks trading capital: available cash, per-attempt
// reservations, and position cost, under one accounting invariant.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/karb/internal/domain"
)

// Config tunes the ledger.
type Config struct {
	// BankrollTicks is the starting cash balance.
	BankrollTicks int64
	// MaxFractionPerTradeBps caps any single reservation at this fraction of
	// total equity, in basis points. Zero means no cap.
	MaxFractionPerTradeBps int64
}

// Ledger is the single source of truth for capital. Every mutation happens
// under one mutex and is followed by an invariant check:
//
//	available + sum(reservations) + positionCost == equity
//
// On a violation the ledger halts: all further reservations fail with
// ErrTradingHalted until the process is restarted and reconciled.
type Ledger struct {
	cfg    Config
	logger *slog.Logger
	bus    domain.EventBus

	mu             sync.Mutex
	availableTicks int64
	reservations   map[string]int64
	// positions is keyed by marketID + "/" + tokenID.
	positions         map[string]*domain.Position
	positionCostTicks int64
	equityTicks       int64
	halted            bool
}

// New creates a ledger funded with the configured bankroll. The bus may be
// nil; ledger_violation events are then only logged.
func New(cfg Config, logger *slog.Logger, bus domain.EventBus) *Ledger {
	return &Ledger{
		cfg:            cfg,
		logger:         logger.With(slog.String("component", "ledger")),
		bus:            bus,
		availableTicks: cfg.BankrollTicks,
		reservations:   make(map[string]int64),
		positions:      make(map[string]*domain.Position),
		equityTicks:    cfg.BankrollTicks,
	}
}

func positionKey(marketID, tokenID string) string {
	return marketID + "/" + tokenID
}

// AvailableTicks returns the cash not locked by reservations or positions.
func (l *Ledger) AvailableTicks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableTicks
}

// EquityTicks returns total capital: cash plus reservations plus position
// cost.
func (l *Ledger) EquityTicks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equityTicks
}

// Halted reports whether a ledger violation has stopped trading.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// MaxReservationTicks returns the largest single reservation currently
// permitted: available cash, further capped by the per-trade equity fraction.
func (l *Ledger) MaxReservationTicks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxReservationLocked()
}

func (l *Ledger) maxReservationLocked() int64 {
	limit := l.availableTicks
	if l.cfg.MaxFractionPerTradeBps > 0 {
		byFraction := l.equityTicks * l.cfg.MaxFractionPerTradeBps / 10_000
		if byFraction < limit {
			limit = byFraction
		}
	}
	return limit
}

// Reserve locks amountTicks of cash for an execution attempt and returns a
// reservation id. It fails with ErrInsufficientCapital when the amount
// exceeds the current reservation cap, and with ErrTradingHalted after a
// ledger violation.
func (l *Ledger) Reserve(ctx context.Context, amountTicks int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return "", domain.ErrTradingHalted
	}
	if amountTicks <= 0 || amountTicks > l.maxReservationLocked() {
		return "", domain.ErrInsufficientCapital
	}
	id := uuid.NewString()
	l.availableTicks -= amountTicks
	l.reservations[id] = amountTicks
	err := l.checkInvariantLocked(ctx, "reserve")
	if err != nil {
		return "", err
	}
	l.logger.Debug("reserved capital",
		slog.String("reservation_id", id),
		slog.String("amount", domain.Dollars(amountTicks)))
	return id, nil
}

// Release returns the remaining balance of a reservation to available cash.
// Releasing an unknown or already-released reservation is a no-op, so the
// coordinator can release unconditionally on every exit path.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, ok := l.reservations[reservationID]
	if !ok {
		return nil
	}
	delete(l.reservations, reservationID)
	l.availableTicks += amount
	return l.checkInvariantLocked(ctx, "release")
}

// CommitToPosition converts part of a reservation into position cost after a
// confirmed fill. The fill's notional is deducted from the reservation and
// added to the market/token position; the remainder stays reserved until
// Release.
func (l *Ledger) CommitToPosition(ctx context.Context, reservationID, marketID, tokenID, outcome string, filledSizeUnits, filledPriceTicks int64) error {
	if filledSizeUnits <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cost := domain.Notional(filledPriceTicks, filledSizeUnits)
	remaining, ok := l.reservations[reservationID]
	if !ok || cost > remaining {
		// A fill costing more than was reserved means accounting has
		// diverged from the venue.
		return l.violateLocked(ctx, "commit_exceeds_reservation", map[string]any{
			"reservation_id": reservationID,
			"cost":           domain.Dollars(cost),
			"remaining":      domain.Dollars(remaining),
		})
	}
	if remaining == cost {
		delete(l.reservations, reservationID)
	} else {
		l.reservations[reservationID] = remaining - cost
	}

	key := positionKey(marketID, tokenID)
	pos, ok := l.positions[key]
	if !ok {
		pos = &domain.Position{
			MarketID: marketID,
			TokenID:  tokenID,
			Outcome:  outcome,
			Status:   domain.PositionStatusOpen,
			OpenedAt: time.Now().UTC(),
		}
		l.positions[key] = pos
	}
	pos.SizeUnits += filledSizeUnits
	pos.CostTicks += cost
	l.positionCostTicks += cost
	return l.checkInvariantLocked(ctx, "commit")
}

// OpenPositions returns a copy of every open position.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Position returns the open position for a market/token, if any.
func (l *Ledger) Position(marketID, tokenID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[positionKey(marketID, tokenID)]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// SettleMarket settles every open position in a resolved market. Winning
// tokens pay $1.00 per share into available cash; losing tokens pay nothing.
// Realized PnL adjusts equity. Returns the settled positions with PnL set.
func (l *Ledger) SettleMarket(ctx context.Context, marketID, winnerTokenID string) ([]domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	var settled []domain.Position
	for key, pos := range l.positions {
		if pos.MarketID != marketID {
			continue
		}
		var payout int64
		if pos.TokenID == winnerTokenID {
			payout = pos.PayoutTicks()
		}
		pnl := payout - pos.CostTicks
		l.positionCostTicks -= pos.CostTicks
		l.availableTicks += payout
		l.equityTicks += pnl

		pos.Status = domain.PositionStatusSettled
		pos.PnLTicks = pnl
		pos.SettledAt = &now
		settled = append(settled, *pos)
		delete(l.positions, key)

		l.logger.Info("position settled",
			slog.String("market_id", marketID),
			slog.String("token_id", pos.TokenID),
			slog.String("pnl", domain.Dollars(pnl)))
	}
	if err := l.checkInvariantLocked(ctx, "settle"); err != nil {
		return settled, err
	}
	return settled, nil
}

// checkInvariantLocked verifies available + reservations + positionCost ==
// equity. On a mismatch it halts the ledger and emits a ledger_violation
// event. Callers must hold l.mu.
func (l *Ledger) checkInvariantLocked(ctx context.Context, op string) error {
	var reserved int64
	for _, amt := range l.reservations {
		reserved += amt
	}
	sum := l.availableTicks + reserved + l.positionCostTicks
	if sum == l.equityTicks {
		return nil
	}
	return l.violateLocked(ctx, op, map[string]any{
		"available":     domain.Dollars(l.availableTicks),
		"reserved":      domain.Dollars(reserved),
		"position_cost": domain.Dollars(l.positionCostTicks),
		"equity":        domain.Dollars(l.equityTicks),
	})
}

func (l *Ledger) violateLocked(ctx context.Context, op string, fields map[string]any) error {
	l.halted = true
	l.logger.Error("ledger invariant violated, trading halted", slog.String("op", op))
	fields["op"] = op
	if err := domain.PublishEvent(ctx, l.bus, domain.EventLedgerViolation, fields); err != nil {
		l.logger.Error("publish ledger violation", slog.Any("error", err))
	}
	return domain.ErrLedgerInvariant
}
