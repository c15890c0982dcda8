// Package redeem sweeps open positions in resolved markets back into cash.
package redeem

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/ledger"
)

// Settler periodically checks every market with open positions against the
// venue's resolution state and settles the ledger when a winner is known.
type Settler struct {
	logger    *slog.Logger
	gateway   domain.ExchangeGateway
	ledger    *ledger.Ledger
	bus       domain.EventBus
	positions domain.PositionStore // optional
	audit     domain.AuditStore    // optional
	interval  time.Duration
}

// New creates a settler. bus, positions, and audit may be nil.
func New(logger *slog.Logger, gw domain.ExchangeGateway, led *ledger.Ledger, bus domain.EventBus, positions domain.PositionStore, audit domain.AuditStore, interval time.Duration) *Settler {
	return &Settler{
		logger:    logger.With(slog.String("component", "redeem")),
		gateway:   gw,
		ledger:    led,
		bus:       bus,
		positions: positions,
		audit:     audit,
		interval:  interval,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Settler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep checks each market holding open positions once. Resolution lookups
// fail soft: an unreachable venue leaves positions open for the next sweep.
func (s *Settler) Sweep(ctx context.Context) {
	seen := make(map[string]struct{})
	for _, pos := range s.ledger.OpenPositions() {
		if _, done := seen[pos.MarketID]; done {
			continue
		}
		seen[pos.MarketID] = struct{}{}

		res, err := s.gateway.MarketResolution(ctx, pos.MarketID)
		if err != nil {
			s.logger.Warn("resolution lookup failed",
				slog.String("market_id", pos.MarketID), slog.Any("error", err))
			continue
		}
		if !res.Resolved {
			continue
		}
		s.settle(ctx, pos.MarketID, res.WinnerTokenID)
	}
}

func (s *Settler) settle(ctx context.Context, marketID, winnerTokenID string) {
	settled, err := s.ledger.SettleMarket(ctx, marketID, winnerTokenID)
	if err != nil {
		s.logger.Error("settle market", slog.String("market_id", marketID), slog.Any("error", err))
		return
	}
	var totalPnL int64
	for _, pos := range settled {
		totalPnL += pos.PnLTicks
		if s.positions != nil && pos.SettledAt != nil {
			if err := s.positions.MarkSettled(ctx, pos.MarketID, pos.TokenID, pos.PnLTicks, *pos.SettledAt); err != nil {
				s.logger.Warn("persist settlement",
					slog.String("token_id", pos.TokenID), slog.Any("error", err))
			}
		}
	}
	s.logger.Info("market settled",
		slog.String("market_id", marketID),
		slog.Int("positions", len(settled)),
		slog.String("pnl", domain.Dollars(totalPnL)))

	fields := map[string]any{
		"market_id":    marketID,
		"winner_token": winnerTokenID,
		"positions":    len(settled),
		"pnl":          domain.Dollars(totalPnL),
	}
	if err := domain.PublishEvent(ctx, s.bus, domain.EventMarketSettled, fields); err != nil {
		s.logger.Warn("publish settlement", slog.Any("error", err))
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "market_settled", fields); err != nil {
			s.logger.Warn("audit settlement", slog.Any("error", err))
		}
	}
}
