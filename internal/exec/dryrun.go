package exec

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/ledger"
)

// DryRun is a dispatcher that records opportunities without touching the
// venue. Monitor mode uses it so detection, sizing, and capital flow run end
// to end while no order ever leaves the process.
type DryRun struct {
	logger *slog.Logger
	ledger *ledger.Ledger
	bus    domain.EventBus

	mu    sync.Mutex
	count int
}

// NewDryRun creates a dry-run dispatcher. bus may be nil.
func NewDryRun(logger *slog.Logger, led *ledger.Ledger, bus domain.EventBus) *DryRun {
	return &DryRun{
		logger: logger.With(slog.String("component", "exec_dryrun")),
		ledger: led,
		bus:    bus,
	}
}

// Active always reports false: simulated attempts resolve instantly, so a
// market is never blocked.
func (d *DryRun) Active(string) bool { return false }

// Dispatch logs the would-be execution, publishes a simulated resolution,
// and returns the reservation so capital accounting stays live.
func (d *DryRun) Dispatch(ctx context.Context, opp domain.Opportunity, reservationID string) error {
	d.mu.Lock()
	d.count++
	n := d.count
	d.mu.Unlock()

	d.logger.Info("dry-run execution",
		slog.Int("simulated_count", n),
		slog.String("market_id", opp.MarketID),
		slog.String("combined", domain.Dollars(opp.CombinedTicks)),
		slog.String("size", domain.Dollars(opp.SizeUnits)),
		slog.String("profit", domain.Dollars(opp.NetProfitTicks())))

	if err := d.ledger.Release(ctx, reservationID); err != nil {
		d.logger.Error("release reservation", slog.Any("error", err))
	}

	fields := map[string]any{
		"opportunity_id": opp.ID,
		"market_id":      opp.MarketID,
		"outcome":        "simulated",
		"profit":         domain.Dollars(opp.NetProfitTicks()),
	}
	if err := domain.PublishEvent(ctx, d.bus, domain.EventExecutionResolved, fields); err != nil {
		d.logger.Warn("publish simulated resolution", slog.Any("error", err))
	}
	return nil
}
