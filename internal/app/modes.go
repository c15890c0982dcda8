package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/karb/internal/discovery"
	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/exec"
	"github.com/alanyoungcy/karb/internal/feed"
	"github.com/alanyoungcy/karb/internal/ledger"
	"github.com/alanyoungcy/karb/internal/notify"
	"github.com/alanyoungcy/karb/internal/redeem"
	"github.com/alanyoungcy/karb/internal/scheduler"
	"github.com/alanyoungcy/karb/internal/spread"
)

// tradeLockKey is the distributed lock held by trade mode for its whole
// lifetime so two instances never trade the same account.
const tradeLockKey = "trade"

// TradeMode runs the full engine with live order placement. It holds the
// trade lock until shutdown and derives API credentials before the first
// order.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	// No TTL: the lock is held until released. A crashed instance leaves it
	// behind; the operator clears it after confirming nothing is running.
	unlock, err := deps.Locks.Acquire(ctx, tradeLockKey, 0)
	if err != nil {
		return fmt.Errorf("app: acquire trade lock: %w", err)
	}
	defer unlock()

	if err := deps.Clob.DeriveCreds(ctx); err != nil {
		return fmt.Errorf("app: derive api credentials: %w", err)
	}

	return a.runEngine(ctx, deps, true)
}

// MonitorMode runs the full engine against live market data but replaces the
// executor with a dry-run dispatcher: every viable opportunity is evaluated,
// reserved, logged, and immediately released.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps, false)
}

// runEngine starts the long-running pipeline: feed, scheduler, discovery,
// settlement, notifications, and archival.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, live bool) error {
	cfg := a.cfg

	eval := spread.NewEvaluator(spread.Config{
		MinProfitTicks:  ticksFromDollars(cfg.Trading.MinProfit),
		StalenessWindow: cfg.Trading.BookStaleness.Duration,
	})

	led := ledger.New(ledger.Config{
		BankrollTicks:          ticksFromDollars(cfg.Trading.Bankroll),
		MaxFractionPerTradeBps: cfg.Trading.MaxCapitalFractionBps,
	}, a.logger, deps.Bus)

	var dispatcher scheduler.Dispatcher
	var coord *exec.Coordinator
	if live {
		coord = exec.NewCoordinator(exec.Config{
			LegFillTimeout: cfg.Execution.LegFillTimeout.Duration,
			PollInterval:   cfg.Execution.PollInterval.Duration,
			MaxSlippageBps: cfg.Execution.MaxSlippageBps,
			ChaseTimeout:   cfg.Execution.ChaseTimeout.Duration,
		}, a.logger, deps.Gateway, led, deps.Bus, deps.Attempts, deps.Positions)
		dispatcher = coord
	} else {
		dispatcher = exec.NewDryRun(a.logger, led, deps.Bus)
	}

	sched := scheduler.New(scheduler.Config{
		RescanInterval:      cfg.Trading.RescanInterval.Duration,
		MaxSpendTicks:       ticksFromDollars(cfg.Trading.MaxSpendPerTrade),
		SlippageHeadroomBps: cfg.Execution.MaxSlippageBps,
		MinSizeUnits:        unitsFromShares(cfg.Trading.MinSize),
	}, a.logger, eval, deps.Books, led, dispatcher, deps.Bus, deps.Opportunities)

	bookFeed := feed.New(a.logger, deps.Gateway, deps.Books, deps.Mirror)
	refresher := discovery.New(a.logger, deps.Gateway, sched, cfg.Trading.DiscoveryInterval.Duration)
	settler := redeem.New(a.logger, deps.Gateway, led, deps.Bus, deps.Positions, deps.Audit, cfg.Trading.SettleInterval.Duration)
	bridge := notify.NewBridge(a.logger, deps.Bus, deps.Notifier)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bookFeed.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return refresher.Run(ctx) })
	g.Go(func() error { return settler.Run(ctx) })
	g.Go(func() error { return bridge.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	err := g.Wait()

	// Let in-flight attempts finish unwinding before resources close.
	if coord != nil {
		coord.Wait()
	}

	a.logger.Info("engine stopped",
		slog.String("available", domain.Dollars(led.AvailableTicks())),
		slog.String("equity", domain.Dollars(led.EquityTicks())),
	)
	return err
}
