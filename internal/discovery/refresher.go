// Package discovery keeps the tracked market set in sync with the venue.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/scheduler"
)

// Refresher polls the gateway's active market list and pushes it into the
// scheduler, which tracks and untracks books to match.
type Refresher struct {
	logger   *slog.Logger
	gateway  domain.ExchangeGateway
	sched    *scheduler.Scheduler
	interval time.Duration
}

// New creates a refresher with the given poll interval.
func New(logger *slog.Logger, gw domain.ExchangeGateway, sched *scheduler.Scheduler, interval time.Duration) *Refresher {
	return &Refresher{
		logger:   logger.With(slog.String("component", "discovery")),
		gateway:  gw,
		sched:    sched,
		interval: interval,
	}
}

// Run refreshes immediately, then on every interval tick until ctx ends.
// Refresh failures keep the previous market set; trading continues on the
// last known universe.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.refresh(ctx); err != nil {
		r.logger.Error("initial market discovery failed", slog.Any("error", err))
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				r.logger.Warn("market discovery failed", slog.Any("error", err))
			}
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) error {
	markets, err := r.gateway.ListActiveMarkets(ctx)
	if err != nil {
		return err
	}
	r.sched.SetMarkets(markets)
	return nil
}
