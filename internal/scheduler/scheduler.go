// Package scheduler turns book changes into ranked, capital-checked
// execution dispatches.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/karb/internal/book"
	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/ledger"
	"github.com/alanyoungcy/karb/internal/spread"
)

// Dispatcher accepts viable opportunities for execution. Implemented by the
// exec coordinator and by the dry-run recorder.
type Dispatcher interface {
	// Dispatch takes ownership of the reservation unless it returns
	// ErrAttemptActive.
	Dispatch(ctx context.Context, opp domain.Opportunity, reservationID string) error
	// Active reports whether the market already has an attempt in flight.
	Active(marketID string) bool
}

// Config tunes the scheduler.
type Config struct {
	// RescanInterval is the level-triggered sweep over every tracked
	// market, catching anything a dropped wake missed.
	RescanInterval time.Duration
	// MaxSpendTicks caps capital committed to a single attempt. Zero means
	// only the ledger's own caps apply.
	MaxSpendTicks int64
	// SlippageHeadroomBps pads each reservation so a slippage-bounded chase
	// cannot outspend it. Matches the executor's slippage bound.
	SlippageHeadroomBps int64
	// MinSizeUnits is the smallest size worth dispatching; anything below
	// is reported as missed. Defaults to one share.
	MinSizeUnits int64
	// WakeBuffer is the book-change subscription buffer. Defaults to 64;
	// an unbuffered subscription would drop every wake arriving mid-pass.
	WakeBuffer int
}

const defaultWakeBuffer = 64

// Scheduler is level-triggered: it re-derives viability from the latest
// snapshots on every pass, so missed or coalesced wakes cost latency, never
// correctness.
type Scheduler struct {
	cfg        Config
	logger     *slog.Logger
	eval       *spread.Evaluator
	books      *book.Store
	ledger     *ledger.Ledger
	dispatcher Dispatcher
	bus        domain.EventBus
	opps       domain.OpportunityStore // optional

	mu      sync.Mutex
	markets map[string]domain.Market
}

// New creates a scheduler. bus and opps may be nil.
func New(cfg Config, logger *slog.Logger, eval *spread.Evaluator, books *book.Store, led *ledger.Ledger, dispatcher Dispatcher, bus domain.EventBus, opps domain.OpportunityStore) *Scheduler {
	if cfg.WakeBuffer <= 0 {
		cfg.WakeBuffer = defaultWakeBuffer
	}
	return &Scheduler{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scheduler")),
		eval:       eval,
		books:      books,
		ledger:     led,
		dispatcher: dispatcher,
		bus:        bus,
		opps:       opps,
		markets:    make(map[string]domain.Market),
	}
}

// SetMarkets replaces the tracked market set. Discovery calls this on every
// refresh; book tracking follows the set.
func (s *Scheduler) SetMarkets(markets []domain.Market) {
	next := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		next[m.ID] = m
	}

	s.mu.Lock()
	prev := s.markets
	s.markets = next
	s.mu.Unlock()

	for id, m := range prev {
		if _, keep := next[id]; !keep {
			s.books.Untrack(m)
		}
	}
	for _, m := range next {
		s.books.Track(m)
	}
	s.logger.Info("market set updated", slog.Int("markets", len(next)))
}

// Market returns a tracked market by id.
func (s *Scheduler) Market(id string) (domain.Market, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	return m, ok
}

func (s *Scheduler) marketIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	return ids
}

// Run processes wakes and periodic rescans until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	wake := s.books.Subscribe(s.cfg.WakeBuffer)
	ticker := time.NewTicker(s.cfg.RescanInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		slog.Duration("rescan_interval", s.cfg.RescanInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-wake:
			dirty := map[string]struct{}{id: {}}
			// Coalesce whatever else is queued into one pass.
		drain:
			for {
				select {
				case next := <-wake:
					dirty[next] = struct{}{}
				default:
					break drain
				}
			}
			ids := make([]string, 0, len(dirty))
			for id := range dirty {
				ids = append(ids, id)
			}
			s.Pass(ctx, ids)
		case <-ticker.C:
			s.Pass(ctx, s.marketIDs())
		}
	}
}

// Pass evaluates the given markets against current books and dispatches
// viable opportunities greedily, most profitable first, while capital lasts.
func (s *Scheduler) Pass(ctx context.Context, marketIDs []string) {
	now := time.Now()
	var viable []domain.Opportunity
	for _, id := range marketIDs {
		m, ok := s.Market(id)
		if !ok || s.dispatcher.Active(id) {
			continue
		}
		yes, no := s.books.Pair(m)
		opp, skip := s.eval.Evaluate(m, yes, no, now)
		if skip != "" {
			continue
		}
		viable = append(viable, opp)
	}
	if len(viable) == 0 {
		return
	}
	sort.Slice(viable, func(i, j int) bool {
		return viable[i].NetProfitTicks() > viable[j].NetProfitTicks()
	})
	for _, opp := range viable {
		s.dispatchOne(ctx, opp)
	}
}

// dispatchOne sizes the opportunity to available capital, reserves, and
// hands it to the dispatcher.
func (s *Scheduler) dispatchOne(ctx context.Context, opp domain.Opportunity) {
	// Reserve against the worst case a chase is allowed to spend, not the
	// quoted cost.
	costPerUnit := opp.CombinedTicks + domain.FeeOn(opp.CombinedTicks, s.cfg.SlippageHeadroomBps)

	maxSpend := s.ledger.MaxReservationTicks()
	if s.cfg.MaxSpendTicks > 0 && s.cfg.MaxSpendTicks < maxSpend {
		maxSpend = s.cfg.MaxSpendTicks
	}
	minSize := s.cfg.MinSizeUnits
	if minSize <= 0 {
		minSize = domain.UnitsPerShare
	}
	sized := opp.WithSize(domain.SizeForSpend(maxSpend, costPerUnit))
	if sized.SizeUnits < minSize {
		s.missed(ctx, opp, "insufficient_capital")
		return
	}

	reserveTicks := domain.Notional(costPerUnit, sized.SizeUnits)
	resID, err := s.ledger.Reserve(ctx, reserveTicks)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCapital) {
			s.missed(ctx, sized, "insufficient_capital")
			return
		}
		s.logger.Warn("reserve failed",
			slog.String("market_id", sized.MarketID), slog.Any("error", err))
		return
	}

	s.logger.Info("opportunity detected",
		slog.String("opportunity_id", sized.ID),
		slog.String("market_id", sized.MarketID),
		slog.String("combined", domain.Dollars(sized.CombinedTicks)),
		slog.String("size", domain.Dollars(sized.SizeUnits)),
		slog.String("net_profit", domain.Dollars(sized.NetProfitTicks())))

	if s.opps != nil {
		if err := s.opps.Insert(ctx, sized); err != nil {
			s.logger.Warn("persist opportunity", slog.Any("error", err))
		}
	}
	err = domain.PublishEvent(ctx, s.bus, domain.EventOpportunityDetected, map[string]any{
		"opportunity_id": sized.ID,
		"market_id":      sized.MarketID,
		"combined":       domain.Dollars(sized.CombinedTicks),
		"size":           domain.Dollars(sized.SizeUnits),
		"net_profit":     domain.Dollars(sized.NetProfitTicks()),
	})
	if err != nil {
		s.logger.Warn("publish opportunity detected", slog.Any("error", err))
	}

	if err := s.dispatcher.Dispatch(ctx, sized, resID); err != nil {
		// Ownership of the reservation stays here on rejection.
		if relErr := s.ledger.Release(ctx, resID); relErr != nil {
			s.logger.Error("release after dispatch rejection", slog.Any("error", relErr))
		}
		if !errors.Is(err, domain.ErrAttemptActive) {
			s.logger.Warn("dispatch failed",
				slog.String("market_id", sized.MarketID), slog.Any("error", err))
		}
	}
}

func (s *Scheduler) missed(ctx context.Context, opp domain.Opportunity, reason string) {
	s.logger.Info("opportunity missed",
		slog.String("market_id", opp.MarketID),
		slog.String("reason", reason),
		slog.String("net_profit", domain.Dollars(opp.NetProfitTicks())))
	err := domain.PublishEvent(ctx, s.bus, domain.EventOpportunityMissed, map[string]any{
		"opportunity_id": opp.ID,
		"market_id":      opp.MarketID,
		"reason":         reason,
		"combined":       domain.Dollars(opp.CombinedTicks),
		"net_profit":     domain.Dollars(opp.NetProfitTicks()),
	})
	if err != nil {
		s.logger.Warn("publish opportunity missed", slog.Any("error", err))
	}
}
