package redeem

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/ledger"
)

type resolutionGateway struct {
	mu          sync.Mutex
	resolutions map[string]domain.Resolution
	lookups     int
}

func (g *resolutionGateway) MarketResolution(_ context.Context, marketID string) (domain.Resolution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	res, ok := g.resolutions[marketID]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return res, nil
}

func (g *resolutionGateway) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", domain.ErrVenueRejected
}
func (g *resolutionGateway) CancelOrder(context.Context, string) error { return nil }
func (g *resolutionGateway) OrderStatus(context.Context, string) (domain.OrderState, error) {
	return domain.OrderState{}, domain.ErrNotFound
}
func (g *resolutionGateway) StreamBookUpdates(ctx context.Context, _ []string, _ chan<- domain.BookUpdate) error {
	<-ctx.Done()
	return ctx.Err()
}
func (g *resolutionGateway) FetchBook(context.Context, string) (domain.BookSnapshot, error) {
	return domain.BookSnapshot{}, domain.ErrNotFound
}
func (g *resolutionGateway) ListActiveMarkets(context.Context) ([]domain.Market, error) {
	return nil, nil
}

func openHedgedPair(t *testing.T, led *ledger.Ledger, marketID string) {
	t.Helper()
	ctx := context.Background()
	resID, err := led.Reserve(ctx, 80*domain.TicksPerDollar)
	require.NoError(t, err)
	require.NoError(t, led.CommitToPosition(ctx, resID, marketID, marketID+"-yes", domain.OutcomeYes,
		80*domain.UnitsPerShare, 480_000))
	require.NoError(t, led.CommitToPosition(ctx, resID, marketID, marketID+"-no", domain.OutcomeNo,
		80*domain.UnitsPerShare, 490_000))
	require.NoError(t, led.Release(ctx, resID))
}

func TestSweepSettlesResolvedMarkets(t *testing.T) {
	led := ledger.New(ledger.Config{BankrollTicks: 200 * domain.TicksPerDollar}, slog.Default(), nil)
	openHedgedPair(t, led, "mkt-1")
	openHedgedPair(t, led, "mkt-2")

	gw := &resolutionGateway{resolutions: map[string]domain.Resolution{
		"mkt-1": {Resolved: true, WinnerTokenID: "mkt-1-yes"},
		"mkt-2": {Resolved: false},
	}}
	s := New(slog.Default(), gw, led, nil, nil, nil, time.Minute)

	s.Sweep(context.Background())

	// mkt-1 settled at +$2.40; mkt-2 still open.
	_, ok := led.Position("mkt-1", "mkt-1-yes")
	assert.False(t, ok)
	_, ok = led.Position("mkt-2", "mkt-2-yes")
	assert.True(t, ok)
	assert.Equal(t, int64(202_400_000), led.EquityTicks())

	// One resolution lookup per market, not per position.
	assert.Equal(t, 2, gw.lookups)
}

func TestSweepSurvivesLookupFailures(t *testing.T) {
	led := ledger.New(ledger.Config{BankrollTicks: 200 * domain.TicksPerDollar}, slog.Default(), nil)
	openHedgedPair(t, led, "mkt-unknown")

	gw := &resolutionGateway{resolutions: map[string]domain.Resolution{}}
	s := New(slog.Default(), gw, led, nil, nil, nil, time.Minute)

	s.Sweep(context.Background())
	assert.Len(t, led.OpenPositions(), 2)
}
