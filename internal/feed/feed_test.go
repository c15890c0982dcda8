package feed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/book"
	"github.com/alanyoungcy/karb/internal/domain"
)

// streamGateway scripts StreamBookUpdates: each call pushes its batch of
// updates, then fails with a stream error.
type streamGateway struct {
	batches  [][]domain.BookUpdate
	calls    atomic.Int32
	lastSubs atomic.Value // []string
}

func (g *streamGateway) StreamBookUpdates(ctx context.Context, tokenIDs []string, out chan<- domain.BookUpdate) error {
	call := int(g.calls.Add(1)) - 1
	g.lastSubs.Store(append([]string(nil), tokenIDs...))
	if call < len(g.batches) {
		for _, u := range g.batches[call] {
			select {
			case out <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if call >= len(g.batches) {
		// Block until shutdown once the script is exhausted.
		<-ctx.Done()
		return ctx.Err()
	}
	return domain.ErrWSDisconnect
}

func (g *streamGateway) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", domain.ErrVenueRejected
}
func (g *streamGateway) CancelOrder(context.Context, string) error { return nil }
func (g *streamGateway) OrderStatus(context.Context, string) (domain.OrderState, error) {
	return domain.OrderState{}, domain.ErrNotFound
}
func (g *streamGateway) FetchBook(context.Context, string) (domain.BookSnapshot, error) {
	return domain.BookSnapshot{}, domain.ErrNotFound
}
func (g *streamGateway) ListActiveMarkets(context.Context) ([]domain.Market, error) {
	return nil, nil
}
func (g *streamGateway) MarketResolution(context.Context, string) (domain.Resolution, error) {
	return domain.Resolution{}, nil
}

type recordMirror struct {
	asks atomic.Int32
}

func (m *recordMirror) SetBestAsk(context.Context, string, int64, int64, uint64) error {
	m.asks.Add(1)
	return nil
}

func (m *recordMirror) GetBestAsk(context.Context, string) (int64, int64, error) {
	return 0, 0, domain.ErrNotFound
}

func TestFeedAppliesUpdatesAndReconnects(t *testing.T) {
	books := book.NewStore(slog.Default())
	m := domain.Market{ID: "mkt-1", YesTokenID: "tok-yes", NoTokenID: "tok-no", Status: domain.MarketStatusActive}
	books.Track(m)

	gw := &streamGateway{batches: [][]domain.BookUpdate{
		{{TokenID: "tok-yes", AskTicks: 480_000, AskSizeUnits: domain.UnitsPerShare, Seq: 1, At: time.Now()}},
		{{TokenID: "tok-no", AskTicks: 490_000, AskSizeUnits: domain.UnitsPerShare, Seq: 2, At: time.Now()}},
	}}
	mirror := &recordMirror{}
	f := New(slog.Default(), gw, books, mirror)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	// Both batches arrive across two connections (one reconnect between).
	require.Eventually(t, func() bool {
		return books.Get("tok-yes").Known() && books.Get("tok-no").Known()
	}, 10*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, int(gw.calls.Load()), 2)
	assert.Equal(t, int32(2), mirror.asks.Load())

	subs, _ := gw.lastSubs.Load().([]string)
	assert.ElementsMatch(t, []string{"tok-yes", "tok-no"}, subs)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFeedWaitsForTrackedTokens(t *testing.T) {
	books := book.NewStore(slog.Default())
	gw := &streamGateway{}
	f := New(slog.Default(), gw, books, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, gw.calls.Load())
}
