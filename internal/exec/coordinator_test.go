package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/ledger"
)

// fakeGateway scripts venue behavior per token: each successive order on a
// token consumes one entry from its fill script. -1 fills the order fully at
// its limit price, 0 leaves it open, a positive value partially fills that
// many units.
type fakeGateway struct {
	mu        sync.Mutex
	nextID    int
	orders    map[string]*fakeOrder
	fills     map[string][]int64
	placeErrs map[string]error
	books     map[string]domain.BookSnapshot
	cancelled []string
}

type fakeOrder struct {
	req   domain.OrderRequest
	state domain.OrderState
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:    make(map[string]*fakeOrder),
		fills:     make(map[string][]int64),
		placeErrs: make(map[string]error),
		books:     make(map[string]domain.BookSnapshot),
	}
}

func (g *fakeGateway) script(token string, fills ...int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fills[token] = append(g.fills[token], fills...)
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.placeErrs[req.TokenID]; err != nil {
		return "", err
	}
	g.nextID++
	id := fmt.Sprintf("ord-%d", g.nextID)
	o := &fakeOrder{req: req, state: domain.OrderState{Status: domain.OrderStatusOpen}}
	if script := g.fills[req.TokenID]; len(script) > 0 {
		fill := script[0]
		g.fills[req.TokenID] = script[1:]
		switch {
		case fill < 0:
			o.state = domain.OrderState{
				Status:           domain.OrderStatusFilled,
				FilledSizeUnits:  req.SizeUnits,
				FilledPriceTicks: req.PriceTicks,
			}
		case fill > 0:
			o.state = domain.OrderState{
				Status:           domain.OrderStatusPartiallyFilled,
				FilledSizeUnits:  fill,
				FilledPriceTicks: req.PriceTicks,
			}
		}
	}
	g.orders[id] = o
	return id, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	g.cancelled = append(g.cancelled, orderID)
	if o.state.Status == domain.OrderStatusFilled {
		return domain.ErrAlreadyFilled
	}
	o.state.Status = domain.OrderStatusCancelled
	return nil
}

func (g *fakeGateway) OrderStatus(_ context.Context, orderID string) (domain.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return domain.OrderState{}, domain.ErrNotFound
	}
	return o.state, nil
}

func (g *fakeGateway) StreamBookUpdates(ctx context.Context, _ []string, _ chan<- domain.BookUpdate) error {
	<-ctx.Done()
	return ctx.Err()
}

func (g *fakeGateway) FetchBook(_ context.Context, tokenID string) (domain.BookSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.books[tokenID]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (g *fakeGateway) ListActiveMarkets(context.Context) ([]domain.Market, error) {
	return nil, nil
}

func (g *fakeGateway) MarketResolution(context.Context, string) (domain.Resolution, error) {
	return domain.Resolution{}, nil
}

// recordBus captures published events for assertions.
type recordBus struct {
	mu     sync.Mutex
	events []map[string]any
}

func (b *recordBus) Publish(_ context.Context, _ string, payload []byte) error {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	b.mu.Lock()
	b.events = append(b.events, m)
	b.mu.Unlock()
	return nil
}

func (b *recordBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *recordBus) byType(event string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, e := range b.events {
		if e["event"] == event {
			out = append(out, e)
		}
	}
	return out
}

// recordAttempts captures attempt persistence calls.
type recordAttempts struct {
	mu      sync.Mutex
	updates []domain.Attempt
}

func (s *recordAttempts) Create(_ context.Context, a domain.Attempt) error { return s.save(a) }
func (s *recordAttempts) Update(_ context.Context, a domain.Attempt) error { return s.save(a) }

func (s *recordAttempts) save(a domain.Attempt) error {
	s.mu.Lock()
	s.updates = append(s.updates, a)
	s.mu.Unlock()
	return nil
}

func (s *recordAttempts) GetByID(context.Context, string) (domain.Attempt, error) {
	return domain.Attempt{}, domain.ErrNotFound
}
func (s *recordAttempts) ListRecent(context.Context, int) ([]domain.Attempt, error) {
	return nil, nil
}
func (s *recordAttempts) ListResolvedBefore(context.Context, time.Time) ([]domain.Attempt, error) {
	return nil, nil
}

func (s *recordAttempts) last() domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[len(s.updates)-1]
}

func testConfig() Config {
	return Config{
		LegFillTimeout: 60 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		MaxSlippageBps: 200,
		ChaseTimeout:   100 * time.Millisecond,
	}
}

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:                "opp-1",
		MarketID:          "mkt-1",
		YesTokenID:        "tok-yes",
		NoTokenID:         "tok-no",
		YesAskTicks:       480_000,
		NoAskTicks:        490_000,
		CombinedTicks:     970_000,
		SizeUnits:         80 * domain.UnitsPerShare,
		GrossPerUnitTicks: 30_000,
		NetPerUnitTicks:   30_000,
		DetectedAt:        time.Now(),
	}
}

type harness struct {
	gw       *fakeGateway
	led      *ledger.Ledger
	bus      *recordBus
	attempts *recordAttempts
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gw := newFakeGateway()
	bus := &recordBus{}
	attempts := &recordAttempts{}
	led := ledger.New(ledger.Config{BankrollTicks: 200 * domain.TicksPerDollar}, slog.Default(), bus)
	coord := NewCoordinator(testConfig(), slog.Default(), gw, led, bus, attempts, nil)
	return &harness{gw: gw, led: led, bus: bus, attempts: attempts, coord: coord}
}

func (h *harness) dispatch(t *testing.T, opp domain.Opportunity, reserveTicks int64) {
	t.Helper()
	resID, err := h.led.Reserve(context.Background(), reserveTicks)
	require.NoError(t, err)
	require.NoError(t, h.coord.Dispatch(context.Background(), opp, resID))
	h.coord.Wait()
}

func TestBothLegsFillCleanly(t *testing.T) {
	h := newHarness(t)
	h.gw.script("tok-yes", -1)
	h.gw.script("tok-no", -1)

	h.dispatch(t, testOpportunity(), 80*domain.TicksPerDollar)

	a := h.attempts.last()
	assert.Equal(t, domain.AttemptResolved, a.State)
	assert.Equal(t, domain.OutcomeHedged, a.Outcome)
	// 80 * (1.00 - 0.97) = $2.40 locked in.
	assert.Equal(t, int64(2_400_000), a.ProfitTicks)

	// Both fills are in the ledger; the reservation remainder came back.
	yes, ok := h.led.Position("mkt-1", "tok-yes")
	require.True(t, ok)
	assert.Equal(t, 80*domain.UnitsPerShare, yes.SizeUnits)
	no, ok := h.led.Position("mkt-1", "tok-no")
	require.True(t, ok)
	assert.Equal(t, 80*domain.UnitsPerShare, no.SizeUnits)
	// $200 - $77.60 position cost.
	assert.Equal(t, int64(122_400_000), h.led.AvailableTicks())
	assert.False(t, h.led.Halted())

	require.Len(t, h.bus.byType(domain.EventExecutionResolved), 1)
	assert.Empty(t, h.bus.byType(domain.EventUnhedgedPosition))
}

func TestChaseWithinSlippageBoundHedges(t *testing.T) {
	h := newHarness(t)
	// YES fills instantly; the first NO order never fills; the chase order
	// fills fully at the repriced ask.
	h.gw.script("tok-yes", -1)
	h.gw.script("tok-no", 0, -1)
	// Ask moved to 0.495: within 200 bps of the 0.49 limit (max 0.4998).
	h.gw.books["tok-no"] = domain.BookSnapshot{
		TokenID: "tok-no", AskTicks: 495_000, AskSizeUnits: 200 * domain.UnitsPerShare, Seq: 2, At: time.Now(),
	}

	h.dispatch(t, testOpportunity(), 80*domain.TicksPerDollar)

	a := h.attempts.last()
	assert.Equal(t, domain.OutcomeHedgedChased, a.Outcome)
	assert.NotEmpty(t, a.No.ChaseOrderID)
	assert.Equal(t, 80*domain.UnitsPerShare, a.No.FilledSizeUnits)
	assert.Equal(t, int64(495_000), a.No.FilledPriceTicks)
	// 80 * (1.00 - 0.48 - 0.495) = $2.00.
	assert.Equal(t, int64(2_000_000), a.ProfitTicks)

	no, ok := h.led.Position("mkt-1", "tok-no")
	require.True(t, ok)
	assert.Equal(t, int64(39_600_000), no.CostTicks)
	assert.False(t, h.led.Halted())
	assert.Empty(t, h.bus.byType(domain.EventUnhedgedPosition))
}

func TestChaseBeyondSlippageBoundEscalates(t *testing.T) {
	h := newHarness(t)
	h.gw.script("tok-yes", -1)
	h.gw.script("tok-no", 0)
	// Ask ran away to 0.52, past the 0.4998 bound.
	h.gw.books["tok-no"] = domain.BookSnapshot{
		TokenID: "tok-no", AskTicks: 520_000, AskSizeUnits: 200 * domain.UnitsPerShare, Seq: 2, At: time.Now(),
	}

	h.dispatch(t, testOpportunity(), 80*domain.TicksPerDollar)

	a := h.attempts.last()
	assert.Equal(t, domain.OutcomeUnhedged, a.Outcome)
	assert.Empty(t, a.No.ChaseOrderID)

	// The YES fill is committed, everything else released.
	yes, ok := h.led.Position("mkt-1", "tok-yes")
	require.True(t, ok)
	assert.Equal(t, 80*domain.UnitsPerShare, yes.SizeUnits)
	_, ok = h.led.Position("mkt-1", "tok-no")
	assert.False(t, ok)
	// $200 - $38.40 yes cost.
	assert.Equal(t, int64(161_600_000), h.led.AvailableTicks())
	assert.False(t, h.led.Halted())

	alerts := h.bus.byType(domain.EventUnhedgedPosition)
	require.Len(t, alerts, 1)
	assert.Equal(t, "yes", alerts[0]["side"])
	assert.Equal(t, "80", alerts[0]["exposure"])
}

func TestNoFillsAbandonsAndReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.gw.script("tok-yes", 0)
	h.gw.script("tok-no", 0)

	h.dispatch(t, testOpportunity(), 80*domain.TicksPerDollar)

	a := h.attempts.last()
	assert.Equal(t, domain.OutcomeAbandoned, a.Outcome)
	assert.Zero(t, a.ProfitTicks)
	assert.Len(t, h.gw.cancelled, 2)
	assert.Equal(t, 200*domain.TicksPerDollar, h.led.AvailableTicks())
	assert.Empty(t, h.led.OpenPositions())
}

func TestFirstLegRejectionReleasesReservation(t *testing.T) {
	h := newHarness(t)
	h.gw.placeErrs["tok-yes"] = domain.ErrVenueRejected

	h.dispatch(t, testOpportunity(), 80*domain.TicksPerDollar)

	a := h.attempts.last()
	assert.Equal(t, domain.OutcomeRejected, a.Outcome)
	assert.Equal(t, 200*domain.TicksPerDollar, h.led.AvailableTicks())
}

func TestSecondLegRejectionCancelsFirst(t *testing.T) {
	h := newHarness(t)
	h.gw.script("tok-yes", 0)
	h.gw.placeErrs["tok-no"] = domain.ErrInsufficientBalance

	h.dispatch(t, testOpportunity(), 80*domain.TicksPerDollar)

	a := h.attempts.last()
	assert.Equal(t, domain.OutcomeRejected, a.Outcome)
	assert.Len(t, h.gw.cancelled, 1)
	assert.Equal(t, 200*domain.TicksPerDollar, h.led.AvailableTicks())
}

func TestSecondAttemptOnSameMarketRejected(t *testing.T) {
	h := newHarness(t)
	// Legs never fill, keeping the first attempt in flight.
	h.gw.script("tok-yes", 0)
	h.gw.script("tok-no", 0)

	ctx := context.Background()
	res1, err := h.led.Reserve(ctx, 80*domain.TicksPerDollar)
	require.NoError(t, err)
	require.NoError(t, h.coord.Dispatch(ctx, testOpportunity(), res1))
	assert.True(t, h.coord.Active("mkt-1"))

	res2, err := h.led.Reserve(ctx, 80*domain.TicksPerDollar)
	require.NoError(t, err)
	err = h.coord.Dispatch(ctx, testOpportunity(), res2)
	assert.ErrorIs(t, err, domain.ErrAttemptActive)
	require.NoError(t, h.led.Release(ctx, res2))

	h.coord.Wait()
	assert.False(t, h.coord.Active("mkt-1"))
	assert.Equal(t, 200*domain.TicksPerDollar, h.led.AvailableTicks())
}

func TestShutdownCancelsOpenLegs(t *testing.T) {
	h := newHarness(t)
	h.gw.script("tok-yes", 0)
	h.gw.script("tok-no", 0)

	ctx, cancel := context.WithCancel(context.Background())
	resID, err := h.led.Reserve(ctx, 80*domain.TicksPerDollar)
	require.NoError(t, err)
	require.NoError(t, h.coord.Dispatch(ctx, testOpportunity(), resID))

	time.Sleep(15 * time.Millisecond)
	cancel()
	h.coord.Wait()

	a := h.attempts.last()
	assert.Equal(t, domain.OutcomeCancelled, a.Outcome)
	assert.Len(t, h.gw.cancelled, 2)
	assert.Equal(t, 200*domain.TicksPerDollar, h.led.AvailableTicks())
}
