package spread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/domain"
)

func activeMarket(feeBps int64) domain.Market {
	return domain.Market{
		ID:         "mkt-1",
		YesTokenID: "tok-yes",
		NoTokenID:  "tok-no",
		FeeBps:     feeBps,
		Status:     domain.MarketStatusActive,
	}
}

func snap(token string, askTicks, askSizeUnits int64, at time.Time) domain.BookSnapshot {
	return domain.BookSnapshot{
		TokenID:      token,
		AskTicks:     askTicks,
		AskSizeUnits: askSizeUnits,
		Seq:          1,
		At:           at,
	}
}

func TestEvaluateViableSpread(t *testing.T) {
	// YES ask 0.48 x 100, NO ask 0.49 x 80: combined 0.97, size 80,
	// gross 0.03/share, $2.40 total before fees.
	e := NewEvaluator(Config{MinProfitTicks: 10_000})
	now := time.Now()
	m := activeMarket(0)

	opp, skip := e.Evaluate(m,
		snap("tok-yes", 480_000, 100*domain.UnitsPerShare, now),
		snap("tok-no", 490_000, 80*domain.UnitsPerShare, now),
		now)
	require.Empty(t, skip)

	assert.Equal(t, int64(970_000), opp.CombinedTicks)
	assert.Equal(t, 80*domain.UnitsPerShare, opp.SizeUnits)
	assert.Equal(t, int64(30_000), opp.GrossPerUnitTicks)
	assert.Equal(t, int64(30_000), opp.NetPerUnitTicks)
	assert.Equal(t, int64(2_400_000), opp.NetProfitTicks()) // $2.40
	assert.Equal(t, int64(77_600_000), opp.CostTicks())     // $77.60
	assert.NotEmpty(t, opp.ID)
}

func TestEvaluateFeesEatTheEdge(t *testing.T) {
	// Combined 0.99 leaves 0.01 gross; a 200 bps fee on 0.99 notional is
	// 0.0198, pushing net negative.
	e := NewEvaluator(Config{MinProfitTicks: 0})
	now := time.Now()

	opp, skip := e.Evaluate(activeMarket(200),
		snap("tok-yes", 500_000, 10*domain.UnitsPerShare, now),
		snap("tok-no", 490_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipBelowMinProfit, skip)
	assert.Zero(t, opp.SizeUnits)
}

func TestEvaluateBelowMinProfit(t *testing.T) {
	// 0.005/share edge with a 0.01/share floor.
	e := NewEvaluator(Config{MinProfitTicks: 10_000})
	now := time.Now()

	_, skip := e.Evaluate(activeMarket(0),
		snap("tok-yes", 500_000, 10*domain.UnitsPerShare, now),
		snap("tok-no", 495_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipBelowMinProfit, skip)
}

func TestEvaluateAtExactProfitFloor(t *testing.T) {
	// Net profit of exactly the floor is not enough; one tick over is.
	e := NewEvaluator(Config{MinProfitTicks: 10_000})
	now := time.Now()

	_, skip := e.Evaluate(activeMarket(0),
		snap("tok-yes", 500_000, 10*domain.UnitsPerShare, now),
		snap("tok-no", 490_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipBelowMinProfit, skip)

	opp, skip := e.Evaluate(activeMarket(0),
		snap("tok-yes", 500_000, 10*domain.UnitsPerShare, now),
		snap("tok-no", 489_999, 10*domain.UnitsPerShare, now),
		now)
	require.Empty(t, skip)
	assert.Equal(t, int64(10_001), opp.NetPerUnitTicks)
}

func TestEvaluateNoEdge(t *testing.T) {
	e := NewEvaluator(Config{})
	now := time.Now()

	// Combined exactly 1.00 is not an edge.
	_, skip := e.Evaluate(activeMarket(0),
		snap("tok-yes", 500_000, 10*domain.UnitsPerShare, now),
		snap("tok-no", 500_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipNoEdge, skip)

	_, skip = e.Evaluate(activeMarket(0),
		snap("tok-yes", 520_000, 10*domain.UnitsPerShare, now),
		snap("tok-no", 500_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipNoEdge, skip)
}

func TestEvaluateUnknownAndStaleBooks(t *testing.T) {
	e := NewEvaluator(Config{StalenessWindow: time.Second})
	now := time.Now()
	m := activeMarket(0)

	_, skip := e.Evaluate(m, domain.BookSnapshot{},
		snap("tok-no", 490_000, 10*domain.UnitsPerShare, now), now)
	assert.Equal(t, SkipUnknownBook, skip)

	_, skip = e.Evaluate(m,
		snap("tok-yes", 480_000, 10*domain.UnitsPerShare, now.Add(-2*time.Second)),
		snap("tok-no", 490_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipStaleBook, skip)
}

func TestEvaluateNoDepthAndInactive(t *testing.T) {
	e := NewEvaluator(Config{})
	now := time.Now()
	m := activeMarket(0)

	_, skip := e.Evaluate(m,
		snap("tok-yes", 480_000, 0, now),
		snap("tok-no", 490_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipNoDepth, skip)

	halted := m
	halted.Status = domain.MarketStatusHalted
	_, skip = e.Evaluate(halted,
		snap("tok-yes", 480_000, 10*domain.UnitsPerShare, now),
		snap("tok-no", 490_000, 10*domain.UnitsPerShare, now),
		now)
	assert.Equal(t, SkipMarketInactive, skip)
}
