package book

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/domain"
)

func testMarket() domain.Market {
	return domain.Market{
		ID:         "mkt-1",
		YesTokenID: "tok-yes",
		NoTokenID:  "tok-no",
		Status:     domain.MarketStatusActive,
	}
}

func update(token string, seq uint64, askTicks, askSize int64) domain.BookUpdate {
	return domain.BookUpdate{
		TokenID:      token,
		AskTicks:     askTicks,
		AskSizeUnits: askSize,
		Seq:          seq,
		At:           time.Now(),
	}
}

func TestStoreUpdateAndGet(t *testing.T) {
	s := NewStore(slog.Default())
	s.Track(testMarket())

	require.NoError(t, s.Update(update("tok-yes", 1, 480_000, 100_000_000)))

	snap := s.Get("tok-yes")
	assert.True(t, snap.Known())
	assert.Equal(t, int64(480_000), snap.AskTicks)

	assert.False(t, s.Get("tok-no").Known())
}

func TestStoreRejectsStaleSeq(t *testing.T) {
	s := NewStore(slog.Default())
	s.Track(testMarket())

	require.NoError(t, s.Update(update("tok-yes", 5, 480_000, 100_000_000)))

	// Same seq and older seq are both dropped; the stored snapshot keeps
	// the newer price.
	err := s.Update(update("tok-yes", 5, 470_000, 100_000_000))
	assert.ErrorIs(t, err, domain.ErrStaleSnapshot)
	err = s.Update(update("tok-yes", 3, 460_000, 100_000_000))
	assert.ErrorIs(t, err, domain.ErrStaleSnapshot)

	assert.Equal(t, int64(480_000), s.Get("tok-yes").AskTicks)
}

func TestStoreWakesSubscribersOnAcceptedUpdatesOnly(t *testing.T) {
	s := NewStore(slog.Default())
	s.Track(testMarket())
	wake := s.Subscribe(4)

	require.NoError(t, s.Update(update("tok-yes", 1, 480_000, 100_000_000)))
	select {
	case id := <-wake:
		assert.Equal(t, "mkt-1", id)
	default:
		t.Fatal("expected a wake after accepted update")
	}

	// Stale update: no wake.
	_ = s.Update(update("tok-yes", 1, 470_000, 100_000_000))
	select {
	case <-wake:
		t.Fatal("stale update must not wake subscribers")
	default:
	}

	// Untracked token: stored nowhere to route, no wake.
	require.NoError(t, s.Update(update("tok-other", 1, 500_000, 1_000_000)))
	select {
	case <-wake:
		t.Fatal("untracked token must not wake subscribers")
	default:
	}
}

func TestStoreSlowSubscriberNeverBlocks(t *testing.T) {
	s := NewStore(slog.Default())
	s.Track(testMarket())
	_ = s.Subscribe(1)

	// More updates than the subscriber buffer; Update must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 50; i++ {
			_ = s.Update(update("tok-yes", i, 480_000, 100_000_000))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update blocked on a full subscriber channel")
	}
}

func TestStorePairAndUntrack(t *testing.T) {
	s := NewStore(slog.Default())
	m := testMarket()
	s.Track(m)

	require.NoError(t, s.Update(update("tok-yes", 1, 480_000, 80_000_000)))
	require.NoError(t, s.Update(update("tok-no", 1, 490_000, 120_000_000)))

	yes, no := s.Pair(m)
	assert.Equal(t, int64(480_000), yes.AskTicks)
	assert.Equal(t, int64(490_000), no.AskTicks)

	s.Untrack(m)
	yes, no = s.Pair(m)
	assert.False(t, yes.Known())
	assert.False(t, no.Known())
	assert.Empty(t, s.TrackedTokens())
}
