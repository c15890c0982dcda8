package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/bus"
	"github.com/alanyoungcy/karb/internal/domain"
)

type recordSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (s *recordSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return nil
}

func (s *recordSender) Name() string { return "record" }

func (s *recordSender) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBridgeForwardsHighPriorityPastFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewInProc()
	sender := &recordSender{}
	// Filter allows only settlement events.
	notifier := NewNotifier([]Sender{sender}, []string{domain.EventMarketSettled}, testLogger())
	bridge := NewBridge(testLogger(), b, notifier)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()

	// Give the subscription time to register.
	require.Eventually(t, func() bool {
		return domain.PublishEvent(ctx, b, domain.EventUnhedgedPosition, map[string]any{
			"market_id": "mkt-1",
			"side":      "yes",
		}) == nil && len(sender.snapshot()) > 0
	}, time.Second, 10*time.Millisecond)

	titles := sender.snapshot()
	assert.Contains(t, titles, "UNHEDGED POSITION")

	cancel()
	<-done
}

func TestBridgeFiltersRoutineEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewInProc()
	sender := &recordSender{}
	notifier := NewNotifier([]Sender{sender}, []string{domain.EventMarketSettled}, testLogger())
	bridge := NewBridge(testLogger(), b, notifier)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		err := domain.PublishEvent(ctx, b, domain.EventMarketSettled, map[string]any{"market_id": "mkt-2"})
		require.NoError(t, err)
		return len(sender.snapshot()) > 0
	}, time.Second, 10*time.Millisecond)

	// A filtered event type never reaches the sender.
	require.NoError(t, domain.PublishEvent(ctx, b, domain.EventOpportunityDetected, map[string]any{"market_id": "mkt-3"}))
	time.Sleep(50 * time.Millisecond)

	for _, title := range sender.snapshot() {
		assert.Equal(t, "Market settled", title)
	}

	cancel()
	<-done
}

func TestFormatFieldsSortedLines(t *testing.T) {
	out := formatFields(map[string]any{
		"market_id": "mkt-1",
		"exposure":  "80",
		"side":      "yes",
	})
	assert.Equal(t, "exposure: 80\nmarket_id: mkt-1\nside: yes", out)
}
