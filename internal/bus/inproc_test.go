package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcFanOut(t *testing.T) {
	b := NewInProc()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	sub2, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "events", []byte(`{"event":"x"}`)))

	for _, sub := range []<-chan []byte{sub1, sub2} {
		select {
		case msg := <-sub:
			assert.JSONEq(t, `{"event":"x"}`, string(msg))
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestInProcChannelsAreIsolated(t *testing.T) {
	b := NewInProc()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "events", []byte("payload")))

	select {
	case <-sub:
		t.Fatal("message crossed channels")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInProcSubscriptionClosesOnCancel(t *testing.T) {
	b := NewInProc()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-sub:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription channel did not close")
	}

	// Publishing after the subscriber left must not panic or block.
	require.NoError(t, b.Publish(context.Background(), "events", []byte("late")))
}
