// Package bus provides an in-process event bus for one-shot modes and
// tests, where wiring Redis would be overhead for a single subscriber.
package bus

import (
	"context"
	"sync"
)

// InProc is a channel-backed EventBus. Publishes fan out to every
// subscriber of the channel; a subscriber that falls behind drops messages
// rather than blocking the publisher.
type InProc struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewInProc creates an empty in-process bus.
func NewInProc() *InProc {
	return &InProc{subs: make(map[string][]chan []byte)}
}

// Publish delivers payload to every current subscriber of channel.
func (b *InProc) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to the named channel.
// The subscription ends, and its channel closes, when ctx is cancelled.
func (b *InProc) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
