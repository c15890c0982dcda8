// Package feed bridges the exchange's book stream into the in-memory book
// store, reconnecting and resubscribing as the tracked token set changes.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/karb/internal/book"
	"github.com/alanyoungcy/karb/internal/domain"
)

const (
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
	// resubscribeInterval bounds how long a stream keeps running on a stale
	// token set after discovery changes the tracked markets.
	resubscribeInterval = 5 * time.Minute
)

// Feed consumes book updates from the gateway stream and applies them to
// the store. The mirror is optional; when set, each accepted update's best
// ask is pushed to the shared cache.
type Feed struct {
	logger  *slog.Logger
	gateway domain.ExchangeGateway
	books   *book.Store
	mirror  domain.BookMirror
}

// New creates a feed. mirror may be nil.
func New(logger *slog.Logger, gw domain.ExchangeGateway, books *book.Store, mirror domain.BookMirror) *Feed {
	return &Feed{
		logger:  logger.With(slog.String("component", "feed")),
		gateway: gw,
		books:   books,
		mirror:  mirror,
	}
}

// Run streams until ctx is cancelled, reconnecting with exponential backoff
// on every stream failure. Each (re)connection subscribes to the store's
// current token set.
func (f *Feed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		tokens := f.books.TrackedTokens()
		if len(tokens) == 0 {
			f.logger.Info("no tracked tokens yet, waiting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			continue
		}

		err := f.stream(ctx, tokens)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errResubscribe) {
			// Planned rotation onto the current token set, no backoff.
			delay = reconnectDelay
			continue
		}

		f.logger.Warn("stream ended, reconnecting",
			slog.Duration("backoff", delay), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

var errResubscribe = errors.New("feed: token set rotation")

func (f *Feed) stream(ctx context.Context, tokens []string) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan domain.BookUpdate, 256)
	errc := make(chan error, 1)
	go func() {
		errc <- f.gateway.StreamBookUpdates(streamCtx, tokens, updates)
	}()

	f.logger.Info("streaming books", slog.Int("tokens", len(tokens)))
	rotate := time.NewTimer(resubscribeInterval)
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			<-errc
			return ctx.Err()
		case err := <-errc:
			// Apply whatever the stream buffered before it died.
			for {
				select {
				case u := <-updates:
					f.apply(ctx, u)
				default:
					return err
				}
			}
		case <-rotate.C:
			cancel()
			<-errc
			return errResubscribe
		case u := <-updates:
			f.apply(ctx, u)
		}
	}
}

func (f *Feed) apply(ctx context.Context, u domain.BookUpdate) {
	if err := f.books.Update(u); err != nil {
		// Stale updates are expected after reconnects.
		return
	}
	if f.mirror == nil {
		return
	}
	if err := f.mirror.SetBestAsk(ctx, u.TokenID, u.AskTicks, u.AskSizeUnits, u.Seq); err != nil {
		f.logger.Debug("mirror update failed",
			slog.String("token_id", u.TokenID), slog.Any("error", err))
	}
}
