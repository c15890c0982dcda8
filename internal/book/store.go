// Package book maintains the latest order book snapshot per token and wakes
// the scheduler when tracked markets change.
package book

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/karb/internal/domain"
)

// Store holds the most recent accepted snapshot for every tracked token.
// Snapshots are whole-value replacements guarded by sequence numbers, so a
// late-arriving update can never roll the book backwards. All methods are
// safe for concurrent use.
type Store struct {
	logger *slog.Logger

	mu sync.RWMutex
	// snaps is keyed by token id.
	snaps map[string]domain.BookSnapshot
	// markets maps token id -> market id for wake routing.
	markets map[string]string
	subs    []chan<- string
}

// NewStore creates an empty book store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:  logger.With(slog.String("component", "book_store")),
		snaps:   make(map[string]domain.BookSnapshot),
		markets: make(map[string]string),
	}
}

// Track registers a market's tokens so updates for them route wake
// notifications to that market. Re-tracking an existing market is a no-op.
func (s *Store) Track(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.YesTokenID] = m.ID
	s.markets[m.NoTokenID] = m.ID
}

// Untrack removes a market's tokens and their snapshots.
func (s *Store) Untrack(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markets, m.YesTokenID)
	delete(s.markets, m.NoTokenID)
	delete(s.snaps, m.YesTokenID)
	delete(s.snaps, m.NoTokenID)
}

// TrackedTokens returns the token ids of every tracked market, for feed
// subscription.
func (s *Store) TrackedTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]string, 0, len(s.markets))
	for tok := range s.markets {
		tokens = append(tokens, tok)
	}
	return tokens
}

// Subscribe returns a channel that receives the market id of every market
// whose book changed. Sends are non-blocking: a slow consumer misses wakes,
// never blocks the feed, and catches up on its periodic rescan.
func (s *Store) Subscribe(buffer int) <-chan string {
	ch := make(chan string, buffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Update applies a book update. Updates whose sequence number does not
// advance the stored snapshot are dropped and return domain.ErrStaleSnapshot;
// dropped updates do not wake subscribers.
func (s *Store) Update(u domain.BookUpdate) error {
	s.mu.Lock()
	cur, ok := s.snaps[u.TokenID]
	if ok && u.Seq <= cur.Seq {
		s.mu.Unlock()
		s.logger.Debug("dropped stale book update",
			slog.String("token_id", u.TokenID),
			slog.Uint64("seq", u.Seq),
			slog.Uint64("have_seq", cur.Seq))
		return domain.ErrStaleSnapshot
	}
	s.snaps[u.TokenID] = u.Snapshot()
	marketID := s.markets[u.TokenID]
	subs := s.subs
	s.mu.Unlock()

	if marketID == "" {
		return nil
	}
	for _, ch := range subs {
		select {
		case ch <- marketID:
		default:
		}
	}
	return nil
}

// Get returns the latest snapshot for a token. The zero snapshot (Known()
// false) is returned when nothing has been received yet.
func (s *Store) Get(tokenID string) domain.BookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[tokenID]
}

// Pair returns both snapshots for a market in one lock acquisition so the
// evaluator sees a consistent view.
func (s *Store) Pair(m domain.Market) (yes, no domain.BookSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[m.YesTokenID], s.snaps[m.NoTokenID]
}
