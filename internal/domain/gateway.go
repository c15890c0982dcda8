package domain

import "context"

// Resolution is the settlement outcome of a market.
type Resolution struct {
	Resolved      bool
	WinnerTokenID string
}

// ExchangeGateway is the venue abstraction the core trades through. The
// concrete implementation owns wire formats, signing, and rate limiting;
// errors surface as the sentinel errors in this package (ErrVenueRejected,
// ErrInsufficientBalance, ErrMarketHalted, ErrAlreadyFilled).
type ExchangeGateway interface {
	// PlaceOrder submits a limit order and returns the venue order id.
	// Placement is never retried by callers: a failure aborts the attempt.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// CancelOrder cancels an open order. Returns ErrAlreadyFilled when the
	// order completed before the cancel landed.
	CancelOrder(ctx context.Context, orderID string) error

	// OrderStatus reports the current fill state of an order.
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)

	// StreamBookUpdates pushes top-of-book updates for the given tokens into
	// out until ctx is cancelled or the stream breaks. The caller owns
	// reconnection; sequence gaps are absorbed by the book store's staleness
	// handling.
	StreamBookUpdates(ctx context.Context, tokenIDs []string, out chan<- BookUpdate) error

	// FetchBook returns a one-shot book snapshot over REST, used by scan
	// mode and by the partial-fill chase to reprice the missing leg.
	FetchBook(ctx context.Context, tokenID string) (BookSnapshot, error)

	// ListActiveMarkets returns the currently tradable markets.
	ListActiveMarkets(ctx context.Context) ([]Market, error)

	// MarketResolution reports whether a market has resolved and which
	// token won.
	MarketResolution(ctx context.Context, marketID string) (Resolution, error)
}
