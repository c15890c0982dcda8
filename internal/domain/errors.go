package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrStaleSnapshot       = errors.New("stale book snapshot")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrVenueRejected       = errors.New("rejected by venue")
	ErrInsufficientBalance = errors.New("insufficient venue balance")
	ErrMarketHalted        = errors.New("market halted")
	ErrAlreadyFilled       = errors.New("order already filled")
	ErrAttemptActive       = errors.New("execution attempt already active for market")
	ErrLedgerInvariant     = errors.New("ledger invariant violated")
	ErrTradingHalted       = errors.New("trading halted")
	ErrLockHeld            = errors.New("lock already held")
	ErrWSDisconnect        = errors.New("websocket disconnected")
)
