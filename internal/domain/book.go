package domain

import "time"

// BookLevel is a single price+size entry in an order book.
type BookLevel struct {
	PriceTicks int64
	SizeUnits  int64
}

// BookSnapshot is the latest known top-of-book state for one token. A
// snapshot is an immutable value: the book store replaces it wholesale on
// every accepted update and readers always see a consistent copy.
type BookSnapshot struct {
	TokenID      string
	AskTicks     int64 // best ask price; 0 = no asks
	AskSizeUnits int64
	BidTicks     int64 // best bid price; 0 = no bids
	BidSizeUnits int64
	// Asks holds deeper ask levels, best first, when the feed provides them.
	Asks []BookLevel
	Seq  uint64
	At   time.Time
}

// Known reports whether any book data has been received for the token.
func (s BookSnapshot) Known() bool {
	return s.TokenID != "" && s.Seq > 0
}

// BookUpdate is one top-of-book change streamed from the exchange gateway.
type BookUpdate struct {
	TokenID      string
	AskTicks     int64
	AskSizeUnits int64
	BidTicks     int64
	BidSizeUnits int64
	Asks         []BookLevel
	Seq          uint64
	At           time.Time
}

// Snapshot converts the update into the stored snapshot form.
func (u BookUpdate) Snapshot() BookSnapshot {
	return BookSnapshot{
		TokenID:      u.TokenID,
		AskTicks:     u.AskTicks,
		AskSizeUnits: u.AskSizeUnits,
		BidTicks:     u.BidTicks,
		BidSizeUnits: u.BidSizeUnits,
		Asks:         u.Asks,
		Seq:          u.Seq,
		At:           u.At,
	}
}
