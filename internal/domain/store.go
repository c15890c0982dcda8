package domain

import (
	"context"
	"time"
)

// AttemptStore persists execution attempts and their legs.
type AttemptStore interface {
	Create(ctx context.Context, a Attempt) error
	Update(ctx context.Context, a Attempt) error
	GetByID(ctx context.Context, id string) (Attempt, error)
	ListRecent(ctx context.Context, limit int) ([]Attempt, error)
	// ListResolvedBefore returns resolved attempts older than the cutoff,
	// for archival.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Attempt, error)
}

// OpportunityStore records detected opportunities for audit and research.
type OpportunityStore interface {
	Insert(ctx context.Context, o Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// PositionStore persists position state alongside the ledger's in-memory
// accounting, so holdings survive restarts and can be reconciled.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	ListOpen(ctx context.Context) ([]Position, error)
	MarkSettled(ctx context.Context, marketID, tokenID string, pnlTicks int64, at time.Time) error
}

// AuditEntry is one recorded audit action.
type AuditEntry struct {
	ID      int64
	Action  string
	Details map[string]any
	At      time.Time
}

// AuditStore is an append-only action log.
type AuditStore interface {
	Log(ctx context.Context, action string, details map[string]any) error
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// BookMirror mirrors the latest best ask per token to a shared cache for
// external consumers (dashboards, other processes).
type BookMirror interface {
	SetBestAsk(ctx context.Context, tokenID string, priceTicks, sizeUnits int64, seq uint64) error
	GetBestAsk(ctx context.Context, tokenID string) (priceTicks, sizeUnits int64, err error)
}

// LockManager provides distributed locking; the trade mode holds a lock for
// its whole lifetime so two instances never trade the same account.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
