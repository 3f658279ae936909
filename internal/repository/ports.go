package repository

import (
	"context"
	"time"

	"github.com/kirinyoku/seatlock/internal/domain"
)

// LockWrite carries everything a lock upsert needs. Status defaults to
// selected and LockType to seat when left empty.
type LockWrite struct {
	SeatID         string
	SaleInstanceID int64
	SessionID      string
	Status         domain.LockStatus
	LockType       domain.LockType
	TTL            time.Duration
	TenantID       string
	UserID         int64
	Metadata       []byte
}

// LockStore is the authoritative lock table. Implementations must make
// Upsert a single atomic compare-and-swap: succeed only when the row is
// absent, expired, or already owned by the writing session.
type LockStore interface {
	// Upsert acquires or refreshes a lock. The bool reports whether a new
	// row was created (insert) as opposed to refreshed (update). Returns
	// ErrLockConflict when a live lock is owned by another session and
	// ErrSeatSold when the seat belongs to a completed sale.
	Upsert(ctx context.Context, w LockWrite) (domain.SeatLock, bool, error)

	// DeleteOwned removes the session's lock. An absent or expired row is a
	// success no-op (false, nil). A live row owned by someone else returns
	// ErrNotOwner and mutates nothing.
	DeleteOwned(ctx context.Context, seatID string, saleInstanceID int64, sessionID string) (bool, error)

	// SnapshotBatch returns the session-agnostic view of each seat,
	// treating expired rows as absent and consulting sold membership first.
	SnapshotBatch(ctx context.Context, saleInstanceID int64, seatIDs []string) (map[string]domain.SeatSnapshot, error)

	// SweepExpired physically deletes rows whose expires_at has passed,
	// evaluated at deletion time. Safe to run concurrently with itself and
	// with in-flight unlocks.
	SweepExpired(ctx context.Context) (int64, error)

	CountsByStatus(ctx context.Context, saleInstanceID int64) (*domain.SeatCounts, error)
}

// SaleStore records completed sales and answers sold-membership queries.
type SaleStore interface {
	// Complete records a sale, marks its seats permanently sold and removes
	// any superseded lock rows. A seat already sold in the same sale
	// instance returns ErrSeatSold.
	Complete(ctx context.Context, saleInstanceID, buyerID int64, seatIDs []string) (*domain.SaleRecord, error)

	// SoldSeats returns the subset of seatIDs already sold for the instance.
	SoldSeats(ctx context.Context, saleInstanceID int64, seatIDs []string) (map[string]bool, error)
}
