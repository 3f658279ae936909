package domain

import (
	"time"

	"github.com/google/uuid"
)

// SeatState is the state of one seat as seen by one session. It is derived
// per read by joining lock presence/ownership with sold-seat membership and
// is never stored.
type SeatState string

const (
	SeatAvailable     SeatState = "available"
	SeatHeldByMe      SeatState = "held-by-me"
	SeatHeldByOther   SeatState = "held-by-other"
	SeatSold          SeatState = "sold"
	SeatAdminReserved SeatState = "admin-reserved"
	SeatVoid          SeatState = "void"
)

// Interactive reports whether a toggle on a seat in this state does anything.
// Only available seats and the session's own holds react to clicks.
func (s SeatState) Interactive() bool {
	return s == SeatAvailable || s == SeatHeldByMe
}

type LockStatus string

const (
	LockSelected      LockStatus = "selected"
	LockAdminReserved LockStatus = "admin-reserved"
	LockVoid          LockStatus = "void"
)

type LockType string

const (
	LockTypeSeat  LockType = "seat"
	LockTypeTable LockType = "table"
)

// SeatLock is one row of the authoritative lock table: a time-bounded
// exclusive claim on a seat within a sale instance. At most one non-expired
// row exists per (sale_instance_id, seat_id).
type SeatLock struct {
	SeatID         string
	SaleInstanceID int64
	SessionID      string
	Status         LockStatus
	LockType       LockType
	LockedAt       time.Time
	ExpiresAt      time.Time
	TenantID       string
	UserID         int64
	Metadata       []byte // jsonb raw
}

// Expired reports whether the lock is logically absent at the given instant.
func (l SeatLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Snapshot converts the live lock row to its session-agnostic read view.
func (l SeatLock) Snapshot() SeatSnapshot {
	return SeatSnapshot{Held: true, Owner: l.SessionID, Status: l.Status}
}

// SeatSnapshot is the session-agnostic view of one seat used by the status
// read path and its cache: who owns the lock (if any) and whether the seat
// is sold. Per-session SeatState is derived from it, which keeps cache keys
// independent of the requesting session.
type SeatSnapshot struct {
	Sold   bool       `json:"sold"`
	Held   bool       `json:"held"`
	Owner  string     `json:"owner,omitempty"`
	Status LockStatus `json:"status,omitempty"`
}

// StateFor derives the SeatState sessionID would see from the snapshot.
func (s SeatSnapshot) StateFor(sessionID string) SeatState {
	switch {
	case s.Sold:
		return SeatSold
	case !s.Held:
		return SeatAvailable
	case s.Status == LockAdminReserved:
		return SeatAdminReserved
	case s.Status == LockVoid:
		return SeatVoid
	case s.Owner == sessionID:
		return SeatHeldByMe
	default:
		return SeatHeldByOther
	}
}

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
)

// SaleRecord is immutable once completed. Seats it references are permanently
// excluded from locking for that sale instance, whether or not a lock row
// still physically exists.
type SaleRecord struct {
	ID             uuid.UUID
	SaleInstanceID int64
	BuyerID        int64
	Status         SaleStatus
	SeatIDs        []string
	CompletedAt    time.Time
}

type EventOp string

const (
	OpInsert EventOp = "insert"
	OpUpdate EventOp = "update"
	OpDelete EventOp = "delete"
)

// LockEvent is the per-sale-instance change-feed payload for a lock mutation.
// LockedAt orders events: consumers apply last-write-wins on it, not on
// arrival order.
type LockEvent struct {
	Op             EventOp    `json:"op"`
	SeatID         string     `json:"seat_id"`
	SaleInstanceID int64      `json:"sale_instance_id"`
	SessionID      string     `json:"session_id"`
	Status         LockStatus `json:"status"`
	LockedAt       time.Time  `json:"locked_at"`
}

// SaleEvent announces a completed sale on the change feed. It is distinct
// from lock events: sold is terminal and supersedes any lock state.
type SaleEvent struct {
	SaleID         uuid.UUID `json:"sale_id"`
	SaleInstanceID int64     `json:"sale_instance_id"`
	SeatIDs        []string  `json:"seat_ids"`
	CompletedAt    time.Time `json:"completed_at"`
}

// SeatCounts summarizes one sale instance for availability displays.
type SeatCounts struct {
	Held     int64
	Sold     int64
	Reserved int64
	Void     int64
}
