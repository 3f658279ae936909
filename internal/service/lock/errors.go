package lock

import "errors"

var (
	// ErrValidation covers malformed identifiers, rejected before any write.
	ErrValidation = errors.New("invalid lock request")

	// ErrConflict means another session holds a live lock on the seat. The
	// caller degrades to a held-by-other display; nothing was mutated.
	ErrConflict = errors.New("seat locked by another session")

	// ErrSeatSold means the seat belongs to a completed sale and is
	// permanently ineligible for locking in this sale instance.
	ErrSeatSold = errors.New("seat already sold")

	// ErrNotOwner means an unlock was attempted by a non-owning session.
	// Safe to treat as a no-op upstream; logged for drift investigation.
	ErrNotOwner = errors.New("lock owned by another session")
)
