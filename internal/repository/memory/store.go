// Package memory implements the lock and sale stores on process memory.
// It mirrors the postgres semantics exactly and backs tests and local
// single-node runs where no database is available.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/repository"
)

type key struct {
	saleInstanceID int64
	seatID         string
}

// Store holds locks and sale membership behind one mutex. Contention is not
// a concern at test scale, and the single critical section is what makes the
// upsert a true compare-and-swap.
type Store struct {
	mu    sync.Mutex
	locks map[key]domain.SeatLock
	sold  map[key]uuid.UUID
	sales map[uuid.UUID]domain.SaleRecord

	// now is swappable so tests can move time instead of sleeping.
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		locks: make(map[key]domain.SeatLock),
		sold:  make(map[key]uuid.UUID),
		sales: make(map[uuid.UUID]domain.SaleRecord),
		now:   time.Now,
	}
}

// SetClock replaces the time source. Test use only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Upsert(ctx context.Context, w repository.LockWrite) (domain.SeatLock, bool, error) {
	const op = "memory.Store.Upsert"

	if err := ctx.Err(); err != nil {
		return domain.SeatLock{}, false, fmt.Errorf("%s:%w", op, err)
	}

	if w.Status == "" {
		w.Status = domain.LockSelected
	}
	if w.LockType == "" {
		w.LockType = domain.LockTypeSeat
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{w.SaleInstanceID, w.SeatID}
	now := s.now()

	if _, ok := s.sold[k]; ok {
		return domain.SeatLock{}, false, fmt.Errorf("%s:%w", op, repository.ErrSeatSold)
	}

	cur, exists := s.locks[k]
	live := exists && !cur.Expired(now)
	if live && cur.SessionID != w.SessionID {
		return domain.SeatLock{}, false, fmt.Errorf("%s:%w", op, repository.ErrLockConflict)
	}

	lock := domain.SeatLock{
		SeatID:         w.SeatID,
		SaleInstanceID: w.SaleInstanceID,
		SessionID:      w.SessionID,
		Status:         w.Status,
		LockType:       w.LockType,
		LockedAt:       now,
		ExpiresAt:      now.Add(w.TTL),
		TenantID:       w.TenantID,
		UserID:         w.UserID,
		Metadata:       w.Metadata,
	}
	s.locks[k] = lock

	return lock, !live, nil
}

func (s *Store) DeleteOwned(
	ctx context.Context,
	seatID string,
	saleInstanceID int64,
	sessionID string,
) (bool, error) {
	const op = "memory.Store.DeleteOwned"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{saleInstanceID, seatID}
	cur, ok := s.locks[k]
	if !ok || cur.Expired(s.now()) {
		return false, nil
	}

	if cur.SessionID != sessionID {
		return false, fmt.Errorf("%s:%w", op, repository.ErrNotOwner)
	}

	delete(s.locks, k)

	return true, nil
}

func (s *Store) SnapshotBatch(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
) (map[string]domain.SeatSnapshot, error) {
	const op = "memory.Store.SnapshotBatch"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]domain.SeatSnapshot, len(seatIDs))
	for _, seatID := range seatIDs {
		k := key{saleInstanceID, seatID}

		if _, sold := s.sold[k]; sold {
			out[seatID] = domain.SeatSnapshot{Sold: true}
			continue
		}

		lock, ok := s.locks[k]
		if !ok || lock.Expired(now) {
			out[seatID] = domain.SeatSnapshot{}
			continue
		}

		out[seatID] = lock.Snapshot()
	}

	return out, nil
}

func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	const op = "memory.Store.SweepExpired"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var swept int64
	for k, lock := range s.locks {
		if lock.Expired(now) {
			delete(s.locks, k)
			swept++
		}
	}

	return swept, nil
}

func (s *Store) CountsByStatus(ctx context.Context, saleInstanceID int64) (*domain.SeatCounts, error) {
	const op = "memory.Store.CountsByStatus"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var c domain.SeatCounts
	for k, lock := range s.locks {
		if k.saleInstanceID != saleInstanceID || lock.Expired(now) {
			continue
		}
		switch lock.Status {
		case domain.LockSelected:
			c.Held++
		case domain.LockAdminReserved:
			c.Reserved++
		case domain.LockVoid:
			c.Void++
		}
	}
	for k := range s.sold {
		if k.saleInstanceID == saleInstanceID {
			c.Sold++
		}
	}

	return &c, nil
}

func (s *Store) Complete(
	ctx context.Context,
	saleInstanceID, buyerID int64,
	seatIDs []string,
) (*domain.SaleRecord, error) {
	const op = "memory.Store.Complete"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seatID := range seatIDs {
		if _, ok := s.sold[key{saleInstanceID, seatID}]; ok {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrSeatSold)
		}
	}

	rec := domain.SaleRecord{
		ID:             uuid.New(),
		SaleInstanceID: saleInstanceID,
		BuyerID:        buyerID,
		Status:         domain.SaleCompleted,
		SeatIDs:        append([]string(nil), seatIDs...),
		CompletedAt:    s.now(),
	}

	for _, seatID := range seatIDs {
		k := key{saleInstanceID, seatID}
		s.sold[k] = rec.ID
		delete(s.locks, k)
	}
	s.sales[rec.ID] = rec

	return &rec, nil
}

func (s *Store) SoldSeats(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
) (map[string]bool, error) {
	const op = "memory.Store.SoldSeats"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool)
	for _, seatID := range seatIDs {
		if _, ok := s.sold[key{saleInstanceID, seatID}]; ok {
			out[seatID] = true
		}
	}

	return out, nil
}
