package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/repository"
)

// Feed publishes change events after a committed store mutation.
type Feed interface {
	PublishLock(ctx context.Context, ev domain.LockEvent) error
	PublishSale(ctx context.Context, ev domain.SaleEvent) error
}

// StatusCache is the short-TTL read-through layer for status reads. A nil
// cache disables caching entirely.
type StatusCache interface {
	GetSnapshots(ctx context.Context, saleInstanceID int64, seatIDs []string) (map[string]domain.SeatSnapshot, error)
	SetSnapshots(ctx context.Context, saleInstanceID int64, snaps map[string]domain.SeatSnapshot, ttl time.Duration) error
	GetOrSetCounts(ctx context.Context, saleInstanceID int64, ttl time.Duration, loader func(ctx context.Context) (*domain.SeatCounts, error)) (*domain.SeatCounts, error)
	InvalidateSeats(ctx context.Context, saleInstanceID int64, seatIDs ...string) error
}

type Config struct {
	// MinTTL floors requested TTLs. It guards against near-zero requests
	// that would expire mid-write; short TTLs the caller asked for are
	// otherwise honored as given.
	MinTTL     time.Duration
	MaxTTL     time.Duration
	DefaultTTL time.Duration
	StatusTTL  time.Duration
}

// Service is the Lock Manager: atomic, idempotent lock/unlock/status against
// the authoritative store, with per-seat mutual exclusion and ownership rules
// enforced at the store and an in-process per-seat in-flight guard on top.
type Service struct {
	locks    repository.LockStore
	cache    StatusCache
	feed     Feed
	inflight *keyedInflight
	cfg      Config
}

func New(locks repository.LockStore, cache StatusCache, feed Feed, cfg Config) *Service {
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = time.Second
	}

	if cfg.MaxTTL <= 0 || cfg.MaxTTL < cfg.MinTTL {
		cfg.MaxTTL = 30 * time.Minute
	}

	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}

	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Second
	}

	return &Service{
		locks:    locks,
		cache:    cache,
		feed:     feed,
		inflight: newKeyedInflight(),
		cfg:      cfg,
	}
}

// LockRequest describes one lock acquisition or refresh.
type LockRequest struct {
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

// Lock acquires or refreshes the seat lock.
//
// The write succeeds when the seat is free, its lock expired, or the caller
// already owns it. On success the affected cache entry is invalidated and an
// insert/update event is published to the sale instance's change feed.
//
// Returns:
//   - domain.SeatLock: the persisted lock.
//   - error: ErrValidation, ErrConflict, or ErrSeatSold.
func (s *Service) Lock(ctx context.Context, req LockRequest) (domain.SeatLock, error) {
	const op = "service.lock.Lock"

	if err := validateIdentity(op, req.SeatID, req.SaleInstanceID, req.SessionID); err != nil {
		return domain.SeatLock{}, err
	}

	ttl := s.clampTTL(req.TTL)

	var (
		lock    domain.SeatLock
		created bool
	)

	err := s.inflight.do(seatKey(req.SaleInstanceID, req.SeatID), func() error {
		var err error
		lock, created, err = s.locks.Upsert(ctx, repository.LockWrite{
			SeatID:         req.SeatID,
			SaleInstanceID: req.SaleInstanceID,
			SessionID:      req.SessionID,
			Status:         req.Status,
			LockType:       req.LockType,
			TTL:            ttl,
			TenantID:       req.TenantID,
			UserID:         req.UserID,
			Metadata:       req.Metadata,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrLockConflict) {
			return domain.SeatLock{}, fmt.Errorf("%s:%w", op, ErrConflict)
		}

		if errors.Is(err, repository.ErrSeatSold) {
			return domain.SeatLock{}, fmt.Errorf("%s:%w", op, ErrSeatSold)
		}

		return domain.SeatLock{}, fmt.Errorf("%s:%w", op, err)
	}

	opKind := domain.OpUpdate
	if created {
		opKind = domain.OpInsert
	}

	s.afterMutation(ctx, req.SaleInstanceID, req.SeatID, domain.LockEvent{
		Op:             opKind,
		SeatID:         lock.SeatID,
		SaleInstanceID: lock.SaleInstanceID,
		SessionID:      lock.SessionID,
		Status:         lock.Status,
		LockedAt:       lock.LockedAt,
	})

	return lock, nil
}

// Unlock releases the session's lock on a seat.
//
// Releasing an absent or expired lock is a success no-op. A lock owned by a
// different session is untouched and reported as ErrNotOwner.
func (s *Service) Unlock(ctx context.Context, seatID string, saleInstanceID int64, sessionID string) error {
	const op = "service.lock.Unlock"

	if err := validateIdentity(op, seatID, saleInstanceID, sessionID); err != nil {
		return err
	}

	var deleted bool

	err := s.inflight.do(seatKey(saleInstanceID, seatID), func() error {
		var err error
		deleted, err = s.locks.DeleteOwned(ctx, seatID, saleInstanceID, sessionID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotOwner) {
			return fmt.Errorf("%s:%w", op, ErrNotOwner)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	if !deleted {
		return nil
	}

	s.afterMutation(ctx, saleInstanceID, seatID, domain.LockEvent{
		Op:             domain.OpDelete,
		SeatID:         seatID,
		SaleInstanceID: saleInstanceID,
		SessionID:      sessionID,
		LockedAt:       time.Now().UTC(),
	})

	return nil
}

// Status maps each seat to the state sessionID sees.
//
// Reads go through the short-TTL snapshot cache unless bypass is set. Page
// load, reconnect and the final pre-checkout check pass bypass=true and hit
// the store directly.
func (s *Service) Status(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
	sessionID string,
	bypass bool,
) (map[string]domain.SeatState, error) {
	const op = "service.lock.Status"

	if saleInstanceID <= 0 {
		return nil, fmt.Errorf("%s:%w: sale_instance_id required", op, ErrValidation)
	}

	if len(seatIDs) == 0 {
		return map[string]domain.SeatState{}, nil
	}

	snaps := make(map[string]domain.SeatSnapshot, len(seatIDs))
	missing := seatIDs

	if s.cache != nil && !bypass {
		cached, err := s.cache.GetSnapshots(ctx, saleInstanceID, seatIDs)
		if err == nil {
			missing = missing[:0:0]
			for _, seatID := range seatIDs {
				if snap, ok := cached[seatID]; ok {
					snaps[seatID] = snap
				} else {
					missing = append(missing, seatID)
				}
			}
		}
	}

	if len(missing) > 0 {
		loaded, err := s.locks.SnapshotBatch(ctx, saleInstanceID, missing)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		for seatID, snap := range loaded {
			snaps[seatID] = snap
		}

		if s.cache != nil && !bypass {
			_ = s.cache.SetSnapshots(ctx, saleInstanceID, loaded, s.cfg.StatusTTL)
		}
	}

	out := make(map[string]domain.SeatState, len(seatIDs))
	for _, seatID := range seatIDs {
		out[seatID] = snaps[seatID].StateFor(sessionID)
	}

	return out, nil
}

// Counts returns availability counters for a sale instance.
func (s *Service) Counts(ctx context.Context, saleInstanceID int64) (*domain.SeatCounts, error) {
	const op = "service.lock.Counts"

	if saleInstanceID <= 0 {
		return nil, fmt.Errorf("%s:%w: sale_instance_id required", op, ErrValidation)
	}

	if s.cache != nil {
		counts, err := s.cache.GetOrSetCounts(ctx, saleInstanceID, s.cfg.StatusTTL,
			func(ctx context.Context) (*domain.SeatCounts, error) {
				return s.locks.CountsByStatus(ctx, saleInstanceID)
			})
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		return counts, nil
	}

	counts, err := s.locks.CountsByStatus(ctx, saleInstanceID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return counts, nil
}

// Invalidate drops a seat's cached state. Wired to broadcast handling so a
// feed event immediately retires any stale cache entry.
func (s *Service) Invalidate(ctx context.Context, saleInstanceID int64, seatIDs ...string) {
	if s.cache != nil {
		_ = s.cache.InvalidateSeats(ctx, saleInstanceID, seatIDs...)
	}
}

func (s *Service) afterMutation(ctx context.Context, saleInstanceID int64, seatID string, ev domain.LockEvent) {
	if s.cache != nil {
		_ = s.cache.InvalidateSeats(ctx, saleInstanceID, seatID)
	}

	if s.feed != nil {
		_ = s.feed.PublishLock(ctx, ev)
	}
}

// clampTTL fills in an absent TTL and bounds a present one. The floor is
// deliberately low so a caller asking for a short-lived lock gets one; see
// Config.MinTTL to tune it.
func (s *Service) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.DefaultTTL
	}

	if ttl < s.cfg.MinTTL {
		return s.cfg.MinTTL
	}

	if ttl > s.cfg.MaxTTL {
		return s.cfg.MaxTTL
	}

	return ttl
}

func validateIdentity(op, seatID string, saleInstanceID int64, sessionID string) error {
	if seatID == "" {
		return fmt.Errorf("%s:%w: seat_id required", op, ErrValidation)
	}

	if saleInstanceID <= 0 {
		return fmt.Errorf("%s:%w: sale_instance_id required", op, ErrValidation)
	}

	if sessionID == "" {
		return fmt.Errorf("%s:%w: session_id required", op, ErrValidation)
	}

	return nil
}
