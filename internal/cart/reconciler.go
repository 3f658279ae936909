// Package cart holds the session-side reconciliation logic: a per-seat state
// machine translating user toggles into lock manager calls while keeping the
// displayed selection responsive and convergent with the store.
//
// The local selection is never authoritative. It is mutated optimistically on
// every toggle, rolled back on conflict, corrected by broadcast events
// applied last-write-wins, and resynchronized by one authoritative status
// read after any feed gap.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/realtime"
	lockservice "github.com/kirinyoku/seatlock/internal/service/lock"
)

// Client is the session's view of the Lock Manager, with the sale instance
// and session identity already bound.
type Client interface {
	Lock(ctx context.Context, seatID string, ttl time.Duration) (domain.SeatLock, error)
	Unlock(ctx context.Context, seatID string) error
	// Status is the authoritative read: it must bypass any caching layer.
	Status(ctx context.Context, seatIDs []string) (map[string]domain.SeatState, error)
}

type seatView struct {
	state domain.SeatState
	// appliedAt is the last-write-wins watermark: events stamped at or
	// before it are stale and discarded.
	appliedAt time.Time
	// pending marks an outstanding lock/unlock call for this seat. While
	// set, further toggles only rewrite want; exactly one call is in
	// flight per seat.
	pending bool
	// want is the last requested intent: true means the session wants to
	// hold the seat.
	want bool
}

// Reconciler is one session's cart. Methods are safe for concurrent use by
// the UI goroutine and the event dispatch loop.
type Reconciler struct {
	client    Client
	sessionID string
	ttl       time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	seats      map[string]*seatView
	staleDrops int64

	now func() time.Time
}

func NewReconciler(
	client Client,
	sessionID string,
	ttl time.Duration,
	seatIDs []string,
	logger *slog.Logger,
) *Reconciler {
	r := &Reconciler{
		client:    client,
		sessionID: sessionID,
		ttl:       ttl,
		logger:    logger,
		seats:     make(map[string]*seatView, len(seatIDs)),
		now:       time.Now,
	}

	for _, seatID := range seatIDs {
		r.seats[seatID] = &seatView{state: domain.SeatAvailable}
	}

	return r
}

// Toggle flips the session's intent for a seat. The displayed state changes
// immediately; the store call runs asynchronously. A toggle while a call is
// outstanding only rewrites the desired intent, so concurrent writes for one
// seat never happen and only the last intent is committed.
//
// Toggles on held-by-other, sold, admin-reserved or void seats are no-ops.
func (r *Reconciler) Toggle(ctx context.Context, seatID string) {
	r.mu.Lock()

	v := r.seat(seatID)
	if !v.state.Interactive() {
		r.mu.Unlock()
		return
	}

	v.want = !v.want

	// Optimistic flip: the UI reflects intent before the store answers.
	if v.want {
		v.state = domain.SeatHeldByMe
	} else {
		v.state = domain.SeatAvailable
	}

	if v.pending {
		// Coalesce: the in-flight call's completion will notice the new
		// intent and follow up.
		r.mu.Unlock()
		return
	}

	v.pending = true
	r.mu.Unlock()

	go r.runSeat(ctx, seatID)
}

// runSeat drives the store toward the seat's desired intent. It loops so
// that an intent changed mid-flight is applied by a follow-up call instead
// of being lost; a result that no longer matches the desired state is never
// surfaced to the display.
func (r *Reconciler) runSeat(ctx context.Context, seatID string) {
	for {
		r.mu.Lock()
		v := r.seat(seatID)
		if v.state == domain.SeatSold {
			// Terminal; nothing left to drive.
			v.pending = false
			r.mu.Unlock()
			return
		}
		desired := v.want
		r.mu.Unlock()

		var (
			lk  domain.SeatLock
			err error
		)
		if desired {
			lk, err = r.client.Lock(ctx, seatID, r.ttl)
		} else {
			err = r.client.Unlock(ctx, seatID)
		}

		r.mu.Lock()

		if err != nil {
			r.settleError(seatID, desired, err)
			r.mu.Unlock()
			return
		}

		if desired {
			v.appliedAt = lk.LockedAt
		} else {
			v.appliedAt = r.now()
		}

		if v.want == desired {
			v.pending = false
			r.mu.Unlock()
			return
		}

		// Intent flipped while the call was in flight; go again.
		r.mu.Unlock()
	}
}

// settleError rolls the optimistic state back. Conflicts demote the seat to
// held-by-other, sold seats become terminal, ownership errors are logged
// no-ops, and anything else reverts the flip and leaves recovery to the
// next reconcile. Caller holds r.mu.
func (r *Reconciler) settleError(seatID string, desired bool, err error) {
	v := r.seat(seatID)
	v.pending = false
	v.want = false

	switch {
	case errors.Is(err, lockservice.ErrConflict):
		v.state = domain.SeatHeldByOther
		v.appliedAt = r.now()
	case errors.Is(err, lockservice.ErrSeatSold):
		v.state = domain.SeatSold
		v.appliedAt = r.now()
	case errors.Is(err, lockservice.ErrNotOwner):
		v.state = domain.SeatHeldByOther
		v.appliedAt = r.now()
		r.logger.Warn("unlock of foreign lock ignored", "seat_id", seatID)
	default:
		// Transient store failure: revert the optimistic flip; the next
		// reconcile restores truth.
		if desired {
			v.state = domain.SeatAvailable
		} else {
			v.state = domain.SeatHeldByMe
			v.want = true
		}
		r.logger.Error("cart mutation failed", "seat_id", seatID, "error", err)
	}
}

// ApplyLock feeds one broadcast lock event into the cart. Events are ordered
// by their locked_at stamp, not arrival: an event at or before the seat's
// watermark is discarded. A seat the session itself holds is never
// overwritten by another session's event.
func (r *Reconciler) ApplyLock(ev domain.LockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.seat(ev.SeatID)

	if v.state == domain.SeatSold {
		return
	}

	if !ev.LockedAt.After(v.appliedAt) {
		r.staleDrops++
		return
	}

	if ev.SessionID == r.sessionID {
		// Confirmation of our own mutation: settle the watermark, no
		// visual change beyond what optimism already shows.
		v.appliedAt = ev.LockedAt
		return
	}

	if v.state == domain.SeatHeldByMe || v.want || v.pending {
		// Our claim is live or in flight; our own call's outcome decides.
		return
	}

	v.appliedAt = ev.LockedAt

	switch ev.Op {
	case domain.OpDelete:
		v.state = domain.SeatAvailable
	default:
		switch ev.Status {
		case domain.LockAdminReserved:
			v.state = domain.SeatAdminReserved
		case domain.LockVoid:
			v.state = domain.SeatVoid
		default:
			v.state = domain.SeatHeldByOther
		}
	}
}

// ApplySale marks the sold seats terminal for everyone, the local session
// included: checkout success arrives here, never through an unlock, so a
// sold seat cannot pass through available.
func (r *Reconciler) ApplySale(ev domain.SaleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, seatID := range ev.SeatIDs {
		v := r.seat(seatID)
		v.state = domain.SeatSold
		v.appliedAt = ev.CompletedAt
		v.want = false
	}
}

// ReleaseAll unlocks every seat the session holds or intends to hold, as
// independent calls: one failure never blocks releasing the rest. Used by
// the cart-wide timeout and explicit cancel.
func (r *Reconciler) ReleaseAll(ctx context.Context) error {
	r.mu.Lock()
	var mine []string
	for seatID, v := range r.seats {
		if v.state == domain.SeatHeldByMe || v.want {
			v.want = false
			v.state = domain.SeatAvailable
			mine = append(mine, seatID)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, seatID := range mine {
		if err := r.client.Unlock(ctx, seatID); err != nil {
			r.logger.Error("release failed", "seat_id", seatID, "error", err)
			errs = append(errs, err)
			continue
		}

		r.mu.Lock()
		r.seat(seatID).appliedAt = r.now()
		r.mu.Unlock()
	}

	return errors.Join(errs...)
}

// Reconcile replaces the local view with one authoritative status read.
// Mandatory after any feed gap; the feed gives no delivery guarantee across
// a disconnection window. Seats with a mutation in flight keep their
// optimistic state until that call settles.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	seatIDs := make([]string, 0, len(r.seats))
	for seatID := range r.seats {
		seatIDs = append(seatIDs, seatID)
	}
	r.mu.Unlock()

	states, err := r.client.Status(ctx, seatIDs)
	if err != nil {
		return err
	}

	at := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for seatID, state := range states {
		v := r.seat(seatID)
		if v.pending {
			continue
		}
		v.state = state
		v.appliedAt = at
		v.want = state == domain.SeatHeldByMe
	}

	return nil
}

// Run is the dispatch loop: it consumes the realtime subscription until the
// channel closes or ctx is done, then reconciles once to cover the gap.
func (r *Reconciler) Run(ctx context.Context, events <-chan realtime.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return r.Reconcile(ctx)
			}
			switch {
			case ev.Lock != nil:
				r.ApplyLock(*ev.Lock)
			case ev.Sale != nil:
				r.ApplySale(*ev.Sale)
			}
		}
	}
}

// States snapshots the displayed seat states for rendering.
func (r *Reconciler) States() map[string]domain.SeatState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.SeatState, len(r.seats))
	for seatID, v := range r.seats {
		out[seatID] = v.state
	}

	return out
}

// StaleDrops reports how many out-of-order events were discarded.
func (r *Reconciler) StaleDrops() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.staleDrops
}

// seat returns the view for seatID, creating it lazily. Caller holds r.mu.
func (r *Reconciler) seat(seatID string) *seatView {
	v, ok := r.seats[seatID]
	if !ok {
		v = &seatView{state: domain.SeatAvailable}
		r.seats[seatID] = v
	}
	return v
}
