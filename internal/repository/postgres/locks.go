package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/repository"
)

type LockRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *LockRepo) With(db DB) *LockRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *LockRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Upsert acquires or refreshes a seat lock with compare-and-swap semantics.
//
// The write succeeds when no row exists for (sale_instance_id, seat_id), the
// existing row is expired, or the existing row is owned by the same session
// (refresh). The predicate and the write are a single statement, so two
// sessions racing on the same seat cannot both win. Seats belonging to a
// completed sale are rejected before the swap, inside the same transaction.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - w: lock fields; w.TTL bounds the claim.
//
// Returns:
//   - domain.SeatLock: the persisted row when successful.
//   - bool: true when a new row was inserted, false on an owner refresh.
//   - error: repository.ErrSeatSold if the seat was sold.
//   - error: repository.ErrLockConflict if another session holds a live lock.
func (r *LockRepo) Upsert(ctx context.Context, w repository.LockWrite) (domain.SeatLock, bool, error) {
	const op = "postgres.LockRepo.Upsert"

	if w.Status == "" {
		w.Status = domain.LockSelected
	}
	if w.LockType == "" {
		w.LockType = domain.LockTypeSeat
	}

	if r.db != nil {
		lock, created, err := r.upsertCore(ctx, r.db, w)
		if err != nil {
			return domain.SeatLock{}, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return lock, created, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return domain.SeatLock{}, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	lock, created, err := r.upsertCore(ctx, tx, w)
	if err != nil {
		return domain.SeatLock{}, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SeatLock{}, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return lock, created, nil
}

func (r *LockRepo) upsertCore(ctx context.Context, db DB, w repository.LockWrite) (domain.SeatLock, bool, error) {
	var sold bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM sale_seats
			WHERE sale_instance_id = $1 AND seat_id = $2)`,
		w.SaleInstanceID, w.SeatID,
	).Scan(&sold); err != nil {
		return domain.SeatLock{}, false, err
	}

	if sold {
		return domain.SeatLock{}, false, repository.ErrSeatSold
	}

	lockedAt := time.Now().UTC()
	expires := lockedAt.Add(w.TTL)

	var lock domain.SeatLock
	var inserted bool
	err := db.QueryRow(ctx,
		`INSERT INTO seat_locks
		   (seat_id, sale_instance_id, session_id, status, lock_type,
		    locked_at, expires_at, tenant_id, user_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (sale_instance_id, seat_id) DO UPDATE
		   SET session_id = EXCLUDED.session_id,
		       status     = EXCLUDED.status,
		       lock_type  = EXCLUDED.lock_type,
		       locked_at  = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at,
		       tenant_id  = EXCLUDED.tenant_id,
		       user_id    = EXCLUDED.user_id,
		       metadata   = EXCLUDED.metadata
		 WHERE seat_locks.expires_at <= now()
		    OR seat_locks.session_id = EXCLUDED.session_id
		 RETURNING seat_id, sale_instance_id, session_id, status, lock_type,
		           locked_at, expires_at, COALESCE(tenant_id, ''),
		           COALESCE(user_id, 0), metadata, (xmax = 0)`,
		w.SeatID, w.SaleInstanceID, w.SessionID, w.Status, w.LockType,
		lockedAt, expires, nilIfEmpty(w.TenantID), nilIfZero(w.UserID), w.Metadata,
	).Scan(
		&lock.SeatID, &lock.SaleInstanceID, &lock.SessionID, &lock.Status,
		&lock.LockType, &lock.LockedAt, &lock.ExpiresAt, &lock.TenantID,
		&lock.UserID, &lock.Metadata, &inserted,
	)
	if err != nil {
		// No row back means the DO UPDATE predicate rejected the write:
		// a live lock owned by someone else.
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SeatLock{}, false, repository.ErrLockConflict
		}
		return domain.SeatLock{}, false, err
	}

	return lock, inserted, nil
}

// DeleteOwned removes the session's lock on a seat.
//
// Deleting an absent or expired row is a success no-op. A live row owned by
// a different session is left untouched and reported as ErrNotOwner.
//
// Returns:
//   - bool: whether a live row was actually deleted.
//   - error: repository.ErrNotOwner if another session holds the lock.
func (r *LockRepo) DeleteOwned(
	ctx context.Context,
	seatID string,
	saleInstanceID int64,
	sessionID string,
) (bool, error) {
	const op = "postgres.LockRepo.DeleteOwned"

	db := r.handle()

	// Expired rows are already logically absent; they stay for the sweeper
	// and the delete reports a no-op, same as when no row exists at all.
	tag, err := db.Exec(ctx,
		`DELETE FROM seat_locks
		  WHERE sale_instance_id = $1 AND seat_id = $2 AND session_id = $3
		    AND expires_at > now()`,
		saleInstanceID, seatID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Nothing deleted: distinguish "no row" (fine) from "someone else's
	// live lock" (ownership violation).
	var owner string
	err = db.QueryRow(ctx,
		`SELECT session_id FROM seat_locks
		  WHERE sale_instance_id = $1 AND seat_id = $2 AND expires_at > now()`,
		saleInstanceID, seatID,
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return false, fmt.Errorf("%s:%w", op, repository.ErrNotOwner)
}

// SnapshotBatch returns the session-agnostic view of each requested seat.
//
// Rows with expires_at <= now() count as absent even before the sweeper
// removes them, and sold membership wins over any surviving lock row.
// Serialization failures are retried with backoff before surfacing.
func (r *LockRepo) SnapshotBatch(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
) (map[string]domain.SeatSnapshot, error) {
	const op = "postgres.LockRepo.SnapshotBatch"

	out, err := retryRead(ctx, func() (map[string]domain.SeatSnapshot, error) {
		return r.snapshotBatch(ctx, saleInstanceID, seatIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *LockRepo) snapshotBatch(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
) (map[string]domain.SeatSnapshot, error) {
	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT s.seat_id,
		        (ss.seat_id IS NOT NULL) AS sold,
		        l.session_id, l.status
		   FROM unnest($2::text[]) AS s(seat_id)
		   LEFT JOIN sale_seats ss
		     ON ss.sale_instance_id = $1 AND ss.seat_id = s.seat_id
		   LEFT JOIN seat_locks l
		     ON l.sale_instance_id = $1 AND l.seat_id = s.seat_id
		    AND l.expires_at > now()`,
		saleInstanceID, seatIDs,
	)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make(map[string]domain.SeatSnapshot, len(seatIDs))
	for rows.Next() {
		var (
			seatID string
			sold   bool
			owner  *string
			status *string
		)
		if err := rows.Scan(&seatID, &sold, &owner, &status); err != nil {
			return nil, err
		}

		snap := domain.SeatSnapshot{Sold: sold}
		if owner != nil {
			snap.Held = true
			snap.Owner = *owner
			snap.Status = domain.LockStatus(*status)
		}
		out[seatID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// SweepExpired deletes rows whose TTL has elapsed. The filter runs against
// now() inside the statement, never a timestamp captured earlier, so a lock
// refreshed moments ago is never reclaimed.
func (r *LockRepo) SweepExpired(ctx context.Context) (int64, error) {
	const op = "postgres.LockRepo.SweepExpired"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM seat_locks WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

func (r *LockRepo) CountsByStatus(ctx context.Context, saleInstanceID int64) (*domain.SeatCounts, error) {
	const op = "postgres.LockRepo.CountsByStatus"

	out, err := retryRead(ctx, func() (*domain.SeatCounts, error) {
		return r.countsByStatus(ctx, saleInstanceID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *LockRepo) countsByStatus(ctx context.Context, saleInstanceID int64) (*domain.SeatCounts, error) {
	db := r.handle()

	var c domain.SeatCounts
	err := db.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM seat_locks
		     WHERE sale_instance_id = $1 AND status = 'selected' AND expires_at > now()),
		   (SELECT count(*) FROM sale_seats WHERE sale_instance_id = $1),
		   (SELECT count(*) FROM seat_locks
		     WHERE sale_instance_id = $1 AND status = 'admin-reserved' AND expires_at > now()),
		   (SELECT count(*) FROM seat_locks
		     WHERE sale_instance_id = $1 AND status = 'void' AND expires_at > now())`,
		saleInstanceID,
	).Scan(&c.Held, &c.Sold, &c.Reserved, &c.Void)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
