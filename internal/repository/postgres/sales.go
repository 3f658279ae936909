package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/repository"
)

type SaleRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *SaleRepo) With(db DB) *SaleRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *SaleRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Complete records a finished sale and supersedes any locks on its seats.
//
// The sale row, the per-seat membership rows and the lock cleanup commit as
// one transaction. sale_seats carries a primary key on
// (sale_instance_id, seat_id), so a second sale of the same seat fails the
// insert instead of silently double-selling.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - saleInstanceID: scope of seat uniqueness.
//   - buyerID: buyer recorded on the sale.
//   - seatIDs: seats sold.
//
// Returns:
//   - *domain.SaleRecord: the completed record.
//   - error: repository.ErrSeatSold if any seat was already sold.
func (r *SaleRepo) Complete(
	ctx context.Context,
	saleInstanceID, buyerID int64,
	seatIDs []string,
) (*domain.SaleRecord, error) {
	const op = "postgres.SaleRepo.Complete"

	if r.db != nil {
		rec, err := r.completeCore(ctx, r.db, saleInstanceID, buyerID, seatIDs)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return rec, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	rec, err := r.completeCore(ctx, tx, saleInstanceID, buyerID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return rec, nil
}

func (r *SaleRepo) completeCore(
	ctx context.Context,
	db DB,
	saleInstanceID, buyerID int64,
	seatIDs []string,
) (*domain.SaleRecord, error) {
	saleID := uuid.New()
	completedAt := time.Now().UTC()

	if _, err := db.Exec(ctx,
		`INSERT INTO sales (id, sale_instance_id, buyer_id, status, completed_at)
		 VALUES ($1, $2, $3, 'completed', $4)`,
		saleID, saleInstanceID, buyerID, completedAt,
	); err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	for _, seatID := range seatIDs {
		batch.Queue(
			`INSERT INTO sale_seats (sale_instance_id, seat_id, sale_id)
			 VALUES ($1, $2, $3)`,
			saleInstanceID, seatID, saleID,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		if errors.Is(translateDBErr(err), repository.ErrConflict) {
			return nil, repository.ErrSeatSold
		}
		return nil, err
	}

	// Locks are superseded by the sale regardless of owner.
	if _, err := db.Exec(ctx,
		`DELETE FROM seat_locks
		  WHERE sale_instance_id = $1 AND seat_id = ANY($2)`,
		saleInstanceID, seatIDs,
	); err != nil {
		return nil, err
	}

	return &domain.SaleRecord{
		ID:             saleID,
		SaleInstanceID: saleInstanceID,
		BuyerID:        buyerID,
		Status:         domain.SaleCompleted,
		SeatIDs:        seatIDs,
		CompletedAt:    completedAt,
	}, nil
}

// SoldSeats returns the subset of seatIDs already sold in the instance.
// Serialization failures are retried with backoff before surfacing.
func (r *SaleRepo) SoldSeats(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
) (map[string]bool, error) {
	const op = "postgres.SaleRepo.SoldSeats"

	out, err := retryRead(ctx, func() (map[string]bool, error) {
		return r.soldSeats(ctx, saleInstanceID, seatIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *SaleRepo) soldSeats(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
) (map[string]bool, error) {
	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT seat_id FROM sale_seats
		  WHERE sale_instance_id = $1 AND seat_id = ANY($2)`,
		saleInstanceID, seatIDs,
	)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var seatID string
		if err := rows.Scan(&seatID); err != nil {
			return nil, err
		}
		out[seatID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
