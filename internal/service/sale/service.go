// Package sale consumes completion notifications from the payment
// collaborator. The engine never produces sale data itself: it records the
// completed sale, supersedes any locks on the sold seats and announces the
// terminal state on the change feed.
package sale

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/repository"
	"github.com/kirinyoku/seatlock/internal/service/lock"
)

type Service struct {
	sales repository.SaleStore
	cache lock.StatusCache
	feed  lock.Feed
}

func New(sales repository.SaleStore, cache lock.StatusCache, feed lock.Feed) *Service {
	return &Service{
		sales: sales,
		cache: cache,
		feed:  feed,
	}
}

// Complete records a finished sale for the given seats.
//
// Sold is terminal: the seats become permanently ineligible for locking in
// this sale instance and every viewer learns of it through a dedicated
// completion event, never through an unlock.
//
// Returns:
//   - *domain.SaleRecord: the recorded sale.
//   - error: ErrValidation or ErrSeatSold.
func (s *Service) Complete(
	ctx context.Context,
	saleInstanceID, buyerID int64,
	seatIDs []string,
) (*domain.SaleRecord, error) {
	const op = "service.sale.Complete"

	if saleInstanceID <= 0 {
		return nil, fmt.Errorf("%s:%w: sale_instance_id required", op, ErrValidation)
	}

	if len(seatIDs) == 0 {
		return nil, fmt.Errorf("%s:%w: no seats", op, ErrValidation)
	}

	for _, seatID := range seatIDs {
		if seatID == "" {
			return nil, fmt.Errorf("%s:%w: empty seat_id", op, ErrValidation)
		}
	}

	rec, err := s.sales.Complete(ctx, saleInstanceID, buyerID, seatIDs)
	if err != nil {
		if errors.Is(err, repository.ErrSeatSold) || errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrSeatSold)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if s.cache != nil {
		_ = s.cache.InvalidateSeats(ctx, saleInstanceID, seatIDs...)
	}

	if s.feed != nil {
		_ = s.feed.PublishSale(ctx, domain.SaleEvent{
			SaleID:         rec.ID,
			SaleInstanceID: rec.SaleInstanceID,
			SeatIDs:        rec.SeatIDs,
			CompletedAt:    rec.CompletedAt,
		})
	}

	return rec, nil
}
