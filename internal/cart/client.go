package cart

import (
	"context"
	"time"

	"github.com/kirinyoku/seatlock/internal/domain"
	lockservice "github.com/kirinyoku/seatlock/internal/service/lock"
)

// ServiceClient binds a sale instance and session identity to an in-process
// Lock Manager, satisfying Client for embedded deployments and tests.
type ServiceClient struct {
	svc            *lockservice.Service
	saleInstanceID int64
	sessionID      string
}

func NewServiceClient(svc *lockservice.Service, saleInstanceID int64, sessionID string) *ServiceClient {
	return &ServiceClient{
		svc:            svc,
		saleInstanceID: saleInstanceID,
		sessionID:      sessionID,
	}
}

func (c *ServiceClient) Lock(ctx context.Context, seatID string, ttl time.Duration) (domain.SeatLock, error) {
	return c.svc.Lock(ctx, lockservice.LockRequest{
		SeatID:         seatID,
		SaleInstanceID: c.saleInstanceID,
		SessionID:      c.sessionID,
		TTL:            ttl,
	})
}

func (c *ServiceClient) Unlock(ctx context.Context, seatID string) error {
	return c.svc.Unlock(ctx, seatID, c.saleInstanceID, c.sessionID)
}

// Status bypasses the status cache: reconciliation reads must be
// authoritative.
func (c *ServiceClient) Status(ctx context.Context, seatIDs []string) (map[string]domain.SeatState, error) {
	return c.svc.Status(ctx, c.saleInstanceID, seatIDs, c.sessionID, true)
}
