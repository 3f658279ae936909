package httpgin

import (
	"encoding/json"
	"time"

	"github.com/kirinyoku/seatlock/internal/domain"
)

type AcquireLockRequest struct {
	SeatID    string          `json:"seat_id" binding:"required"`
	SessionID string          `json:"session_id" binding:"required"`
	Status    string          `json:"status" binding:"omitempty,oneof=selected admin-reserved void"`
	LockType  string          `json:"lock_type" binding:"omitempty,oneof=seat table"`
	TTLSec    int             `json:"ttl_sec"`
	TenantID  string          `json:"tenant_id"`
	UserID    int64           `json:"user_id"`
	Metadata  json.RawMessage `json:"metadata"`
}

type LockResponse struct {
	SeatID         string `json:"seat_id"`
	SaleInstanceID int64  `json:"sale_instance_id"`
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	LockType       string `json:"lock_type"`
	LockedAt       string `json:"locked_at"`
	ExpiresAt      string `json:"expires_at"`
}

type ReleaseAllRequest struct {
	SessionID string   `json:"session_id" binding:"required"`
	SeatIDs   []string `json:"seat_ids" binding:"required,min=1,dive,required"`
}

type ReleaseAllResponse struct {
	Released []string `json:"released"`
	Failed   []string `json:"failed,omitempty"`
}

type CompleteSaleRequest struct {
	BuyerID int64    `json:"buyer_id" binding:"required"`
	SeatIDs []string `json:"seat_ids" binding:"required,min=1,dive,required"`
}

type CompleteSaleResponse struct {
	SaleID      string   `json:"sale_id"`
	SeatIDs     []string `json:"seat_ids"`
	CompletedAt string   `json:"completed_at"`
}

type StatusResponse struct {
	States map[string]domain.SeatState `json:"states"`
}

type CountsResponse struct {
	Held     int64 `json:"held"`
	Sold     int64 `json:"sold"`
	Reserved int64 `json:"reserved"`
	Void     int64 `json:"void"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newLockResponse(l domain.SeatLock) LockResponse {
	return LockResponse{
		SeatID:         l.SeatID,
		SaleInstanceID: l.SaleInstanceID,
		SessionID:      l.SessionID,
		Status:         string(l.Status),
		LockType:       string(l.LockType),
		LockedAt:       l.LockedAt.Format(time.RFC3339Nano),
		ExpiresAt:      l.ExpiresAt.Format(time.RFC3339Nano),
	}
}
