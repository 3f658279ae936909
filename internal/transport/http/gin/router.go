package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/realtime"
	redisrepo "github.com/kirinyoku/seatlock/internal/repository/redis"
	"github.com/kirinyoku/seatlock/internal/service"
	"github.com/kirinyoku/seatlock/internal/service/lock"
	"github.com/kirinyoku/seatlock/internal/service/sale"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	hub *realtime.Broadcaster,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sales := r.Group("/sales/:id")
	{
		sales.GET("/seats/status", handleSeatStatus(svcs))
		sales.GET("/availability", handleAvailability(svcs))
		sales.GET("/events", handleEvents(hub))

		sales.POST("/locks", handleAcquireLock(svcs, idem, limiter))
		sales.DELETE("/locks/:seat_id", handleReleaseLock(svcs))
		sales.POST("/locks/release", handleReleaseAll(svcs))

		// Payment collaborator callback; the engine only consumes
		// completions, it never writes sale data on its own behalf.
		sales.POST("/complete", handleCompleteSale(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Batched seat status
// @Param    id         path   int     true  "Sale instance ID"
// @Param    seat_ids   query  string  true  "comma-separated seat ids"
// @Param    session_id query  string  false "viewing session"
// @Param    authoritative query bool  false "bypass the status cache"
// @Success  200  {object}  StatusResponse
// @Failure  400  {object}  ErrorResponse
// @Router   /sales/{id}/seats/status [get]
func handleSeatStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		saleInstanceID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		seatIDs := splitSeatIDs(c.Query("seat_ids"))
		if len(seatIDs) == 0 {
			badRequest(c, "seat_ids required")
			return
		}

		bypass := c.Query("authoritative") == "true"

		states, err := svcs.Lock.Status(
			c.Request.Context(),
			saleInstanceID,
			seatIDs,
			c.Query("session_id"),
			bypass,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, StatusResponse{States: states})
	}
}

// @Summary  Availability counters
// @Param    id  path  int  true  "Sale instance ID"
// @Success  200  {object}  CountsResponse
// @Router   /sales/{id}/availability [get]
func handleAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		saleInstanceID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		counts, err := svcs.Lock.Counts(c.Request.Context(), saleInstanceID)
		if err != nil {
			respondErr(c, err)
			return
		}

		// ETag + Cache-Control: counters tolerate short staleness.
		writeJSONWithCache(c, http.StatusOK, CountsResponse{
			Held:     counts.Held,
			Sold:     counts.Sold,
			Reserved: counts.Reserved,
			Void:     counts.Void,
		}, "public, max-age=1", true)
	}
}

// @Summary  Acquire or refresh a seat lock (idempotent)
// @Param    id  path  int  true  "Sale instance ID"
// @Param    req body  AcquireLockRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} LockResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seat locked or sold / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /sales/{id}/locks [post]
func handleAcquireLock(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		saleInstanceID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var req AcquireLockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		if limiter != nil {
			allowed, _, retry, err := limiter.Allow(c.Request.Context(), c.ClientIP())
			if err == nil && !allowed {
				c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
				return
			}
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemLock(saleInstanceID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		lk, err := svcs.Lock.Lock(c.Request.Context(), lock.LockRequest{
			SeatID:         req.SeatID,
			SaleInstanceID: saleInstanceID,
			SessionID:      req.SessionID,
			Status:         lockStatus(req.Status),
			LockType:       lockType(req.LockType),
			TTL:            time.Duration(req.TTLSec) * time.Second,
			TenantID:       req.TenantID,
			UserID:         req.UserID,
			Metadata:       req.Metadata,
		})
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := newLockResponse(lk)

		if idemStorageKey != "" && idem != nil {
			if b, err := json.Marshal(resp); err == nil {
				_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			}
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Release a seat lock
// @Param    id         path   int     true  "Sale instance ID"
// @Param    seat_id    path   string  true  "Seat ID"
// @Param    session_id query  string  true  "owning session"
// @Success  204
// @Failure  409 {object} ErrorResponse "lock owned by another session"
// @Router   /sales/{id}/locks/{seat_id} [delete]
func handleReleaseLock(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		saleInstanceID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		err := svcs.Lock.Unlock(
			c.Request.Context(),
			c.Param("seat_id"),
			saleInstanceID,
			c.Query("session_id"),
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// @Summary  Release every lock a session holds
// @Param    id  path  int  true  "Sale instance ID"
// @Param    req body  ReleaseAllRequest true "payload"
// @Success  200 {object} ReleaseAllResponse
// @Router   /sales/{id}/locks/release [post]
func handleReleaseAll(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		saleInstanceID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var req ReleaseAllRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		// Independent per-seat deletes: one failure must not block the
		// rest of the cart from being released.
		var resp ReleaseAllResponse
		for _, seatID := range req.SeatIDs {
			err := svcs.Lock.Unlock(c.Request.Context(), seatID, saleInstanceID, req.SessionID)
			if err != nil {
				resp.Failed = append(resp.Failed, seatID)
				continue
			}
			resp.Released = append(resp.Released, seatID)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Record a completed sale (payment collaborator)
// @Param    id  path  int  true  "Sale instance ID"
// @Param    req body  CompleteSaleRequest true "payload"
// @Success  201 {object} CompleteSaleResponse
// @Failure  409 {object} ErrorResponse "seat already sold"
// @Router   /sales/{id}/complete [post]
func handleCompleteSale(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		saleInstanceID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var req CompleteSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		rec, err := svcs.Sale.Complete(c.Request.Context(), saleInstanceID, req.BuyerID, req.SeatIDs)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, CompleteSaleResponse{
			SaleID:      rec.ID.String(),
			SeatIDs:     rec.SeatIDs,
			CompletedAt: rec.CompletedAt.Format(time.RFC3339Nano),
		})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func splitSeatIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lockStatus(s string) domain.LockStatus {
	return domain.LockStatus(s)
}

func lockType(s string) domain.LockType {
	return domain.LockType(s)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// lock service
	case errors.Is(err, lock.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request"})
		return
	case errors.Is(err, lock.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat locked by another session"})
		return
	case errors.Is(err, lock.ErrSeatSold):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat already sold"})
		return
	case errors.Is(err, lock.ErrNotOwner):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "lock owned by another session"})
		return
	// sale service
	case errors.Is(err, sale.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request"})
		return
	case errors.Is(err, sale.ErrSeatSold):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat already sold"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
