package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/redis/go-redis/v9"
)

// GetOrSetCounts serves the per-instance availability counters through the
// short-TTL cache. Concurrent misses for the same instance collapse into a
// single store read.
func (c *Cache) GetOrSetCounts(
	ctx context.Context,
	saleInstanceID int64,
	ttl time.Duration,
	loader func(ctx context.Context) (*domain.SeatCounts, error),
) (*domain.SeatCounts, error) {
	return GetOrSetJSON(ctx, c, KeySaleCounts(saleInstanceID), ttl, loader)
}

// GetSnapshots fetches cached seat snapshots in one MGET. Seats missing
// from the result were cache misses; the caller loads those from the store.
func (c *Cache) GetSnapshots(
	ctx context.Context,
	saleInstanceID int64,
	seatIDs []string,
) (map[string]domain.SeatSnapshot, error) {
	if len(seatIDs) == 0 {
		return map[string]domain.SeatSnapshot{}, nil
	}

	keys := make([]string, len(seatIDs))
	for i, seatID := range seatIDs {
		keys[i] = KeySeatState(saleInstanceID, seatID)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.SeatSnapshot, len(seatIDs))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var snap domain.SeatSnapshot
		if err := json.Unmarshal([]byte(s), &snap); err != nil {
			continue
		}
		out[seatIDs[i]] = snap
	}

	return out, nil
}

// SetSnapshots writes seat snapshots with the status TTL in one pipeline.
func (c *Cache) SetSnapshots(
	ctx context.Context,
	saleInstanceID int64,
	snaps map[string]domain.SeatSnapshot,
	ttl time.Duration,
) error {
	if len(snaps) == 0 {
		return nil
	}

	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for seatID, snap := range snaps {
			b, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			pipe.Set(ctx, KeySeatState(saleInstanceID, seatID), b, ttl)
		}
		return nil
	})

	return err
}
