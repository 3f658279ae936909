package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/repository"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestUpsertAcquireAndRefresh(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	lock, created, err := s.Upsert(ctx, repository.LockWrite{
		SeatID:         "A1",
		SaleInstanceID: 7,
		SessionID:      "s1",
		TTL:            time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "s1", lock.SessionID)
	assert.Equal(t, domain.LockSelected, lock.Status)
	assert.Equal(t, domain.LockTypeSeat, lock.LockType)
	assert.Equal(t, time.Minute, lock.ExpiresAt.Sub(lock.LockedAt))

	// Same session again is a refresh, not a new row.
	refreshed, created, err := s.Upsert(ctx, repository.LockWrite{
		SeatID:         "A1",
		SaleInstanceID: 7,
		SessionID:      "s1",
		TTL:            time.Minute,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "s1", refreshed.SessionID)
	assert.False(t, refreshed.ExpiresAt.Before(lock.ExpiresAt))
}

func TestUpsertConflictWithLiveLock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)

	_, _, err = s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s2", TTL: time.Minute,
	})
	require.ErrorIs(t, err, repository.ErrLockConflict)

	// The loser's attempt must not have disturbed the winner.
	snaps, err := s.SnapshotBatch(ctx, 7, []string{"A1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", snaps["A1"].Owner)
}

func TestUpsertTakesOverExpiredLock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(fixedClock(base))

	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)

	s.SetClock(fixedClock(base.Add(2 * time.Minute)))

	lock, created, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s2", TTL: time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, created, "an expired row is absent, so takeover is an insert")
	assert.Equal(t, "s2", lock.SessionID)
}

func TestUpsertExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const sessions = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		conflict int
	)

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lock, _, err := s.Upsert(ctx, repository.LockWrite{
				SeatID:         "A1",
				SaleInstanceID: 7,
				SessionID:      fmt.Sprintf("sess-%d", i),
				TTL:            time.Minute,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				conflict++
				return
			}
			winners = append(winners, lock.SessionID)
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, sessions-1, conflict)

	snaps, err := s.SnapshotBatch(ctx, 7, []string{"A1"})
	require.NoError(t, err)
	assert.Equal(t, winners[0], snaps["A1"].Owner)
}

func TestDeleteOwned(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)

	// Foreign session cannot release, and the lock stays.
	_, err = s.DeleteOwned(ctx, "A1", 7, "s2")
	require.ErrorIs(t, err, repository.ErrNotOwner)

	snaps, err := s.SnapshotBatch(ctx, 7, []string{"A1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", snaps["A1"].Owner)

	deleted, err := s.DeleteOwned(ctx, "A1", 7, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Releasing an absent lock is a success no-op, whoever asks.
	deleted, err = s.DeleteOwned(ctx, "A1", 7, "s1")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteOwned(ctx, "A1", 7, "s2")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteOwnedExpiredIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(fixedClock(base))

	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)

	s.SetClock(fixedClock(base.Add(2 * time.Minute)))

	// Even a foreign session gets the no-op, never ErrNotOwner.
	deleted, err := s.DeleteOwned(ctx, "A1", 7, "s2")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSnapshotBatchTreatsExpiredAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(fixedClock(base))

	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)

	s.SetClock(fixedClock(base.Add(2 * time.Minute)))

	snaps, err := s.SnapshotBatch(ctx, 7, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, domain.SeatSnapshot{}, snaps["A1"])
	assert.Equal(t, domain.SeatSnapshot{}, snaps["A2"])
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(fixedClock(base))

	for _, seat := range []string{"A1", "A2"} {
		_, _, err := s.Upsert(ctx, repository.LockWrite{
			SeatID: seat, SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
		})
		require.NoError(t, err)
	}
	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "B1", SaleInstanceID: 7, SessionID: "s2", TTL: time.Hour,
	})
	require.NoError(t, err)

	s.SetClock(fixedClock(base.Add(2 * time.Minute)))

	swept, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, swept)

	// The live lock survived the sweep.
	snaps, err := s.SnapshotBatch(ctx, 7, []string{"B1"})
	require.NoError(t, err)
	assert.Equal(t, "s2", snaps["B1"].Owner)

	swept, err = s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestCompleteMarksSeatsSold(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)

	rec, err := s.Complete(ctx, 7, 42, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCompleted, rec.Status)
	assert.ElementsMatch(t, []string{"A1", "A2"}, rec.SeatIDs)

	// Sold membership outlives the lock row and blocks future locking.
	snaps, err := s.SnapshotBatch(ctx, 7, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.True(t, snaps["A1"].Sold)
	assert.True(t, snaps["A2"].Sold)

	_, _, err = s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s2", TTL: time.Minute,
	})
	require.ErrorIs(t, err, repository.ErrSeatSold)

	// The seat stays free in other sale instances.
	_, _, err = s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 8, SessionID: "s2", TTL: time.Minute,
	})
	require.NoError(t, err)
}

func TestCompleteRejectsAlreadySoldSeat(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Complete(ctx, 7, 42, []string{"A1"})
	require.NoError(t, err)

	_, err = s.Complete(ctx, 7, 43, []string{"A1", "A2"})
	require.ErrorIs(t, err, repository.ErrSeatSold)

	// The failed sale must not have sold A2.
	sold, err := s.SoldSeats(ctx, 7, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.True(t, sold["A1"])
	assert.False(t, sold["A2"])
}

func TestCountsByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(fixedClock(base))

	writes := []repository.LockWrite{
		{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Hour},
		{SeatID: "A2", SaleInstanceID: 7, SessionID: "s2", TTL: time.Hour},
		{SeatID: "A3", SaleInstanceID: 7, SessionID: "admin", TTL: time.Hour, Status: domain.LockAdminReserved},
		{SeatID: "A4", SaleInstanceID: 7, SessionID: "admin", TTL: time.Hour, Status: domain.LockVoid},
		{SeatID: "A5", SaleInstanceID: 7, SessionID: "s3", TTL: time.Minute},
		{SeatID: "Z1", SaleInstanceID: 9, SessionID: "s1", TTL: time.Hour},
	}
	for _, w := range writes {
		_, _, err := s.Upsert(ctx, w)
		require.NoError(t, err)
	}

	_, err := s.Complete(ctx, 7, 42, []string{"B1"})
	require.NoError(t, err)

	// A5's minute TTL lapses; other instance's lock never counts.
	s.SetClock(fixedClock(base.Add(30 * time.Minute)))

	counts, err := s.CountsByStatus(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Held)
	assert.EqualValues(t, 1, counts.Reserved)
	assert.EqualValues(t, 1, counts.Void)
	assert.EqualValues(t, 1, counts.Sold)
}

func TestStoreHonorsContextCancellation(t *testing.T) {
	s := NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s1", TTL: time.Minute,
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.SnapshotBatch(ctx, 7, []string{"A1"})
	require.ErrorIs(t, err, context.Canceled)
}
