package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/repository"
	"github.com/kirinyoku/seatlock/internal/repository/memory"
)

// fakeCache records cache traffic in process memory.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]domain.SeatSnapshot
	sets        int
	invalidated []string
	counts      *domain.SeatCounts
	countsLoads int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.SeatSnapshot)}
}

func (c *fakeCache) GetSnapshots(_ context.Context, _ int64, seatIDs []string) (map[string]domain.SeatSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]domain.SeatSnapshot)
	for _, id := range seatIDs {
		if snap, ok := c.entries[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}

func (c *fakeCache) SetSnapshots(_ context.Context, _ int64, snaps map[string]domain.SeatSnapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets++
	for id, snap := range snaps {
		c.entries[id] = snap
	}
	return nil
}

func (c *fakeCache) GetOrSetCounts(
	ctx context.Context,
	_ int64,
	_ time.Duration,
	loader func(ctx context.Context) (*domain.SeatCounts, error),
) (*domain.SeatCounts, error) {
	c.mu.Lock()
	if c.counts != nil {
		defer c.mu.Unlock()
		return c.counts, nil
	}
	c.mu.Unlock()

	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.counts = v
	c.countsLoads++
	c.mu.Unlock()

	return v, nil
}

func (c *fakeCache) InvalidateSeats(_ context.Context, _ int64, seatIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range seatIDs {
		delete(c.entries, id)
		c.invalidated = append(c.invalidated, id)
	}
	c.counts = nil
	return nil
}

// fakeFeed collects published events.
type fakeFeed struct {
	mu    sync.Mutex
	locks []domain.LockEvent
	sales []domain.SaleEvent
}

func (f *fakeFeed) PublishLock(_ context.Context, ev domain.LockEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks = append(f.locks, ev)
	return nil
}

func (f *fakeFeed) PublishSale(_ context.Context, ev domain.SaleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sales = append(f.sales, ev)
	return nil
}

func (f *fakeFeed) lockEvents() []domain.LockEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LockEvent(nil), f.locks...)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeCache, *fakeFeed) {
	t.Helper()

	store := memory.NewStore()
	cache := newFakeCache()
	feed := &fakeFeed{}
	svc := New(store, cache, feed, Config{
		MinTTL:     15 * time.Second,
		MaxTTL:     30 * time.Minute,
		DefaultTTL: 15 * time.Minute,
		StatusTTL:  time.Second,
	})

	return svc, store, cache, feed
}

func TestLockValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []LockRequest{
		{SaleInstanceID: 7, SessionID: "s1"},
		{SeatID: "A1", SessionID: "s1"},
		{SeatID: "A1", SaleInstanceID: 7},
	}
	for _, req := range cases {
		_, err := svc.Lock(ctx, req)
		require.ErrorIs(t, err, ErrValidation)
	}

	require.ErrorIs(t, svc.Unlock(ctx, "", 7, "s1"), ErrValidation)
	_, err := svc.Status(ctx, 0, []string{"A1"}, "s1", false)
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Counts(ctx, 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestLockClampsTTL(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"zero gets default", 0, 15 * time.Minute},
		{"below floor", time.Second, 15 * time.Second},
		{"above ceiling", 2 * time.Hour, 30 * time.Minute},
		{"in range untouched", 5 * time.Minute, 5 * time.Minute},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lock, err := svc.Lock(ctx, LockRequest{
				SeatID:         string(rune('A'+i)) + "1",
				SaleInstanceID: 7,
				SessionID:      "s1",
				TTL:            tt.ttl,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, lock.ExpiresAt.Sub(lock.LockedAt))
		})
	}
}

func TestLockHonorsShortTTL(t *testing.T) {
	store := memory.NewStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	svc := New(store, nil, nil, Config{})
	ctx := context.Background()

	// A one-second claim stays one second: the default floor never rewrites
	// a short TTL the caller chose.
	lock, err := svc.Lock(ctx, LockRequest{
		SeatID:         "A1",
		SaleInstanceID: 7,
		SessionID:      "s1",
		TTL:            time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Second, lock.ExpiresAt.Sub(lock.LockedAt))

	store.SetClock(func() time.Time { return base.Add(2 * time.Second) })

	states, err := svc.Status(ctx, 7, []string{"A1"}, "s2", true)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, states["A1"])
}

func TestLockPublishesInsertThenUpdate(t *testing.T) {
	svc, _, _, feed := newTestService(t)
	ctx := context.Background()

	_, err := svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	_, err = svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	evs := feed.lockEvents()
	require.Len(t, evs, 2)
	assert.Equal(t, domain.OpInsert, evs[0].Op)
	assert.Equal(t, domain.OpUpdate, evs[1].Op)
	assert.Equal(t, "A1", evs[0].SeatID)
	assert.Equal(t, "s1", evs[0].SessionID)
}

func TestLockConflictMapsError(t *testing.T) {
	svc, _, _, feed := newTestService(t)
	ctx := context.Background()

	_, err := svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	_, err = svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s2"})
	require.ErrorIs(t, err, ErrConflict)

	// Failed attempts publish nothing.
	assert.Len(t, feed.lockEvents(), 1)
}

func TestLockRejectsSoldSeat(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := store.Complete(ctx, 7, 42, []string{"A1"})
	require.NoError(t, err)

	_, err = svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.ErrorIs(t, err, ErrSeatSold)
}

func TestUnlockSemantics(t *testing.T) {
	svc, _, _, feed := newTestService(t)
	ctx := context.Background()

	_, err := svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	// Foreign unlock is rejected and does not touch the lock.
	require.ErrorIs(t, svc.Unlock(ctx, "A1", 7, "s2"), ErrNotOwner)

	require.NoError(t, svc.Unlock(ctx, "A1", 7, "s1"))

	// A repeated release is an idempotent no-op and publishes nothing new.
	require.NoError(t, svc.Unlock(ctx, "A1", 7, "s1"))

	evs := feed.lockEvents()
	require.Len(t, evs, 2)
	assert.Equal(t, domain.OpDelete, evs[1].Op)
}

func TestMutationInvalidatesCache(t *testing.T) {
	svc, _, cache, _ := newTestService(t)
	ctx := context.Background()

	// Warm the cache.
	_, err := svc.Status(ctx, 7, []string{"A1"}, "s1", false)
	require.NoError(t, err)

	cache.mu.Lock()
	_, warmed := cache.entries["A1"]
	cache.mu.Unlock()
	require.True(t, warmed)

	_, err = svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	cache.mu.Lock()
	_, stale := cache.entries["A1"]
	cache.mu.Unlock()
	assert.False(t, stale, "mutation must retire the cached snapshot")
}

func TestStatusReadThrough(t *testing.T) {
	svc, store, cache, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	states, err := svc.Status(ctx, 7, []string{"A1", "A2"}, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatHeldByMe, states["A1"])
	assert.Equal(t, domain.SeatAvailable, states["A2"])
	assert.Equal(t, 1, cache.sets)

	// Second read is served from cache: same snapshots, no extra fill.
	states, err = svc.Status(ctx, 7, []string{"A1", "A2"}, "s2", false)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatHeldByOther, states["A1"], "cache entries are session-agnostic")
	assert.Equal(t, 1, cache.sets)

	// Bypass reads the store even when a cached entry exists.
	require.NoError(t, svc.Unlock(ctx, "A1", 7, "s1"))
	_, _, err = store.Upsert(ctx, repository.LockWrite{
		SeatID: "A1", SaleInstanceID: 7, SessionID: "s2", TTL: time.Minute,
	})
	require.NoError(t, err)

	cache.mu.Lock()
	cache.entries["A1"] = domain.SeatSnapshot{} // deliberately stale
	cache.mu.Unlock()

	states, err = svc.Status(ctx, 7, []string{"A1"}, "s1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatHeldByOther, states["A1"])
}

func TestStatusEmptySeatList(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	states, err := svc.Status(context.Background(), 7, nil, "s1", false)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestCounts(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, seat := range []string{"A1", "A2"} {
		_, err := svc.Lock(ctx, LockRequest{SeatID: seat, SaleInstanceID: 7, SessionID: "s1"})
		require.NoError(t, err)
	}

	counts, err := svc.Counts(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Held)
}

func TestCountsServedFromCache(t *testing.T) {
	svc, _, cache, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Lock(ctx, LockRequest{SeatID: "A1", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	counts, err := svc.Counts(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Held)

	_, err = svc.Counts(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.countsLoads, "repeat read must come from the cache")

	// A mutation retires the cached counters along with the seat entries.
	_, err = svc.Lock(ctx, LockRequest{SeatID: "A2", SaleInstanceID: 7, SessionID: "s1"})
	require.NoError(t, err)

	counts, err = svc.Counts(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Held)
	assert.Equal(t, 2, cache.countsLoads)
}
