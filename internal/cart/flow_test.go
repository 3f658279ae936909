package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/kirinyoku/seatlock/internal/realtime"
	"github.com/kirinyoku/seatlock/internal/repository/memory"
	lockservice "github.com/kirinyoku/seatlock/internal/service/lock"
	saleservice "github.com/kirinyoku/seatlock/internal/service/sale"
)

// hubFeed publishes committed mutations straight into an in-process
// broadcaster, standing in for the redis change feed.
type hubFeed struct {
	hub *realtime.Broadcaster
}

func (f hubFeed) PublishLock(_ context.Context, ev domain.LockEvent) error {
	f.hub.Publish(ev.SaleInstanceID, realtime.Event{Lock: &ev})
	return nil
}

func (f hubFeed) PublishSale(_ context.Context, ev domain.SaleEvent) error {
	f.hub.Publish(ev.SaleInstanceID, realtime.Event{Sale: &ev})
	return nil
}

type session struct {
	rec    *Reconciler
	cancel context.CancelFunc
}

func startSession(t *testing.T, svc *lockservice.Service, hub *realtime.Broadcaster, saleInstanceID int64, sessionID string, seats []string) *session {
	t.Helper()

	client := NewServiceClient(svc, saleInstanceID, sessionID)
	rec := NewReconciler(client, sessionID, 5*time.Minute, seats, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	events := hub.Subscribe(saleInstanceID)
	go func() {
		_ = rec.Run(ctx, events)
	}()

	t.Cleanup(func() {
		cancel()
		hub.Unsubscribe(saleInstanceID, events)
	})

	return &session{rec: rec, cancel: cancel}
}

func TestTwoSessionsContendForOneSeat(t *testing.T) {
	store := memory.NewStore()
	hub := realtime.NewBroadcaster()
	svc := lockservice.New(store, nil, hubFeed{hub}, lockservice.Config{})

	const saleID = 7
	seats := []string{"A1"}

	alice := startSession(t, svc, hub, saleID, "alice", seats)
	bob := startSession(t, svc, hub, saleID, "bob", seats)

	ctx := context.Background()

	alice.rec.Toggle(ctx, "A1")
	require.Eventually(t, settled(alice.rec, "A1", domain.SeatHeldByMe), time.Second, time.Millisecond)

	// Bob learns through the broadcast, without asking.
	require.Eventually(t, func() bool {
		return seatState(bob.rec, "A1") == domain.SeatHeldByOther
	}, time.Second, time.Millisecond)

	// A toggle on a seat someone else holds does nothing.
	bob.rec.Toggle(ctx, "A1")
	assert.Equal(t, domain.SeatHeldByOther, seatState(bob.rec, "A1"))

	// Alice releases; the seat frees up for bob and he takes it.
	alice.rec.Toggle(ctx, "A1")
	require.Eventually(t, settled(alice.rec, "A1", domain.SeatAvailable), time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return seatState(bob.rec, "A1") == domain.SeatAvailable
	}, time.Second, time.Millisecond)

	bob.rec.Toggle(ctx, "A1")
	require.Eventually(t, settled(bob.rec, "A1", domain.SeatHeldByMe), time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return seatState(alice.rec, "A1") == domain.SeatHeldByOther
	}, time.Second, time.Millisecond)
}

func TestSaleCompletionReachesEverySession(t *testing.T) {
	store := memory.NewStore()
	hub := realtime.NewBroadcaster()
	feed := hubFeed{hub}
	lockSvc := lockservice.New(store, nil, feed, lockservice.Config{})
	saleSvc := saleservice.New(store, nil, feed)

	const saleID = 7
	seats := []string{"A1", "A2"}

	alice := startSession(t, lockSvc, hub, saleID, "alice", seats)
	bob := startSession(t, lockSvc, hub, saleID, "bob", seats)

	ctx := context.Background()

	alice.rec.Toggle(ctx, "A1")
	require.Eventually(t, settled(alice.rec, "A1", domain.SeatHeldByMe), time.Second, time.Millisecond)

	_, err := saleSvc.Complete(ctx, saleID, 42, []string{"A1"})
	require.NoError(t, err)

	// Sold is terminal for the buyer's session and every viewer alike.
	require.Eventually(t, func() bool {
		return seatState(alice.rec, "A1") == domain.SeatSold &&
			seatState(bob.rec, "A1") == domain.SeatSold
	}, time.Second, time.Millisecond)

	// Nobody can lock a sold seat again.
	bob.rec.Toggle(ctx, "A1")
	assert.Equal(t, domain.SeatSold, seatState(bob.rec, "A1"))

	_, err = lockSvc.Lock(ctx, lockservice.LockRequest{
		SeatID: "A1", SaleInstanceID: saleID, SessionID: "carol",
	})
	require.ErrorIs(t, err, lockservice.ErrSeatSold)
}

func TestReconnectReconciliation(t *testing.T) {
	store := memory.NewStore()
	hub := realtime.NewBroadcaster()
	svc := lockservice.New(store, nil, hubFeed{hub}, lockservice.Config{})

	const saleID = 7
	seats := []string{"A1", "A2"}

	// Alice mutates while bob has no subscription at all: a feed gap.
	client := NewServiceClient(svc, saleID, "alice")
	_, err := client.Lock(context.Background(), "A1", time.Minute)
	require.NoError(t, err)

	bobClient := NewServiceClient(svc, saleID, "bob")
	bob := NewReconciler(bobClient, "bob", 5*time.Minute, seats, discardLogger())

	// Bob's view is stale until the post-gap authoritative read.
	assert.Equal(t, domain.SeatAvailable, seatState(bob, "A1"))

	require.NoError(t, bob.Reconcile(context.Background()))
	assert.Equal(t, domain.SeatHeldByOther, seatState(bob, "A1"))
	assert.Equal(t, domain.SeatAvailable, seatState(bob, "A2"))
}

func TestCartTimeoutReleasesEverything(t *testing.T) {
	store := memory.NewStore()
	hub := realtime.NewBroadcaster()
	svc := lockservice.New(store, nil, hubFeed{hub}, lockservice.Config{})

	const saleID = 7
	alice := startSession(t, svc, hub, saleID, "alice", []string{"A1", "A2"})

	ctx := context.Background()
	alice.rec.Toggle(ctx, "A1")
	alice.rec.Toggle(ctx, "A2")
	require.Eventually(t, settled(alice.rec, "A1", domain.SeatHeldByMe), time.Second, time.Millisecond)
	require.Eventually(t, settled(alice.rec, "A2", domain.SeatHeldByMe), time.Second, time.Millisecond)

	require.NoError(t, alice.rec.ReleaseAll(ctx))

	// The store agrees: both seats are free for another session.
	states, err := svc.Status(ctx, saleID, []string{"A1", "A2"}, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, states["A1"])
	assert.Equal(t, domain.SeatAvailable, states["A2"])
}
