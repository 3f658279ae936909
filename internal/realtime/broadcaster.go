// Package realtime fans change-feed events out to connected sessions. One
// hub serves the whole process; subscriptions are scoped per sale instance.
package realtime

import (
	"context"
	"sync"

	"github.com/kirinyoku/seatlock/internal/domain"
)

// Event is the unit delivered to subscribers: exactly one of Lock or Sale
// is set.
type Event struct {
	Lock *domain.LockEvent `json:"lock,omitempty"`
	Sale *domain.SaleEvent `json:"sale,omitempty"`
}

// Broadcaster delivers events to per-sale-instance subscriber sets. Sends
// never block: a subscriber that cannot keep up loses events and is expected
// to reconcile through an authoritative status read, which is already the
// contract after any feed gap.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int64]map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int64]map[chan Event]struct{}),
	}
}

// Subscribe registers a subscriber for one sale instance and returns its
// event channel.
func (b *Broadcaster) Subscribe(saleInstanceID int64) chan Event {
	ch := make(chan Event, 32)

	b.mu.Lock()
	set, ok := b.subs[saleInstanceID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[saleInstanceID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(saleInstanceID int64, ch chan Event) {
	b.mu.Lock()
	if set, ok := b.subs[saleInstanceID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(b.subs, saleInstanceID)
		}
	}
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber of its sale instance.
func (b *Broadcaster) Publish(saleInstanceID int64, ev Event) {
	b.mu.Lock()
	for ch := range b.subs[saleInstanceID] {
		select {
		case ch <- ev:
		default:
			// Drop for lagging subscribers; reconnect reconciliation
			// restores their state.
		}
	}
	b.mu.Unlock()
}

// Feed is the upstream subscription the bridge consumes, implemented by the
// redis change feed.
type Feed interface {
	SubscribeAll(
		ctx context.Context,
		onLock func(ctx context.Context, ev domain.LockEvent),
		onSale func(ctx context.Context, ev domain.SaleEvent),
	) error
}

// Bridge pumps the cross-process feed into the hub until ctx is done, so
// every local subscriber sees mutations committed by any process.
func Bridge(ctx context.Context, feed Feed, b *Broadcaster) error {
	return feed.SubscribeAll(ctx,
		func(_ context.Context, ev domain.LockEvent) {
			b.Publish(ev.SaleInstanceID, Event{Lock: &ev})
		},
		func(_ context.Context, ev domain.SaleEvent) {
			b.Publish(ev.SaleInstanceID, Event{Sale: &ev})
		},
	)
}
