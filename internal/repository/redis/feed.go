package redis

import (
	"context"
	"encoding/json"

	"github.com/kirinyoku/seatlock/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LockFeed is the cross-process change feed. Each sale instance gets its own
// channel; every lock mutation and sale completion for that instance is
// published there after the store write commits. Delivery is best-effort:
// consumers reconcile through an authoritative status read after any gap.
type LockFeed struct {
	rdb *redis.Client
}

func NewLockFeed(rdb *redis.Client) *LockFeed {
	return &LockFeed{rdb: rdb}
}

const (
	msgLock = "lock_changed"
	msgSale = "sale_completed"
)

type feedMsg struct {
	Type string            `json:"type"`
	Lock *domain.LockEvent `json:"lock,omitempty"`
	Sale *domain.SaleEvent `json:"sale,omitempty"`
}

func (f *LockFeed) PublishLock(ctx context.Context, ev domain.LockEvent) error {
	b, _ := json.Marshal(feedMsg{Type: msgLock, Lock: &ev})

	return f.rdb.Publish(ctx, ChannelSale(ev.SaleInstanceID), b).Err()
}

func (f *LockFeed) PublishSale(ctx context.Context, ev domain.SaleEvent) error {
	b, _ := json.Marshal(feedMsg{Type: msgSale, Sale: &ev})

	return f.rdb.Publish(ctx, ChannelSale(ev.SaleInstanceID), b).Err()
}

// Subscribe consumes one sale instance's feed until ctx is done. Malformed
// payloads are skipped rather than terminating the loop.
func (f *LockFeed) Subscribe(
	ctx context.Context,
	saleInstanceID int64,
	onLock func(ctx context.Context, ev domain.LockEvent),
	onSale func(ctx context.Context, ev domain.SaleEvent),
) error {
	sub := f.rdb.Subscribe(ctx, ChannelSale(saleInstanceID))
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg feedMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				continue
			}
			switch {
			case msg.Type == msgLock && msg.Lock != nil:
				onLock(ctx, *msg.Lock)
			case msg.Type == msgSale && msg.Sale != nil:
				onSale(ctx, *msg.Sale)
			}
		}
	}
}

// SubscribeAll consumes the feeds of every sale instance at once, for the
// bridge that fans events out to local subscribers.
func (f *LockFeed) SubscribeAll(
	ctx context.Context,
	onLock func(ctx context.Context, ev domain.LockEvent),
	onSale func(ctx context.Context, ev domain.SaleEvent),
) error {
	sub := f.rdb.PSubscribe(ctx, ns+":sale:*:feed")
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg feedMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				continue
			}
			switch {
			case msg.Type == msgLock && msg.Lock != nil:
				onLock(ctx, *msg.Lock)
			case msg.Type == msgSale && msg.Sale != nil:
				onSale(ctx, *msg.Sale)
			}
		}
	}
}
