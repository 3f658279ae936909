package lock

import (
	"fmt"
	"sync"
)

// keyedInflight serializes mutations per (sale instance, seat): at most one
// lock or unlock is in flight for a given seat at any moment, for every
// caller, so duplicate guard code in handlers is unnecessary. Waiters queue
// on the per-key mutex instead of racing the store.
type keyedInflight struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

type inflightEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedInflight() *keyedInflight {
	return &keyedInflight{entries: make(map[string]*inflightEntry)}
}

func seatKey(saleInstanceID int64, seatID string) string {
	return fmt.Sprintf("%d/%s", saleInstanceID, seatID)
}

func (g *keyedInflight) do(key string, fn func() error) error {
	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok {
		e = &inflightEntry{}
		g.entries[key] = e
	}
	e.refs++
	g.mu.Unlock()

	e.mu.Lock()
	defer func() {
		e.mu.Unlock()

		g.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(g.entries, key)
		}
		g.mu.Unlock()
	}()

	return fn()
}
