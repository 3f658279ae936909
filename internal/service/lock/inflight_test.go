package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedInflightSerializesPerKey(t *testing.T) {
	g := newKeyedInflight()

	const workers = 32
	var (
		wg      sync.WaitGroup
		active  int
		peak    int
		entered int
		mu      sync.Mutex
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.do("7/A1", func() error {
				mu.Lock()
				active++
				entered++
				if active > peak {
					peak = active
				}
				mu.Unlock()

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak, "at most one call in flight per key")
	assert.Equal(t, workers, entered, "waiters run, never get skipped")
}

func TestKeyedInflightIndependentKeys(t *testing.T) {
	g := newKeyedInflight()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = g.do("7/A1", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started

	// A different seat proceeds while A1 is held.
	done := make(chan struct{})
	go func() {
		_ = g.do("7/B2", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent key blocked behind an unrelated in-flight call")
	}
	close(release)
}

func TestKeyedInflightReleasesEntries(t *testing.T) {
	g := newKeyedInflight()

	require.NoError(t, g.do("7/A1", func() error { return nil }))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.entries, "completed keys do not leak entries")
}
