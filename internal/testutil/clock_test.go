package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualClock_StartsAtStart(t *testing.T) {
	clock := NewManualClock(t0)
	assert.Equal(t, t0, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(t0)

	got := clock.Advance(72 * time.Hour)
	assert.Equal(t, t0.Add(72*time.Hour), got)
	assert.Equal(t, got, clock.Now())

	// Reading does not move the clock
	assert.Equal(t, got, clock.Now())
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(t0)
	clock.Advance(time.Hour)

	clock.Set(t0.Add(-time.Minute))
	assert.Equal(t, t0.Add(-time.Minute), clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(t0)
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Second)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, t0.Add(numGoroutines*callsPerGoroutine*time.Second), clock.Now())
}
