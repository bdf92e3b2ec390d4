package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_DoesNotAdvanceByDefault(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, DefaultEpoch, clock.Now())
	assert.Equal(t, DefaultEpoch, clock.Now())
	assert.Equal(t, int64(2), clock.Ticks())
}

func TestDeterministicClock_Steps(t *testing.T) {
	epoch := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	clock := NewSteppingClock(epoch, time.Second)

	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
	assert.Equal(t, epoch.Add(2*time.Second), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	epoch := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	clock := NewSteppingClock(epoch, time.Minute)
	clock.Now()
	clock.Now()

	clock.Reset()

	assert.Equal(t, int64(0), clock.Ticks())
	assert.Equal(t, epoch, clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewSteppingClock(DefaultEpoch, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Now()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), clock.Ticks())
}

func TestFixedRunIDGenerator(t *testing.T) {
	gen := NewFixedRunIDGenerator("run-123")
	assert.Equal(t, "run-123", gen.Generate())
	assert.Equal(t, "run-123", gen.Generate())

	assert.Equal(t, "test-run-default", NewFixedRunIDGenerator("").Generate())
}

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("run-1", "run-2")

	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-2", gen.Generate())
	assert.PanicsWithValue(t, "SequenceGenerator: all run IDs exhausted", func() {
		gen.Generate()
	})
}
