package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	cs := NewMemCountStore(24 * time.Hour)

	c, err := cs.CountWindow(ctx, "test1", "val1", now, time.Hour)
	assert.NoError(err)
	assert.Equal(0, c)

	assert.NoError(cs.Increment(ctx, "test1", "val1", now.Add(-2*time.Hour)))
	assert.NoError(cs.Increment(ctx, "test1", "val1", now.Add(-30*time.Minute)))
	assert.NoError(cs.Increment(ctx, "test1", "val1", now))

	c, err = cs.CountWindow(ctx, "test1", "val1", now, time.Hour)
	assert.NoError(err)
	assert.Equal(2, c)

	c, err = cs.CountWindow(ctx, "test1", "val1", now, 3*time.Hour)
	assert.NoError(err)
	assert.Equal(3, c)

	// other values in the namespace are independent
	c, err = cs.CountWindow(ctx, "test1", "val2", now, 3*time.Hour)
	assert.NoError(err)
	assert.Equal(0, c)
}

func TestMemCountStoreHorizon(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	cs := NewMemCountStore(time.Hour)
	assert.NoError(cs.Increment(ctx, "test1", "val1", now.Add(-3*time.Hour)))
	assert.NoError(cs.Increment(ctx, "test1", "val1", now))

	// even when asking for a wider window, nothing older than the horizon is counted
	c, err := cs.CountWindow(ctx, "test1", "val1", now, 24*time.Hour)
	assert.NoError(err)
	assert.Equal(1, c)

	events, ok := cs.Events.Load(counterKey("test1", "val1"))
	assert.True(ok)
	assert.Equal(1, len(events))
}

func TestMemCountStoreCallerClock(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// a clock far from wall time; the window is anchored to it, not time.Now()
	now := time.UnixMilli(5_000_000)
	cs := NewMemCountStore(time.Hour)
	assert.NoError(cs.Increment(ctx, "test1", "val1", now.Add(-30*time.Minute)))
	assert.NoError(cs.Increment(ctx, "test1", "val1", now))

	c, err := cs.CountWindow(ctx, "test1", "val1", now, time.Hour)
	assert.NoError(err)
	assert.Equal(2, c)

	c, err = cs.CountWindow(ctx, "test1", "val1", now, 10*time.Minute)
	assert.NoError(err)
	assert.Equal(1, c)

	c, err = cs.CountWindow(ctx, "test1", "val1", now.Add(2*time.Hour), 24*time.Hour)
	assert.NoError(err)
	assert.Equal(0, c)
}

func TestMemCountStorePrune(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	cs := NewMemCountStore(time.Hour)
	assert.NoError(cs.Increment(ctx, "test1", "stale", now.Add(-2*time.Hour)))
	assert.NoError(cs.Increment(ctx, "test1", "mixed", now.Add(-2*time.Hour)))
	assert.NoError(cs.Increment(ctx, "test1", "mixed", now.Add(-90*time.Minute)))
	assert.NoError(cs.Increment(ctx, "test1", "fresh", now))

	assert.Equal(0, cs.Prune(now.Add(-3*time.Hour)))
	assert.Equal(3, cs.Events.Size())

	assert.Equal(2, cs.Prune(now))
	assert.Equal(1, cs.Events.Size())
	_, ok := cs.Events.Load(counterKey("test1", "stale"))
	assert.False(ok)

	c, err := cs.CountWindow(ctx, "test1", "fresh", now, time.Hour)
	assert.NoError(err)
	assert.Equal(1, c)
}

func TestMemCountStoreMaxPerKey(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	cs := NewMemCountStore(time.Hour)
	cs.MaxPerKey = 3
	for i := 0; i < 10; i++ {
		assert.NoError(cs.Increment(ctx, "test1", "val1", now))
	}
	c, err := cs.CountWindow(ctx, "test1", "val1", now, time.Minute)
	assert.NoError(err)
	assert.Equal(3, c)
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	cs := NewMemCountStore(time.Hour)

	// Increment two different values from four different goroutines, and read
	// from two more (run this with `-race`!).
	var wg sync.WaitGroup
	fnInc := func(name, val string, times int) {
		for i := 0; i < times; i++ {
			assert.NoError(cs.Increment(ctx, name, val, now))
			time.Sleep(time.Nanosecond)
		}
		wg.Done()
	}
	fnRead := func(name, val string, times int) {
		for i := 0; i < times; i++ {
			_, err := cs.CountWindow(ctx, name, val, now, time.Minute)
			assert.NoError(err)
			time.Sleep(time.Nanosecond)
		}
	}
	wg.Add(4)
	go fnInc("test1", "val1", 10)
	go fnInc("test1", "val1", 10)
	go fnRead("test1", "val1", 10)
	go fnInc("test2", "val2", 6)
	go fnInc("test2", "val2", 6)
	go fnRead("test2", "val2", 6)
	wg.Wait()

	c, err := cs.CountWindow(ctx, "test1", "val1", now, time.Minute)
	assert.NoError(err)
	assert.Equal(20, c)
	c, err = cs.CountWindow(ctx, "test2", "val2", now, time.Minute)
	assert.NoError(err)
	assert.Equal(12, c)
}

func TestRedisCountStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	cs, err := NewRedisCountStore("redis://localhost:6379/0", time.Hour)
	if err != nil {
		t.Fail()
	}

	assert.NoError(cs.Increment(ctx, "test-redis", "val1", now.Add(-2*time.Hour)))
	assert.NoError(cs.Increment(ctx, "test-redis", "val1", now))
	assert.NoError(cs.Increment(ctx, "test-redis", "val1", now))

	c, err := cs.CountWindow(ctx, "test-redis", "val1", now, time.Minute)
	assert.NoError(err)
	assert.Equal(2, c)
}
