package countstore

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// In-process CountStore. Each counter keeps a list of event timestamps (unix millis), pruned to the horizon on every write.
type MemCountStore struct {
	Events  *xsync.MapOf[string, []int64]
	Horizon time.Duration
	// upper bound on retained events per counter; oldest are dropped first
	MaxPerKey int
}

func NewMemCountStore(horizon time.Duration) MemCountStore {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return MemCountStore{
		Events:    xsync.NewMapOf[string, []int64](),
		Horizon:   horizon,
		MaxPerKey: 1000,
	}
}

func (s MemCountStore) Increment(ctx context.Context, name, val string, at time.Time) error {
	cutoff := at.Add(-s.Horizon).UnixMilli()
	s.Events.Compute(counterKey(name, val), func(old []int64, loaded bool) ([]int64, bool) {
		kept := make([]int64, 0, len(old)+1)
		for _, ts := range old {
			if ts >= cutoff {
				kept = append(kept, ts)
			}
		}
		kept = append(kept, at.UnixMilli())
		if s.MaxPerKey > 0 && len(kept) > s.MaxPerKey {
			kept = kept[len(kept)-s.MaxPerKey:]
		}
		return kept, false
	})
	return nil
}

func (s MemCountStore) CountWindow(ctx context.Context, name, val string, now time.Time, window time.Duration) (int, error) {
	events, ok := s.Events.Load(counterKey(name, val))
	if !ok {
		return 0, nil
	}
	floor := windowFloor(now, window, s.Horizon)
	c := 0
	for _, ts := range events {
		if ts >= floor {
			c++
		}
	}
	return c, nil
}

// Drops events older than the horizon, removing counters left with none. Returns the number of counters removed.
func (s MemCountStore) Prune(now time.Time) int {
	cutoff := now.Add(-s.Horizon).UnixMilli()
	removed := 0
	s.Events.Range(func(key string, _ []int64) bool {
		s.Events.Compute(key, func(old []int64, loaded bool) ([]int64, bool) {
			kept := make([]int64, 0, len(old))
			for _, ts := range old {
				if ts >= cutoff {
					kept = append(kept, ts)
				}
			}
			if len(kept) == 0 {
				removed++
				return nil, true
			}
			return kept, false
		})
		return true
	})
	return removed
}
