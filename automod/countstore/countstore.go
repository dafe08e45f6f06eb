// Automod component for counting recent events within a sliding time window.
//
// Includes an interface and implementations using redis and in-process memory. Counters are keyed by a namespace ("name") and a value within that namespace ("val"). Events older than the store horizon are discarded, so counts are always bounded in time.
package countstore

import (
	"context"
	"time"
)

// default retention for recorded events, if a store is created without an explicit horizon
const DefaultHorizon = 7 * 24 * time.Hour

type CountStore interface {
	// Records a single event for the counter, at the given time.
	Increment(ctx context.Context, name, val string, at time.Time) error
	// Returns the number of events recorded for the counter within 'window' of 'now' (inclusive). The window is capped at the store horizon.
	CountWindow(ctx context.Context, name, val string, now time.Time, window time.Duration) (int, error)
}

// earliest unix millis counted for a window ending at now
func windowFloor(now time.Time, window, horizon time.Duration) int64 {
	if window <= 0 || window > horizon {
		window = horizon
	}
	return now.Add(-window).UnixMilli()
}

func counterKey(name, val string) string {
	return name + "/" + val
}
