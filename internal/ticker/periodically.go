package ticker

import (
	"context"
	"fmt"
	"time"
)

// Periodically runs the provided task function at the specified interval until the context is done or an error occurs.
//
// If immediate is set, the task also runs once before the first tick. Returns ctx.Err() when the context ends.
func Periodically(ctx context.Context, interval time.Duration, immediate bool, task func(context.Context) error) error {
	if immediate {
		if err := task(ctx); err != nil {
			return fmt.Errorf("periodic task failed: %w", err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := task(ctx); err != nil {
				return fmt.Errorf("periodic task failed: %w", err)
			}
		}
	}
}
