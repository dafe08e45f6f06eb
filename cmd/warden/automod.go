package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clawdhub/skillguard/automod/countstore"
	"github.com/clawdhub/skillguard/automod/engine"
	"github.com/clawdhub/skillguard/automod/reputation"
	"github.com/clawdhub/skillguard/internal/ticker"
	"github.com/clawdhub/skillguard/models"
)

// Runs an automod sweep now and then every interval, until the context is done. Sweep failures are logged and retried on the next tick.
func runAutomodLoop(ctx context.Context, eng *engine.Engine, cfg engine.Config, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		logger.Info("scheduled automod sweeps disabled")
		return nil
	}

	err := ticker.Periodically(ctx, interval, true, func(ctx context.Context) error {
		res, err := eng.Run(ctx, cfg)
		switch {
		case err != nil && ctx.Err() != nil:
			// shutting down; progress so far was persisted by the engine
		case errors.Is(err, engine.ErrActorNotConfigured):
			return err
		case err != nil:
			automodLoopRuns.WithLabelValues("error").Inc()
			logger.Error("scheduled automod sweep failed", "err", err)
		default:
			automodLoopRuns.WithLabelValues("ok").Inc()
			logger.Debug("scheduled automod sweep complete", "processed", res.Processed, "reported", res.Reported, "cursor", res.CursorUpdatedAt)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Periodically drops stale in-memory similarity counters, until the context is done.
func runCountPruneLoop(ctx context.Context, counts countstore.MemCountStore, interval time.Duration, logger *slog.Logger) error {
	err := ticker.Periodically(ctx, interval, false, func(ctx context.Context) error {
		if n := counts.Prune(time.Now()); n > 0 {
			logger.Debug("pruned similarity counters", "removed", n)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type unhashedVersionLister interface {
	ListVersionsMissingHash(ctx context.Context, afterID uint, limit int) ([]models.SkillVersion, error)
}

// Bundles and submits up to batch versions without a stored hash on every tick, walking forward by version ID and starting over after a short batch.
func runReputationSubmitLoop(ctx context.Context, sub *reputation.Submitter, versions unhashedVersionLister, interval time.Duration, batch int, logger *slog.Logger) error {
	if interval <= 0 || batch <= 0 {
		logger.Info("scheduled bundle submission disabled")
		return nil
	}

	var after uint
	err := ticker.Periodically(ctx, interval, true, func(ctx context.Context) error {
		pending, err := versions.ListVersionsMissingHash(ctx, after, batch)
		if err != nil {
			logger.Error("listing unhashed versions failed", "err", err)
			return nil
		}
		for _, v := range pending {
			after = v.ID
			res, err := sub.SubmitVersion(ctx, v.ID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("bundle submission failed", "version", v.ID, "err", err)
				continue
			}
			logger.Debug("bundle submitted", "version", v.ID, "sha256", res.Sha256, "uploaded", res.Uploaded)
		}
		if len(pending) < batch {
			after = 0
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
