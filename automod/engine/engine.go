package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawdhub/skillguard/automod/llm"
	"github.com/clawdhub/skillguard/models"
)

const (
	CursorKey = "skills"

	DefaultBatchSize  = 25
	MaxBatchSize      = 100
	DefaultMaxBatches = 4
	MaxMaxBatches     = 10
)

// runtime for sweeping skills in updatedAt order, running heuristics and recording moderation reports.
//
// Store, Cursors and Logger are required. Classifier and Notifier are optional.
type Engine struct {
	Logger     *slog.Logger
	Store      Store
	Cursors    CursorStore
	Classifier Classifier
	Notifier   Notifier
	// user that automod reports are attributed to
	ActorID uint
}

type Config struct {
	BatchSize  int `json:"batchSize,omitempty"`
	MaxBatches int `json:"maxBatches,omitempty"`
}

// Zero means default. Everything else is clamped in to range.
func (c Config) Clamp() Config {
	out := c
	if out.BatchSize == 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.MaxBatches == 0 {
		out.MaxBatches = DefaultMaxBatches
	}
	out.BatchSize = max(1, min(MaxBatchSize, out.BatchSize))
	out.MaxBatches = max(1, min(MaxMaxBatches, out.MaxBatches))
	return out
}

type Result struct {
	Processed       int   `json:"processed"`
	Reported        int   `json:"reported"`
	CursorUpdatedAt int64 `json:"cursorUpdatedAt"`
}

// Runs one resumable sweep, starting from the persisted cursor.
//
// The cursor is persisted after every batch. If the context is cancelled, the sweep stops after the current skill and persists progress so far. Errors from the store (including persisting the cursor) end the sweep and are returned along with the partial result.
func (eng *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if eng.ActorID == 0 {
		return nil, ErrActorNotConfigured
	}
	cfg = cfg.Clamp()

	ctx, span := otel.Tracer("automod").Start(ctx, "RunSkillAutomod", trace.WithAttributes(
		attribute.Int("batch_size", cfg.BatchSize),
		attribute.Int("max_batches", cfg.MaxBatches),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := eng.run(ctx, cfg)
	if err != nil {
		runErrorCount.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if res != nil {
		span.SetAttributes(attribute.Int("processed", res.Processed), attribute.Int("reported", res.Reported))
		eng.Logger.Info("automod sweep complete", "processed", res.Processed, "reported", res.Reported, "cursor", res.CursorUpdatedAt, "duration", time.Since(start))
	}
	return res, err
}

func (eng *Engine) run(ctx context.Context, cfg Config) (*Result, error) {
	cursor, err := eng.Cursors.GetCursor(ctx, CursorKey)
	if err != nil {
		return nil, fmt.Errorf("loading automod cursor: %w", err)
	}
	res := &Result{CursorUpdatedAt: cursor}

	for batch := 0; batch < cfg.MaxBatches; batch++ {
		skills, err := eng.Store.ListSkillsUpdatedAfter(ctx, res.CursorUpdatedAt, cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("fetching automod batch: %w", err)
		}
		if len(skills) == 0 {
			break
		}
		eng.Logger.Debug("processing automod batch", "batch", batch, "size", len(skills), "cursor", res.CursorUpdatedAt)

		stopped := false
		var procErr error
		for i := range skills {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			skill := &skills[i]
			if skill.IsSoftDeleted() {
				skillSkipCount.Inc()
				res.CursorUpdatedAt = max(res.CursorUpdatedAt, skill.UpdatedAt)
				continue
			}
			reported, err := eng.processSkill(ctx, skill)
			if err != nil {
				procErr = err
				break
			}
			if reported {
				res.Reported++
			}
			res.CursorUpdatedAt = max(res.CursorUpdatedAt, skill.UpdatedAt)
			res.Processed++
			skillProcessCount.Inc()
		}

		// progress is persisted even when the batch was cut short, so completed work is not repeated
		if err := eng.persistCursor(ctx, res.CursorUpdatedAt); err != nil {
			return res, err
		}
		if procErr != nil {
			return res, procErr
		}
		if stopped {
			eng.Logger.Info("automod sweep interrupted", "cursor", res.CursorUpdatedAt)
			return res, ctx.Err()
		}
		if len(skills) < cfg.BatchSize {
			break
		}
	}
	return res, nil
}

func (eng *Engine) persistCursor(ctx context.Context, cursor int64) error {
	// a cancelled sweep still needs to record what it finished
	if err := eng.Cursors.SetCursor(context.WithoutCancel(ctx), CursorKey, cursor); err != nil {
		return fmt.Errorf("persisting automod cursor: %w", err)
	}
	cursorPosition.Set(float64(cursor))
	return nil
}

// Returns true if a new report was recorded.
func (eng *Engine) processSkill(ctx context.Context, skill *models.Skill) (bool, error) {
	logger := eng.Logger.With("skill", skill.ID, "slug", skill.Slug)

	var version *models.SkillVersion
	if skill.LatestVersionID != nil {
		v, err := eng.Store.GetVersion(ctx, *skill.LatestVersionID)
		if err != nil {
			return false, fmt.Errorf("fetching version %d: %w", *skill.LatestVersionID, err)
		}
		version = v
	}

	source := "heuristic"
	reason := ""
	if findings := ScanLocally(skill, version); len(findings) > 0 {
		reason = heuristicReason(findings)
	} else if eng.Classifier != nil {
		source = "ai"
		verdict := eng.classify(ctx, logger, skill, version)
		if verdict != nil && verdict.Flag {
			reason = aiReason(verdict.Reason)
		}
	}
	if reason == "" {
		return false, nil
	}

	isNew, err := eng.Store.ReportSkill(ctx, skill.ID, eng.ActorID, reason)
	if err != nil {
		return false, fmt.Errorf("reporting skill %d: %w", skill.ID, err)
	}
	if !isNew {
		logger.Debug("skill already reported by automod")
		return false, nil
	}
	newReportCount.WithLabelValues(source).Inc()
	logger.Info("automod reported skill", "reason", reason)

	if eng.Notifier != nil {
		if err := eng.Notifier.SendReport(ctx, skill, reason); err != nil {
			logger.Error("failed to send report notification", "err", err)
		}
	}
	return true, nil
}

func (eng *Engine) classify(ctx context.Context, logger *slog.Logger, skill *models.Skill, version *models.SkillVersion) (verdict *llm.Result) {
	// similar to an HTTP server, recover any panics from the classifier and carry on
	defer func() {
		if r := recover(); r != nil {
			classifierErrorCount.Inc()
			logger.Error("automod classifier exception", "err", r)
			verdict = nil
		}
	}()

	res, err := eng.Classifier.Classify(ctx, skill, version)
	if err != nil {
		classifierErrorCount.Inc()
		logger.Warn("automod classifier failed", "err", err)
		return nil
	}
	return res
}
