// Publish-time checks for a new skill version: content quality first, then the security scan, then static moderation rules.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawdhub/skillguard/automod/blobstore"
	"github.com/clawdhub/skillguard/automod/moderation"
	"github.com/clawdhub/skillguard/automod/quality"
	"github.com/clawdhub/skillguard/automod/scanner"
	"github.com/clawdhub/skillguard/models"
)

type Scanner interface {
	ScanFiles(ctx context.Context, files []models.SkillFile) *scanner.ScanResult
}

// files bigger than this are left to the security scanner
const maxStaticScanBytes = 1 << 20

// Moderation reasons set from the static scan verdict
const (
	ReasonStaticMalicious  = "scanner.static.malicious"
	ReasonStaticSuspicious = "scanner.static.suspicious"
)

type Submission struct {
	Slug        string
	DisplayName string
	Parsed      models.ParsedSkill
	// used to group near-identical submissions from the same account
	SubmitterID      string
	AccountCreatedAt time.Time
	// skills already published by the submitter
	TotalSkills int
	Readme      string
	Summary     string
	Files       []models.SkillFile
}

type Outcome struct {
	Assessment       quality.Assessment      `json:"assessment"`
	ScanFlags        []string                `json:"scanFlags"`
	ModerationStatus models.ModerationStatus `json:"moderationStatus"`
	ModerationReason string                  `json:"moderationReason,omitempty"`
	// flags to store on the skill
	ModerationFlags []string                     `json:"moderationFlags"`
	StaticScan      *moderation.StaticScanResult `json:"staticScan"`
}

// Returned when a submission fails quality checks outright. No scan is run.
type RejectedError struct {
	Assessment quality.Assessment
}

func (e *RejectedError) Error() string {
	return e.Assessment.Reason
}

type Gate struct {
	Index   *quality.SimilarityIndex
	Scanner Scanner
	// source of file contents for static moderation rules; if nil only skill metadata is checked
	Blobs  blobstore.BlobStore
	Logger *slog.Logger

	now func() time.Time
}

func NewGate(index *quality.SimilarityIndex, sc Scanner, blobs blobstore.BlobStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		Index:   index,
		Scanner: sc,
		Blobs:   blobs,
		Logger:  logger.With("component", "gate"),
		now:     time.Now,
	}
}

// Runs quality evaluation and, unless rejected, the security scan.
//
// Returns *RejectedError for low quality submissions and *scanner.SecurityError for blocked scans. Only submissions which get through both are recorded in the similarity index. Static moderation findings never reject; they hide or flag the skill instead.
func (g *Gate) Check(ctx context.Context, sub Submission) (*Outcome, error) {
	now := g.now()
	logger := g.Logger.With("submitter", sub.SubmitterID)

	signals := quality.ComputeSignals(sub.Readme, sub.Summary)

	similar := 0
	if g.Index != nil {
		n, err := g.Index.CountRecent(ctx, sub.SubmitterID, signals.StructuralFingerprint, now)
		if err != nil {
			return nil, err
		}
		similar = n
	}

	tier := quality.TierForSubmitter(now.Sub(sub.AccountCreatedAt), sub.TotalSkills)
	assessment := quality.Evaluate(signals, tier, similar)
	gateDecisions.WithLabelValues(string(assessment.Decision)).Inc()

	if assessment.Decision == quality.DecisionReject {
		logger.Info("submission rejected on quality", "score", assessment.Score, "tier", tier, "similar", similar)
		return nil, &RejectedError{Assessment: assessment}
	}

	var res *scanner.ScanResult
	if g.Scanner != nil {
		res = g.Scanner.ScanFiles(ctx, sub.Files)
	} else {
		res = scanner.UnavailableResult(now)
	}
	flags, err := scanner.HandleScanResult(res)
	if err != nil {
		logger.Warn("submission blocked by security scan", "err", err)
		return nil, err
	}

	static, err := g.staticScan(ctx, sub, now)
	if err != nil {
		return nil, err
	}
	staticVerdicts.WithLabelValues(string(static.Verdict)).Inc()
	modFlags := moderation.MergeFlags(moderation.DeriveFlags(flagInput(sub)), moderation.LegacyFlags(static.Verdict))

	if g.Index != nil {
		if err := g.Index.Record(ctx, sub.SubmitterID, signals.StructuralFingerprint, now); err != nil {
			// the submission itself is fine; the index only informs later checks
			logger.Error("failed to record submission fingerprint", "err", err)
		}
	}

	out := &Outcome{
		Assessment:       assessment,
		ScanFlags:        flags,
		ModerationStatus: models.ModerationActive,
		ModerationFlags:  modFlags,
		StaticScan:       static,
	}
	switch {
	case static.Verdict == moderation.VerdictMalicious:
		out.ModerationStatus = models.ModerationHidden
		out.ModerationReason = ReasonStaticMalicious
	case assessment.Decision == quality.DecisionQuarantine:
		out.ModerationStatus = models.ModerationHidden
		out.ModerationReason = assessment.Reason
	case static.Verdict == moderation.VerdictSuspicious:
		out.ModerationReason = ReasonStaticSuspicious
	}
	logger.Info("submission accepted", "decision", assessment.Decision, "score", assessment.Score, "flags", len(flags), "static", static.Verdict, "status", out.ModerationStatus)
	return out, nil
}

// Reads the text files static rules apply to and runs them. Missing and oversized files are skipped; any other read failure is returned.
func (g *Gate) staticScan(ctx context.Context, sub Submission, now time.Time) (*moderation.StaticScanResult, error) {
	in := moderation.StaticScanInput{
		Slug:        sub.Slug,
		DisplayName: sub.DisplayName,
		Summary:     sub.Summary,
		Frontmatter: sub.Parsed.Frontmatter,
		Metadata:    sub.Parsed.Metadata,
	}
	if g.Blobs != nil {
		for _, f := range sub.Files {
			if !moderation.ScansPath(f.Path) || f.Size > maxStaticScanBytes {
				continue
			}
			blob, err := g.Blobs.Get(ctx, f.StorageRef)
			if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrTooLarge) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("reading %s for static scan: %w", f.Path, err)
			}
			if len(blob) > maxStaticScanBytes {
				continue
			}
			in.Files = append(in.Files, moderation.TextFile{Path: f.Path, Content: string(blob)})
		}
	}
	return moderation.StaticScan(in, now), nil
}

func flagInput(sub Submission) moderation.FlagInput {
	paths := make([]string, 0, len(sub.Files))
	for _, f := range sub.Files {
		paths = append(paths, f.Path)
	}
	return moderation.FlagInput{
		Slug:        sub.Slug,
		DisplayName: sub.DisplayName,
		Summary:     sub.Summary,
		Frontmatter: sub.Parsed.Frontmatter,
		Metadata:    sub.Parsed.Metadata,
		Paths:       paths,
	}
}
