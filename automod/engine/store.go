package engine

import (
	"context"
	"errors"

	"github.com/clawdhub/skillguard/automod/llm"
	"github.com/clawdhub/skillguard/models"
)

// The engine refuses to run without an identity to attribute reports to.
var ErrActorNotConfigured = errors.New("automod actor user ID not configured")

type Store interface {
	// Skills with UpdatedAt strictly greater than cursor, ascending by UpdatedAt, at most limit.
	ListSkillsUpdatedAfter(ctx context.Context, cursor int64, limit int) ([]models.Skill, error)
	// Returns (nil, nil) if the version does not exist.
	GetVersion(ctx context.Context, id uint) (*models.SkillVersion, error)
	// Records a report against a skill. Returns false if this user already reported the skill, or the skill has been soft-deleted.
	ReportSkill(ctx context.Context, skillID, userID uint, reason string) (bool, error)
}

// Persisted sweep position. Implementations must never move a cursor backwards.
type CursorStore interface {
	// Returns 0 if no cursor has been saved under the key.
	GetCursor(ctx context.Context, key string) (int64, error)
	SetCursor(ctx context.Context, key string, value int64) error
}

// Secondary, best-effort classification. (nil, nil) means no verdict.
type Classifier interface {
	Classify(ctx context.Context, skill *models.Skill, version *models.SkillVersion) (*llm.Result, error)
}
