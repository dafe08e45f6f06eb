package engine

import (
	"context"

	"github.com/clawdhub/skillguard/models"
)

// Interface for a type that can handle sending notifications about new automod reports
type Notifier interface {
	SendReport(ctx context.Context, skill *models.Skill, reason string) error
}
