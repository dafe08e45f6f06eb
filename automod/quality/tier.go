package quality

import (
	"time"
)

// Submitter trust tier, derived from account age and publishing history. Controls how strict quality thresholds are.
type SubmitterTier string

const (
	TierLow     SubmitterTier = "low"
	TierMedium  SubmitterTier = "medium"
	TierTrusted SubmitterTier = "trusted"
)

var (
	tierAccountAgeLow    = 30 * 24 * time.Hour
	tierAccountAgeMedium = 90 * 24 * time.Hour
	tierSkillsLow        = 10
	tierSkillsMedium     = 50
)

func TierForSubmitter(accountAge time.Duration, totalSkills int) SubmitterTier {
	if accountAge < tierAccountAgeLow || totalSkills < tierSkillsLow {
		return TierLow
	}
	if accountAge < tierAccountAgeMedium || totalSkills < tierSkillsMedium {
		return TierMedium
	}
	return TierTrusted
}

type tierThresholds struct {
	rejectWords     int
	rejectChars     int
	quarantineScore int
	similarReject   int
}

func thresholdsFor(tier SubmitterTier) tierThresholds {
	switch tier {
	case TierTrusted:
		return tierThresholds{rejectWords: 28, rejectChars: 140, quarantineScore: 50, similarReject: 12}
	case TierMedium:
		return tierThresholds{rejectWords: 35, rejectChars: 180, quarantineScore: 60, similarReject: 8}
	default:
		// unknown tiers get the strictest treatment
		return tierThresholds{rejectWords: 45, rejectChars: 260, quarantineScore: 72, similarReject: 5}
	}
}
