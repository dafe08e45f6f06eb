package quality

type Decision string

const (
	DecisionPass       Decision = "pass"
	DecisionQuarantine Decision = "quarantine"
	DecisionReject     Decision = "reject"
)

const (
	ReasonTemplateSpam = "Skill appears to be repeated template spam from this account."
	ReasonTooThin      = "Skill content is too thin or templated. Add meaningful, specific documentation."
	ReasonQuarantine   = "Skill quality is low and requires moderation review before being listed."
	ReasonPassed       = "Quality checks passed."
)

type Assessment struct {
	Score              int           `json:"score"`
	Decision           Decision      `json:"decision"`
	Reason             string        `json:"reason"`
	TrustTier          SubmitterTier `json:"trustTier"`
	SimilarRecentCount int           `json:"similarRecentCount"`
	Signals            Signals       `json:"signals"`
}

// Scores signals starting from 100, with fixed deductions, clamped at zero.
func Score(s Signals) int {
	score := 100
	if s.BodyChars < 250 {
		score -= 28
	}
	if s.BodyWords < 80 {
		score -= 24
	}
	if s.UniqueWordRatio < 0.45 {
		score -= 14
	}
	if s.HeadingCount < 2 {
		score -= 10
	}
	if s.BulletCount < 3 {
		score -= 8
	}
	score -= min(28, s.TemplateMarkerHits*9)
	if s.GenericSummary {
		score -= 20
	}
	return max(0, score)
}

// CJK text packs more meaning per character and per segmented word, so raw counts overstate thinness.
func isCJKHeavy(s Signals) bool {
	if s.CJKChars >= 40 {
		return true
	}
	return s.BodyChars > 0 && float64(s.CJKChars)/float64(s.BodyChars) >= 0.15
}

// Decides whether a submission passes, is quarantined for moderator review, or is rejected outright.
//
// This is a pure function: identical inputs always produce an identical Assessment.
func Evaluate(signals Signals, tier SubmitterTier, similarRecentCount int) Assessment {
	score := Score(signals)
	th := thresholdsFor(tier)
	if isCJKHeavy(signals) {
		th.rejectWords = max(24, th.rejectWords-16)
		th.rejectChars = max(140, th.rejectChars-120)
	}

	out := Assessment{
		Score:              score,
		TrustTier:          tier,
		SimilarRecentCount: similarRecentCount,
		Signals:            signals,
	}

	templateSpam := similarRecentCount >= th.similarReject
	if signals.BodyWords < th.rejectWords ||
		signals.BodyChars < th.rejectChars ||
		(signals.TemplateMarkerHits >= 3 && signals.BodyWords < 120) ||
		templateSpam {
		out.Decision = DecisionReject
		if templateSpam {
			out.Reason = ReasonTemplateSpam
		} else {
			out.Reason = ReasonTooThin
		}
		return out
	}

	if score < th.quarantineScore {
		out.Decision = DecisionQuarantine
		out.Reason = ReasonQuarantine
		return out
	}

	out.Decision = DecisionPass
	out.Reason = ReasonPassed
	return out
}
