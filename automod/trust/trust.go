// Derives the install-time trust tier of a skill from moderation state, external reputation status and publisher account age.
package trust

import (
	"strings"
	"time"

	"github.com/clawdhub/skillguard/models"
)

type Tier string

const (
	TierVerified   Tier = "verified"
	TierClean      Tier = "clean"
	TierPending    Tier = "pending"
	TierSuspicious Tier = "suspicious"
	TierMalicious  Tier = "malicious"
	TierUnknown    Tier = "unknown"
)

// Publisher accounts at least this old are "established"
const EstablishedPublisherAge = 30 * 24 * time.Hour

// Everything the classifier looks at. Zero values mean "no data".
type Subject struct {
	ModerationStatus models.ModerationStatus
	ModerationReason string
	ReputationStatus string
	OwnerCreatedAt   *time.Time
}

// Assembles a Subject from stored records. Version and owner may be nil.
func SubjectFor(skill *models.Skill, version *models.SkillVersion, owner *models.User) Subject {
	s := Subject{
		ModerationStatus: skill.ModerationStatus,
	}
	if skill.ModerationReason != nil {
		s.ModerationReason = *skill.ModerationReason
	}
	if version != nil && version.ReputationStatus != nil {
		s.ReputationStatus = *version.ReputationStatus
	}
	if owner != nil {
		s.OwnerCreatedAt = owner.GithubCreatedAt
	}
	return s
}

// Classify is pure: account age is measured against the supplied now.
func Classify(s Subject, now time.Time) Tier {
	switch s.ModerationStatus {
	case models.ModerationRemoved:
		return TierMalicious
	case models.ModerationHidden:
		return TierSuspicious
	}

	reason := strings.ToLower(s.ModerationReason)
	if strings.Contains(reason, "malicious") {
		return TierMalicious
	}
	if strings.Contains(reason, "suspicious") {
		return TierSuspicious
	}

	switch strings.ToLower(strings.TrimSpace(s.ReputationStatus)) {
	case "", "pending", "not_found":
		return TierPending
	case "error", "failed":
		return TierUnknown
	case "malicious":
		return TierMalicious
	case "suspicious":
		return TierSuspicious
	case "clean", "benign":
		if IsEstablishedPublisher(s.OwnerCreatedAt, now) {
			return TierVerified
		}
		return TierClean
	}
	return TierUnknown
}

// Owners with no known account creation time are never established.
func IsEstablishedPublisher(createdAt *time.Time, now time.Time) bool {
	if createdAt == nil || createdAt.IsZero() {
		return false
	}
	return now.Sub(*createdAt) >= EstablishedPublisherAge
}

// Verified and clean skills install without a warning.
func IsSafe(t Tier) bool {
	return t == TierVerified || t == TierClean
}

// Suspicious and malicious skills must surface a visible caution.
func IsWarning(t Tier) bool {
	return t == TierSuspicious || t == TierMalicious
}

type TierInfo struct {
	Tier        Tier   `json:"tier"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var tierInfo = map[Tier]TierInfo{
	TierVerified:   {Label: "Verified", Description: "Clean security scan from an established publisher"},
	TierClean:      {Label: "Clean", Description: "Passed security scan"},
	TierPending:    {Label: "Pending", Description: "Security scan in progress"},
	TierSuspicious: {Label: "Suspicious", Description: "Flagged as potentially suspicious by security scan"},
	TierMalicious:  {Label: "Malicious", Description: "Flagged as malicious by security scan"},
	TierUnknown:    {Label: "Unknown", Description: "Security status could not be determined"},
}

func Info(t Tier) TierInfo {
	info, ok := tierInfo[t]
	if !ok {
		info = tierInfo[TierUnknown]
	}
	info.Tier = t
	return info
}
