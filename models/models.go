package models

import (
	"time"
)

type ModerationStatus string

const (
	ModerationActive  ModerationStatus = "active"
	ModerationHidden  ModerationStatus = "hidden"
	ModerationRemoved ModerationStatus = "removed"
)

type ScanStatus string

const (
	ScanPending    ScanStatus = "pending"
	ScanClean      ScanStatus = "clean"
	ScanSuspicious ScanStatus = "suspicious"
	ScanMalicious  ScanStatus = "malicious"
	ScanError      ScanStatus = "error"
)

// Skill is the publishable unit. UpdatedAt is unix milliseconds, and is bumped
// by the store on publish, moderation actions and reports; the automod cursor
// walks this column.
type Skill struct {
	ID               uint   `gorm:"primaryKey"`
	Slug             string `gorm:"uniqueIndex;not null"`
	DisplayName      string `gorm:"not null"`
	Summary          *string
	OwnerID          uint `gorm:"index;not null"`
	LatestVersionID  *uint
	ModerationStatus ModerationStatus `gorm:"not null;default:active"`
	ModerationReason *string
	ModerationFlags  []string `gorm:"serializer:json"`
	ReportCount      int      `gorm:"not null;default:0"`
	SoftDeletedAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        int64 `gorm:"index;not null;autoUpdateTime:false"`
}

func (s *Skill) IsSoftDeleted() bool {
	return s.SoftDeletedAt != nil
}

type SkillFile struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Sha256      string `json:"sha256"`
	ContentType string `json:"contentType,omitempty"`
	StorageRef  string `json:"storageRef"`
}

type ParsedSkill struct {
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SkillVersion is immutable once published, except for attached scan and reputation results.
type SkillVersion struct {
	ID                  uint        `gorm:"primaryKey"`
	SkillID             uint        `gorm:"index;not null"`
	Version             string      `gorm:"not null"`
	Files               []SkillFile `gorm:"serializer:json"`
	Parsed              ParsedSkill `gorm:"serializer:json"`
	ScanStatus          ScanStatus  `gorm:"not null;default:pending"`
	ScanCheckedAt       *time.Time
	ReputationStatus    *string
	ReputationCheckedAt *time.Time
	Sha256hash          *string
	CreatedAt           time.Time
}

type User struct {
	ID              uint   `gorm:"primaryKey"`
	Handle          string `gorm:"uniqueIndex;not null"`
	GithubCreatedAt *time.Time
	CreatedAt       time.Time
}
