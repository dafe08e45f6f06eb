package models

import (
	"time"
)

// A user report against a skill. At most one per (skill, user).
type SkillReport struct {
	ID        uint      `gorm:"primaryKey"`
	SkillID   uint      `gorm:"not null;uniqueIndex:idx_report_skill_user"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_report_skill_user"`
	Reason    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// Persisted automod sweep position, keyed singleton. CursorUpdatedAt only moves forward.
type AutomodCursor struct {
	ID              uint   `gorm:"primaryKey"`
	Key             string `gorm:"uniqueIndex;not null"`
	CursorUpdatedAt int64  `gorm:"not null"`
	UpdatedAt       time.Time
}
