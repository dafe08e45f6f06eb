// Relational persistence for skills, versions, owners, reports and the automod cursor, using gorm (sqlite or postgres).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clawdhub/skillguard/automod/engine"
	"github.com/clawdhub/skillguard/automod/reputation"
	"github.com/clawdhub/skillguard/models"
)

var ErrSkillNotFound = errors.New("skill not found")

const maxReportReason = 500

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ engine.Store = (*GormStore)(nil)
var _ engine.CursorStore = (*GormStore)(nil)
var _ reputation.BundleStore = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:  db,
		now: time.Now,
	}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.User{},
		&models.Skill{},
		&models.SkillVersion{},
		&models.SkillReport{},
		&models.AutomodCursor{},
	)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

func (s *GormStore) ListSkillsUpdatedAfter(ctx context.Context, cursor int64, limit int) ([]models.Skill, error) {
	var out []models.Skill
	err := s.db.WithContext(ctx).
		Where("updated_at > ?", cursor).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetVersion(ctx context.Context, id uint) (*models.SkillVersion, error) {
	var v models.SkillVersion
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// Returns (nil, nil) if there is no such skill.
func (s *GormStore) GetSkill(ctx context.Context, id uint) (*models.Skill, error) {
	var sk models.Skill
	if err := s.db.WithContext(ctx).First(&sk, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sk, nil
}

// All versions of a skill, oldest first.
func (s *GormStore) ListVersions(ctx context.Context, skillID uint) ([]models.SkillVersion, error) {
	var out []models.SkillVersion
	err := s.db.WithContext(ctx).
		Where("skill_id = ?", skillID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Versions of live skills with no bundle hash yet and an ID greater than afterID, ascending by ID.
func (s *GormStore) ListVersionsMissingHash(ctx context.Context, afterID uint, limit int) ([]models.SkillVersion, error) {
	var out []models.SkillVersion
	err := s.db.WithContext(ctx).
		Joins("JOIN skills ON skills.id = skill_versions.skill_id").
		Where("skill_versions.sha256hash IS NULL AND skill_versions.id > ? AND skills.soft_deleted_at IS NULL", afterID).
		Order("skill_versions.id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) SetVersionHash(ctx context.Context, versionID uint, sha256hash string) error {
	return s.db.WithContext(ctx).Model(&models.SkillVersion{}).Where("id = ?", versionID).Update("sha256hash", sha256hash).Error
}

func (s *GormStore) GetSkillBySlug(ctx context.Context, slug string) (*models.Skill, error) {
	var sk models.Skill
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&sk).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSkillNotFound
		}
		return nil, err
	}
	return &sk, nil
}

// Returns (nil, nil) if there is no such user.
func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// Number of live (not soft-deleted) skills owned by a user.
func (s *GormStore) CountSkillsByOwner(ctx context.Context, ownerID uint) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Skill{}).
		Where("owner_id = ? AND soft_deleted_at IS NULL", ownerID).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Records a report, at most once per (skill, user). The reason is trimmed and truncated. A new report bumps the skill's report count and updatedAt.
//
// Reports against a soft-deleted skill are dropped with (false, nil).
func (s *GormStore) ReportSkill(ctx context.Context, skillID, userID uint, reason string) (bool, error) {
	reason = truncateRunes(strings.TrimSpace(reason), maxReportReason)
	now := s.now()

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sk models.Skill
		if err := tx.First(&sk, skillID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSkillNotFound
			}
			return err
		}
		if sk.IsSoftDeleted() {
			// deleted since it was listed; nothing left to report
			return nil
		}

		rep := models.SkillReport{
			SkillID:   skillID,
			UserID:    userID,
			Reason:    reason,
			CreatedAt: now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rep)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		return tx.Model(&models.Skill{}).Where("id = ?", skillID).Updates(map[string]any{
			"report_count": gorm.Expr("report_count + 1"),
			"updated_at":   now.UnixMilli(),
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("recording skill report: %w", err)
	}
	return created, nil
}

func (s *GormStore) GetCursor(ctx context.Context, key string) (int64, error) {
	var c models.AutomodCursor
	if err := s.db.WithContext(ctx).Where(&models.AutomodCursor{Key: key}).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return c.CursorUpdatedAt, nil
}

// Upserts the cursor, keeping the larger of the stored and new values, so racing sweeps only ever move it forward.
func (s *GormStore) SetCursor(ctx context.Context, key string, value int64) error {
	now := s.now()
	row := models.AutomodCursor{
		Key:             key,
		CursorUpdatedAt: value,
		UpdatedAt:       now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"cursor_updated_at": gorm.Expr("CASE WHEN automod_cursors.cursor_updated_at > excluded.cursor_updated_at THEN automod_cursors.cursor_updated_at ELSE excluded.cursor_updated_at END"),
			"updated_at":        now,
		}),
	}).Create(&row).Error
}

// Attaches an external reputation result to a version.
func (s *GormStore) SetReputation(ctx context.Context, versionID uint, status string, checkedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.SkillVersion{}).Where("id = ?", versionID).Updates(map[string]any{
		"reputation_status":     status,
		"reputation_checked_at": checkedAt,
	}).Error
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
