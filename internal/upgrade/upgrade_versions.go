package upgrade

import (
	"context"

	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"gorm.io/gorm"
)

// AuthorNameBackfill fills the display name of records written before names were required
// AuthorNameBackfill 为早期没有作者名称的记录补全显示名称
type AuthorNameBackfill struct{}

func (m *AuthorNameBackfill) Version() string { return "0.2.0" }

func (m *AuthorNameBackfill) Description() string {
	return "backfill empty author names from author ids"
}

func (m *AuthorNameBackfill) Up(ctx context.Context, db *gorm.DB) error {
	for _, mdl := range []any{&model.ContentVersion{}, &model.SyncEvent{}} {
		if !db.Migrator().HasTable(mdl) {
			continue
		}
		if err := db.WithContext(ctx).Model(mdl).
			Where("author_name = '' OR author_name IS NULL").
			Update("author_name", gorm.Expr("author_id")).Error; err != nil {
			return err
		}
	}
	return nil
}

// CurrentPointerMigrate leaves exactly one current record per group, the highest version wins
// CurrentPointerMigrate 保证每个分组只有一条当前记录，以最高版本号为准
type CurrentPointerMigrate struct{}

func (m *CurrentPointerMigrate) Version() string { return "0.3.0" }

func (m *CurrentPointerMigrate) Description() string {
	return "repair groups without exactly one current version"
}

type groupState struct {
	Domain     string
	TargetID   string
	Currents   int64
	MaxVersion int64
}

func (m *CurrentPointerMigrate) Up(ctx context.Context, db *gorm.DB) error {
	if !db.Migrator().HasTable(&model.ContentVersion{}) {
		return nil
	}
	tx := db.WithContext(ctx)

	var states []groupState
	if err := tx.Model(&model.ContentVersion{}).
		Select("domain, target_id, SUM(CASE WHEN is_current THEN 1 ELSE 0 END) AS currents, MAX(version_number) AS max_version").
		Group("domain, target_id").
		Scan(&states).Error; err != nil {
		return err
	}

	for _, s := range states {
		if s.Currents == 1 {
			continue
		}
		if err := tx.Model(&model.ContentVersion{}).
			Where("domain = ? AND target_id = ?", s.Domain, s.TargetID).
			Update("is_current", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ContentVersion{}).
			Where("domain = ? AND target_id = ? AND version_number = ?", s.Domain, s.TargetID, s.MaxVersion).
			Update("is_current", true).Error; err != nil {
			return err
		}
	}
	return nil
}
