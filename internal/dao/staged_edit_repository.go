package dao

import (
	"context"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// stagedEditRepository 实现 domain.StagedEditRepository 接口
type stagedEditRepository struct {
	dao *Dao
}

// NewStagedEditRepository 创建 StagedEditRepository 实例
func NewStagedEditRepository(dao *Dao) domain.StagedEditRepository {
	return &stagedEditRepository{dao: dao}
}

func (r *stagedEditRepository) toDomain(m *model.StagedEdit) *domain.StagedEdit {
	return &domain.StagedEdit{
		Domain:      domain.ContentDomain(m.Domain),
		TargetID:    m.TargetID,
		Payload:     domain.Payload(m.Payload),
		Description: m.Description,
		UpdatedAt:   m.UpdatedAt,
	}
}

// Get 获取分组的暂存编辑
func (r *stagedEditRepository) Get(ctx context.Context, group domain.GroupKey) (*domain.StagedEdit, error) {
	var m model.StagedEdit
	err := r.dao.Use(ctx, model.KeyStagedEdit).
		Where("domain = ? AND target_id = ?", group.Domain, group.TargetID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.toDomain(&m), nil
}

// Upsert 覆盖写入
func (r *stagedEditRepository) Upsert(ctx context.Context, s *domain.StagedEdit) error {
	s.UpdatedAt = time.Now().UTC()
	m := model.StagedEdit{
		Domain:      string(s.Domain),
		TargetID:    s.TargetID,
		Payload:     string(s.Payload),
		Description: s.Description,
		UpdatedAt:   s.UpdatedAt,
	}
	return r.dao.ExecuteWrite(ctx, s.Group().String(), model.KeyStagedEdit, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "domain"}, {Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "description", "updated_at"}),
		}).Create(&m).Error
	})
}

// Delete 删除分组的暂存编辑
func (r *stagedEditRepository) Delete(ctx context.Context, group domain.GroupKey) error {
	return r.dao.ExecuteWrite(ctx, group.String(), model.KeyStagedEdit, func(tx *gorm.DB) error {
		return tx.Where("domain = ? AND target_id = ?", group.Domain, group.TargetID).Delete(&model.StagedEdit{}).Error
	})
}

// DeleteIfUnchanged 仅删除与已发布内容一致的暂存编辑，期间重新暂存的编辑保留
func (r *stagedEditRepository) DeleteIfUnchanged(ctx context.Context, s *domain.StagedEdit) (bool, error) {
	var deleted bool
	err := r.dao.ExecuteWrite(ctx, s.Group().String(), model.KeyStagedEdit, func(tx *gorm.DB) error {
		res := tx.Where("domain = ? AND target_id = ? AND payload = ? AND description = ?",
			s.Domain, s.TargetID, string(s.Payload), s.Description).
			Delete(&model.StagedEdit{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// List 按内容域和目标排序列出
func (r *stagedEditRepository) List(ctx context.Context) ([]*domain.StagedEdit, error) {
	var ms []*model.StagedEdit
	if err := r.dao.Use(ctx, model.KeyStagedEdit).Order("domain, target_id").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.StagedEdit, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}
