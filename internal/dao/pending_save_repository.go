package dao

import (
	"context"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pendingSaveRepository 实现 domain.PendingSaveRepository 接口
type pendingSaveRepository struct {
	dao *Dao
}

// NewPendingSaveRepository 创建 PendingSaveRepository 实例
func NewPendingSaveRepository(dao *Dao) domain.PendingSaveRepository {
	return &pendingSaveRepository{dao: dao}
}

func (r *pendingSaveRepository) toDomain(m *model.PendingSave) *domain.PendingSave {
	p := &domain.PendingSave{}
	_ = copier.Copy(p, m)
	p.Domain = domain.ContentDomain(m.Domain)
	p.Payload = domain.Payload(m.Payload)
	p.Author = domain.Author{ID: m.AuthorID, Name: m.AuthorName, Email: m.AuthorEmail}
	return p
}

// Get 获取分组的待同步保存
func (r *pendingSaveRepository) Get(ctx context.Context, group domain.GroupKey) (*domain.PendingSave, error) {
	var m model.PendingSave
	err := r.dao.Use(ctx, model.KeyPendingSave).
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

// Upsert keeps the first CreatedAt of the group, everything else is overwritten
// Upsert 保留分组最早的 CreatedAt，其余字段覆盖
func (r *pendingSaveRepository) Upsert(ctx context.Context, p *domain.PendingSave) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m := model.PendingSave{
		Domain:      string(p.Domain),
		TargetID:    p.TargetID,
		Payload:     string(p.Payload),
		AuthorID:    p.Author.ID,
		AuthorName:  p.Author.Name,
		AuthorEmail: p.Author.Email,
		Description: p.Description,
		Reason:      p.Reason,
		Attempts:    p.Attempts,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	return r.dao.ExecuteWrite(ctx, p.Group().String(), model.KeyPendingSave, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "domain"}, {Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"payload", "author_id", "author_name", "author_email",
				"description", "reason", "attempts", "updated_at",
			}),
		}).Create(&m).Error
	})
}

// Delete 删除分组的待同步保存
func (r *pendingSaveRepository) Delete(ctx context.Context, group domain.GroupKey) error {
	return r.dao.ExecuteWrite(ctx, group.String(), model.KeyPendingSave, func(tx *gorm.DB) error {
		return tx.Where("domain = ? AND target_id = ?", group.Domain, group.TargetID).Delete(&model.PendingSave{}).Error
	})
}

// List 按创建时间列出
func (r *pendingSaveRepository) List(ctx context.Context) ([]*domain.PendingSave, error) {
	var ms []*model.PendingSave
	if err := r.dao.Use(ctx, model.KeyPendingSave).Order("created_at ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.PendingSave, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}
