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

// mirrorRepository 实现 domain.MirrorRepository 接口
type mirrorRepository struct {
	dao *Dao
}

// NewMirrorRepository 创建 MirrorRepository 实例
func NewMirrorRepository(dao *Dao) domain.MirrorRepository {
	return &mirrorRepository{dao: dao}
}

func (r *mirrorRepository) toDomain(m *model.MirrorEntry) *domain.MirrorEntry {
	return &domain.MirrorEntry{
		Domain:    domain.ContentDomain(m.Domain),
		SubKey:    m.SubKey,
		Payload:   domain.Payload(m.Payload),
		UpdatedAt: m.UpdatedAt,
	}
}

// Get 获取镜像条目
func (r *mirrorRepository) Get(ctx context.Context, d domain.ContentDomain, subKey string) (*domain.MirrorEntry, error) {
	var m model.MirrorEntry
	err := r.dao.Use(ctx, model.KeyMirrorEntry).
		Where("domain = ? AND sub_key = ?", d, subKey).
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
func (r *mirrorRepository) Upsert(ctx context.Context, entry *domain.MirrorEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	m := model.MirrorEntry{
		Domain:    string(entry.Domain),
		SubKey:    entry.SubKey,
		Payload:   string(entry.Payload),
		UpdatedAt: entry.UpdatedAt,
	}
	key := domain.GroupKey{Domain: entry.Domain, TargetID: entry.SubKey}.String()
	return r.dao.ExecuteWrite(ctx, key, model.KeyMirrorEntry, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "domain"}, {Name: "sub_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).Create(&m).Error
	})
}

// Delete 删除条目
func (r *mirrorRepository) Delete(ctx context.Context, d domain.ContentDomain, subKey string) error {
	key := domain.GroupKey{Domain: d, TargetID: subKey}.String()
	return r.dao.ExecuteWrite(ctx, key, model.KeyMirrorEntry, func(tx *gorm.DB) error {
		return tx.Where("domain = ? AND sub_key = ?", d, subKey).Delete(&model.MirrorEntry{}).Error
	})
}

// List 列出所有条目
func (r *mirrorRepository) List(ctx context.Context) ([]*domain.MirrorEntry, error) {
	var ms []*model.MirrorEntry
	if err := r.dao.Use(ctx, model.KeyMirrorEntry).Order("domain, sub_key").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.MirrorEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}
