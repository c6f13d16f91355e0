package dao

import (
	"context"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/haierkeys/fast-content-sync-service/pkg/app"
	"gorm.io/gorm"
)

// syncEventRepository 实现 domain.SyncEventRepository 接口
// Events are only written by versionRepository, inside the version transaction.
// 事件只由 versionRepository 在版本事务中写入。
type syncEventRepository struct {
	dao *Dao
}

// NewSyncEventRepository 创建 SyncEventRepository 实例
func NewSyncEventRepository(dao *Dao) domain.SyncEventRepository {
	return &syncEventRepository{dao: dao}
}

func (r *syncEventRepository) filtered(ctx context.Context, f *domain.EventFilter) *gorm.DB {
	q := r.dao.Use(ctx, model.KeySyncEvent).Model(&model.SyncEvent{})
	if f == nil {
		return q
	}
	if f.Domain != "" {
		q = q.Where("domain = ?", f.Domain)
	}
	if f.TargetID != nil {
		q = q.Where("target_id = ?", *f.TargetID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at <= ?", f.Until.UTC())
	}
	return q
}

// List 按条件分页查询，按时间倒序
func (r *syncEventRepository) List(ctx context.Context, f *domain.EventFilter) ([]*domain.SyncEvent, error) {
	q := r.filtered(ctx, f).Order("created_at DESC").Order("version_number DESC")
	if f != nil && f.PageSize > 0 {
		q = q.Offset(app.GetPageOffset(f.Page, f.PageSize)).Limit(f.PageSize)
	}
	var ms []*model.SyncEvent
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.SyncEvent, 0, len(ms))
	for _, m := range ms {
		out = append(out, eventToDomain(m))
	}
	return out, nil
}

// Count 按条件计数
func (r *syncEventRepository) Count(ctx context.Context, f *domain.EventFilter) (int64, error) {
	var n int64
	err := r.filtered(ctx, f).Count(&n).Error
	return n, err
}
