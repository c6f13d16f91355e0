package dao

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// versionRepository 实现 domain.VersionRepository 接口
type versionRepository struct {
	dao *Dao
}

// NewVersionRepository 创建 VersionRepository 实例
func NewVersionRepository(dao *Dao) domain.VersionRepository {
	return &versionRepository{dao: dao}
}

func (r *versionRepository) db(ctx context.Context) *gorm.DB {
	r.dao.migrate(model.KeySyncEvent)
	return r.dao.Use(ctx, model.KeyContentVersion)
}

// toDomain 将数据库模型转换为领域模型
func (r *versionRepository) toDomain(m *model.ContentVersion) *domain.VersionRecord {
	if m == nil {
		return nil
	}
	rec := &domain.VersionRecord{}
	_ = copier.Copy(rec, m)
	rec.Domain = domain.ContentDomain(m.Domain)
	rec.Payload = domain.Payload(m.Payload)
	rec.Author = domain.Author{ID: m.AuthorID, Name: m.AuthorName, Email: m.AuthorEmail}
	rec.Status = domain.StatusConfirmed
	return rec
}

func eventToDomain(m *model.SyncEvent) *domain.SyncEvent {
	if m == nil {
		return nil
	}
	e := &domain.SyncEvent{}
	_ = copier.Copy(e, m)
	e.Domain = domain.ContentDomain(m.Domain)
	e.Action = domain.SyncAction(m.Action)
	e.Author = domain.Author{ID: m.AuthorID, Name: m.AuthorName, Email: m.AuthorEmail}
	if m.Payload != "" {
		e.Payload = domain.Payload(m.Payload)
	}
	return e
}

// Insert 在一个事务内插入 max+1 版本为当前版本并追加审计事件
func (r *versionRepository) Insert(ctx context.Context, req *domain.InsertVersionRequest, eventID string) (*domain.VersionRecord, *domain.SyncEvent, error) {
	group := domain.GroupKey{Domain: req.Domain, TargetID: req.TargetID}
	var created model.ContentVersion
	var event model.SyncEvent

	r.dao.migrate(model.KeySyncEvent)
	err := r.dao.ExecuteWrite(ctx, group.String(), model.KeyContentVersion, func(tx *gorm.DB) error {
		var maxVersion int64
		if err := tx.Model(&model.ContentVersion{}).
			Where("domain = ? AND target_id = ?", group.Domain, group.TargetID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxVersion).Error; err != nil {
			return errors.Wrap(err, "read max version")
		}

		if err := tx.Model(&model.ContentVersion{}).
			Where("domain = ? AND target_id = ? AND is_current = ?", group.Domain, group.TargetID, true).
			Update("is_current", false).Error; err != nil {
			return errors.Wrap(err, "clear current")
		}

		now := time.Now().UTC()
		created = model.ContentVersion{
			ID:                uuid.NewString(),
			Domain:            string(group.Domain),
			TargetID:          group.TargetID,
			VersionNumber:     maxVersion + 1,
			Payload:           string(req.Payload),
			IsCurrent:         true,
			AuthorID:          req.Author.ID,
			AuthorName:        req.Author.Name,
			AuthorEmail:       req.Author.Email,
			ChangeDescription: req.Description,
			EventID:           eventID,
			SessionID:         req.SessionID,
			CreatedAt:         now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return errors.Wrap(err, "create version")
		}

		action := domain.ActionUpdate
		if maxVersion == 0 {
			action = domain.ActionCreate
		}
		event = model.SyncEvent{
			ID:            eventID,
			Domain:        string(group.Domain),
			Action:        string(action),
			TargetID:      group.TargetID,
			VersionNumber: created.VersionNumber,
			VersionID:     created.ID,
			AuthorID:      req.Author.ID,
			AuthorName:    req.Author.Name,
			AuthorEmail:   req.Author.Email,
			Description:   req.Description,
			Payload:       string(req.Payload),
			SessionID:     req.SessionID,
			CreatedAt:     now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return errors.Wrap(err, "append sync event")
		}
		return nil
	})
	if err != nil {
		r.dao.Logger().Error("versionRepository.Insert failed",
			zap.String(logger.FieldGroup, group.String()),
			zap.Error(err),
		)
		return nil, nil, err
	}
	return r.toDomain(&created), eventToDomain(&event), nil
}

// SetCurrent 在一个事务内翻转当前版本指针并追加回滚事件
func (r *versionRepository) SetCurrent(ctx context.Context, req *domain.SetCurrentRequest, eventID string) (*domain.VersionRecord, *domain.SyncEvent, error) {
	group := domain.GroupKey{Domain: req.Domain, TargetID: req.TargetID}
	var target model.ContentVersion
	var event model.SyncEvent

	r.dao.migrate(model.KeySyncEvent)
	err := r.dao.ExecuteWrite(ctx, group.String(), model.KeyContentVersion, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", req.VersionID).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return errors.Wrap(err, "load target version")
		}
		if target.Domain != string(group.Domain) || target.TargetID != group.TargetID {
			return domain.ErrVersionNotInGroup
		}

		// 两次更新在同一事务内，读方不会看到零个或两个当前版本
		if err := tx.Model(&model.ContentVersion{}).
			Where("domain = ? AND target_id = ? AND id <> ? AND is_current = ?", group.Domain, group.TargetID, target.ID, true).
			Update("is_current", false).Error; err != nil {
			return errors.Wrap(err, "clear current")
		}
		if err := tx.Model(&model.ContentVersion{}).
			Where("id = ?", target.ID).
			Update("is_current", true).Error; err != nil {
			return errors.Wrap(err, "set current")
		}
		target.IsCurrent = true

		event = model.SyncEvent{
			ID:            eventID,
			Domain:        string(group.Domain),
			Action:        string(domain.ActionRollback),
			TargetID:      group.TargetID,
			VersionNumber: target.VersionNumber,
			VersionID:     target.ID,
			AuthorID:      req.Author.ID,
			AuthorName:    req.Author.Name,
			AuthorEmail:   req.Author.Email,
			Description:   "rollback to version " + strconv.FormatInt(target.VersionNumber, 10),
			Payload:       target.Payload,
			SessionID:     req.SessionID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := tx.Create(&event).Error; err != nil {
			return errors.Wrap(err, "append sync event")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	rec := r.toDomain(&target)
	// 记录指向使其成为当前版本的事件
	rec.EventID = event.ID
	return rec, eventToDomain(&event), nil
}

// GetByID 根据ID获取版本
func (r *versionRepository) GetByID(ctx context.Context, id string) (*domain.VersionRecord, error) {
	var m model.ContentVersion
	if err := r.db(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.toDomain(&m), nil
}

func (r *versionRepository) filtered(ctx context.Context, f *domain.VersionFilter) *gorm.DB {
	q := r.db(ctx).Model(&model.ContentVersion{})
	if f == nil {
		return q
	}
	if f.Domain != "" {
		q = q.Where("domain = ?", f.Domain)
	}
	if f.TargetID != nil {
		q = q.Where("target_id = ?", *f.TargetID)
	}
	if f.AuthorID != "" {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at <= ?", f.Until.UTC())
	}
	if f.CurrentOnly {
		q = q.Where("is_current = ?", true)
	}
	return q
}

// List 按条件分页查询，按版本号倒序
func (r *versionRepository) List(ctx context.Context, f *domain.VersionFilter) ([]*domain.VersionRecord, error) {
	q := r.filtered(ctx, f).Order("version_number DESC").Order("target_id ASC")
	if f != nil && f.PageSize > 0 {
		q = q.Offset(app.GetPageOffset(f.Page, f.PageSize)).Limit(f.PageSize)
	}
	var ms []*model.ContentVersion
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.VersionRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, r.toDomain(m))
	}
	return out, nil
}

// Count 按条件计数
func (r *versionRepository) Count(ctx context.Context, f *domain.VersionFilter) (int64, error) {
	var n int64
	err := r.filtered(ctx, f).Count(&n).Error
	return n, err
}

type groupState struct {
	Domain     string
	TargetID   string
	Currents   int64
	MaxVersion int64
}

// RepairCurrent 恢复每个非空分组恰好一条当前记录，返回修复的分组数
// A group with zero or several current records points back at its highest version.
// 没有或有多条当前记录的分组，指回其最高版本。
func (r *versionRepository) RepairCurrent(ctx context.Context) (int, error) {
	var states []groupState
	err := r.db(ctx).Model(&model.ContentVersion{}).
		Select("domain, target_id, SUM(CASE WHEN is_current THEN 1 ELSE 0 END) AS currents, MAX(version_number) AS max_version").
		Group("domain, target_id").
		Scan(&states).Error
	if err != nil {
		return 0, errors.Wrap(err, "scan groups")
	}

	repaired := 0
	for _, s := range states {
		if s.Currents == 1 {
			continue
		}
		group := domain.GroupKey{Domain: domain.ContentDomain(s.Domain), TargetID: s.TargetID}
		err := r.dao.ExecuteWrite(ctx, group.String(), model.KeyContentVersion, func(tx *gorm.DB) error {
			if err := tx.Model(&model.ContentVersion{}).
				Where("domain = ? AND target_id = ?", s.Domain, s.TargetID).
				Update("is_current", false).Error; err != nil {
				return err
			}
			return tx.Model(&model.ContentVersion{}).
				Where("domain = ? AND target_id = ? AND version_number = ?", s.Domain, s.TargetID, s.MaxVersion).
				Update("is_current", true).Error
		})
		if err != nil {
			return repaired, errors.Wrapf(err, "repair %s", group)
		}
		r.dao.Logger().Warn("current pointer repaired",
			zap.String(logger.FieldGroup, group.String()),
			zap.Int64("currents", s.Currents),
			zap.Int64(logger.FieldVersion, s.MaxVersion),
		)
		repaired++
	}
	return repaired, nil
}
