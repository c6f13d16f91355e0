package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"go.uber.org/zap"
)

// ChangeNotifier receives every committed change, the websocket relay implements it
// ChangeNotifier 接收每个已提交的变更，由 websocket 中继实现
type ChangeNotifier interface {
	NotifyChange(event *domain.SyncEvent)
}

// VersionService authoritative version store of the server
// VersionService 服务端的权威版本存储
type VersionService interface {
	domain.RemoteStore

	// RepairCurrent 修复当前版本指针
	RepairCurrent(ctx context.Context) (int, error)

	// SetNotifier 设置变更通知
	SetNotifier(n ChangeNotifier)
}

// versionService implementation of VersionService interface
// versionService 实现 VersionService 接口
type versionService struct {
	versionRepo domain.VersionRepository // Version repository // 版本仓储
	eventRepo   domain.SyncEventRepository
	notifier    ChangeNotifier
	metrics     *metrics.Metrics
	logger      *zap.Logger
	config      *ServiceConfig
}

// NewVersionService creates VersionService instance
// NewVersionService 创建 VersionService 实例
func NewVersionService(versionRepo domain.VersionRepository, eventRepo domain.SyncEventRepository, m *metrics.Metrics, logger *zap.Logger, config *ServiceConfig) VersionService {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &versionService{
		versionRepo: versionRepo,
		eventRepo:   eventRepo,
		metrics:     m,
		logger:      logger,
		config:      config,
	}
}

func (s *versionService) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

func (s *versionService) validatePayload(p domain.Payload) (domain.Payload, error) {
	canonical, err := domain.ParsePayload(p)
	if err != nil {
		return nil, err
	}
	if s.config.MaxPayloadBytes > 0 && len(canonical) > s.config.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrInvalidPayload, len(canonical), s.config.MaxPayloadBytes)
	}
	return canonical, nil
}

// InsertVersion 分配 max+1 版本号并设为当前版本，同时追加审计事件
func (s *versionService) InsertVersion(ctx context.Context, req *domain.InsertVersionRequest) (*domain.VersionRecord, error) {
	if err := domain.ValidateTarget(req.Domain, req.TargetID); err != nil {
		return nil, err
	}
	payload, err := s.validatePayload(req.Payload)
	if err != nil {
		return nil, err
	}
	req.Payload = payload

	rec, event, err := s.versionRepo.Insert(ctx, req, uuid.NewString())
	if err != nil {
		return nil, err
	}

	if req.ObservedVersion > 0 && rec.VersionNumber != req.ObservedVersion+1 {
		conflict := &domain.ConcurrentVersionConflict{
			Group:     rec.Group(),
			Observed:  req.ObservedVersion,
			Allocated: rec.VersionNumber,
		}
		s.logger.Warn("last write wins",
			zap.String(logger.FieldGroup, rec.Group().String()),
			zap.String(logger.FieldSessionID, req.SessionID),
			zap.Error(conflict),
		)
		if s.metrics != nil {
			s.metrics.VersionConflicts.WithLabelValues(string(rec.Domain)).Inc()
		}
	}

	s.logger.Info("version inserted",
		zap.String(logger.FieldGroup, rec.Group().String()),
		zap.Int64(logger.FieldVersion, rec.VersionNumber),
		zap.String(logger.FieldVersionID, rec.ID),
		zap.String(logger.FieldAuthor, rec.Author.ID),
	)
	if s.metrics != nil {
		s.metrics.VersionsInserted.WithLabelValues(string(rec.Domain), string(event.Action)).Inc()
	}
	s.notify(event)
	return rec, nil
}

// SetCurrent 将指定版本设为当前版本（回滚），同时追加审计事件
func (s *versionService) SetCurrent(ctx context.Context, req *domain.SetCurrentRequest) (*domain.VersionRecord, error) {
	if err := domain.ValidateTarget(req.Domain, req.TargetID); err != nil {
		return nil, err
	}
	if req.VersionID == "" {
		return nil, domain.ErrNotFound
	}

	rec, event, err := s.versionRepo.SetCurrent(ctx, req, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.logger.Info("current version moved",
		zap.String(logger.FieldGroup, rec.Group().String()),
		zap.Int64(logger.FieldVersion, rec.VersionNumber),
		zap.String(logger.FieldAuthor, req.Author.ID),
	)
	if s.metrics != nil {
		s.metrics.Rollbacks.WithLabelValues(string(rec.Domain)).Inc()
	}
	s.notify(event)
	return rec, nil
}

// ListVersions 按条件分页查询版本，按版本号倒序
func (s *versionService) ListVersions(ctx context.Context, filter *domain.VersionFilter) ([]*domain.VersionRecord, int64, error) {
	if filter == nil || !filter.Domain.Valid() {
		return nil, 0, domain.ErrInvalidDomain
	}
	if filter.TargetID != nil {
		if err := domain.ValidateTarget(filter.Domain, *filter.TargetID); err != nil {
			return nil, 0, err
		}
	}
	if s.config.MaxPageSize > 0 && filter.PageSize > s.config.MaxPageSize {
		filter.PageSize = s.config.MaxPageSize
	}

	list, err := s.versionRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.versionRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ListEvents 分页查询审计事件，按时间倒序
func (s *versionService) ListEvents(ctx context.Context, filter *domain.EventFilter) ([]*domain.SyncEvent, int64, error) {
	if filter == nil {
		filter = &domain.EventFilter{}
	}
	if filter.Domain != "" && !filter.Domain.Valid() {
		return nil, 0, domain.ErrInvalidDomain
	}
	if s.config.MaxPageSize > 0 && filter.PageSize > s.config.MaxPageSize {
		filter.PageSize = s.config.MaxPageSize
	}
	list, err := s.eventRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.eventRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// RepairCurrent 修复当前版本指针
func (s *versionService) RepairCurrent(ctx context.Context) (int, error) {
	return s.versionRepo.RepairCurrent(ctx)
}

func (s *versionService) notify(event *domain.SyncEvent) {
	if s.notifier == nil || event == nil {
		return
	}
	s.notifier.NotifyChange(event)
}
