// Package versionstore 客户端版本存储
// Store is the client's entry point for versioned content. Writes go to the remote store with
// a bounded timeout and always land in the local mirror; a write the remote cannot take yet
// is kept as a pending save and retried later.
// Store 是客户端访问版本内容的入口。写入在限定时间内提交到远端，并总是写入本地镜像；
// 远端暂时无法接受的写入保存为待同步保存，稍后重试。
package versionstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/internal/mirror"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source 当前内容的来源
type Source string

const (
	SourceRemote  Source = "remote"
	SourceMirror  Source = "mirror"
	SourceDefault Source = "default"
)

// Config 版本存储配置
type Config struct {
	// RemoteTimeout bound of every remote call, default 5s
	// RemoteTimeout 每次远端调用的超时时间，默认 5 秒
	RemoteTimeout time.Duration
	// SessionID 本会话标识，写入事件的来源
	SessionID string
	// HistoryPageSize 拉取历史时的分页大小，默认 100
	HistoryPageSize int
}

// Store 版本存储
type Store struct {
	remote  domain.RemoteStore
	mirror  *mirror.Mirror
	pending domain.PendingSaveRepository
	bus     *eventbus.Bus
	queue   *writequeue.Manager
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     Config
	sf      singleflight.Group

	mu       sync.Mutex
	observed map[domain.GroupKey]int64
}

// New creates the store; queue serializes operations per group and must not be shared with the DAO
// New 创建版本存储；queue 按分组串行化操作，不能与 DAO 共用
func New(remote domain.RemoteStore, m *mirror.Mirror, pending domain.PendingSaveRepository, bus *eventbus.Bus, queue *writequeue.Manager, mt *metrics.Metrics, logger *zap.Logger, cfg Config) *Store {
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 5 * time.Second
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue == nil {
		queue = writequeue.New(nil, logger)
	}
	if bus == nil {
		bus = eventbus.New(logger, mt)
	}
	return &Store{
		remote:   remote,
		mirror:   m,
		pending:  pending,
		bus:      bus,
		queue:    queue,
		metrics:  mt,
		logger:   logger,
		cfg:      cfg,
		observed: make(map[domain.GroupKey]int64),
	}
}

// SessionID 本会话标识
func (s *Store) SessionID() string {
	return s.cfg.SessionID
}

// Bus 事件总线
func (s *Store) Bus() *eventbus.Bus {
	return s.bus
}

func (s *Store) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.RemoteTimeout)
}

// observe remembers the highest version number seen per group
func (s *Store) observe(rec *domain.VersionRecord) {
	if rec == nil || rec.IsPending() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.VersionNumber > s.observed[rec.Group()] {
		s.observed[rec.Group()] = rec.VersionNumber
	}
}

func (s *Store) observedVersion(group domain.GroupKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[group]
}

// classify maps any remote failure onto the transient / rejection taxonomy
// classify 将远端失败归类为瞬时错误或远端拒绝
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsTransient(err), domain.IsRejection(err):
		return err
	case errors.Is(err, domain.ErrInvalidDomain),
		errors.Is(err, domain.ErrInvalidTarget),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrVersionNotInGroup):
		return &domain.RemoteRejectionError{Op: op, Message: err.Error()}
	}
	return domain.NewTransient(op, err)
}

func (s *Store) publish(rec *domain.VersionRecord, origin eventbus.Origin) {
	s.bus.PublishChange(eventbus.Message{
		Domain:    rec.Domain,
		TargetID:  rec.TargetID,
		Payload:   rec.Payload,
		Version:   rec.VersionNumber,
		VersionID: rec.ID,
		EventID:   rec.EventID,
		Pending:   rec.IsPending(),
		Origin:    origin,
	})
}

func (s *Store) writeMirror(ctx context.Context, group domain.GroupKey, p domain.Payload) {
	if err := s.mirror.Set(ctx, group.Domain, group.TargetID, p); err != nil {
		s.logger.Warn("mirror write failed",
			zap.String(logger.FieldGroup, group.String()),
			zap.Error(err),
		)
	}
}

func (s *Store) updatePendingGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	list, err := s.pending.List(ctx)
	if err != nil {
		return
	}
	s.metrics.PendingSaves.Set(float64(len(list)))
}

// SaveVersion saves payload as the next version of the group.
// Remote failures do not fail the call: the returned record is pending and the write is queued.
// SaveVersion 将 payload 保存为分组的下一个版本；远端失败不会使调用失败，返回待同步记录并加入待同步队列
func (s *Store) SaveVersion(ctx context.Context, d domain.ContentDomain, targetID string, payload domain.Payload, author domain.Author, description string) (*domain.VersionRecord, error) {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return nil, err
	}
	canonical, err := domain.ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	var rec *domain.VersionRecord
	err = s.queue.Execute(ctx, group.String(), func() error {
		var saveErr error
		rec, saveErr = s.save(ctx, group, canonical, author, description)
		return saveErr
	})
	if err != nil {
		return nil, err
	}

	s.publish(rec, eventbus.OriginSelf)
	return rec, nil
}

func (s *Store) save(ctx context.Context, group domain.GroupKey, payload domain.Payload, author domain.Author, description string) (*domain.VersionRecord, error) {
	// 本地写入不受调用方取消影响
	local := context.WithoutCancel(ctx)

	req := &domain.InsertVersionRequest{
		Domain:          group.Domain,
		TargetID:        group.TargetID,
		Payload:         payload,
		Author:          author,
		Description:     description,
		SessionID:       s.cfg.SessionID,
		ObservedVersion: s.observedVersion(group),
	}
	rctx, cancel := s.remoteContext(ctx)
	rec, err := s.remote.InsertVersion(rctx, req)
	cancel()

	if err == nil {
		s.observe(rec)
		s.writeMirror(local, group, rec.Payload)
		// 已确认的保存取代该分组更早的待同步保存
		if derr := s.pending.Delete(local, group); derr != nil {
			s.logger.Warn("pending save cleanup failed", zap.String(logger.FieldGroup, group.String()), zap.Error(derr))
		}
		s.updatePendingGauge(local)
		s.logger.Info("version saved",
			zap.String(logger.FieldGroup, group.String()),
			zap.Int64(logger.FieldVersion, rec.VersionNumber),
			zap.String(logger.FieldVersionID, rec.ID),
		)
		return rec, nil
	}

	cause := classify("insert version", err)
	p := &domain.PendingSave{
		Domain:      group.Domain,
		TargetID:    group.TargetID,
		Payload:     payload,
		Author:      author,
		Description: description,
		Reason:      cause.Error(),
	}
	s.writeMirror(local, group, payload)
	if perr := s.pending.Upsert(local, p); perr != nil {
		return nil, errors.Wrap(perr, "persist pending save")
	}
	s.updatePendingGauge(local)

	if domain.IsRejection(cause) {
		s.logger.Warn("remote rejected save, kept as pending",
			zap.String(logger.FieldGroup, group.String()),
			zap.Error(cause),
		)
	} else {
		s.logger.Info("remote unavailable, save kept as pending",
			zap.String(logger.FieldGroup, group.String()),
			zap.Error(cause),
		)
	}

	return &domain.VersionRecord{
		ID:                uuid.NewString(),
		Domain:            group.Domain,
		TargetID:          group.TargetID,
		Payload:           payload,
		Author:            author,
		ChangeDescription: description,
		CreatedAt:         p.CreatedAt,
		Status:            domain.StatusPending,
		PendingReason:     cause.Error(),
	}, nil
}

// fetchCurrent 拉取分组的当前记录，没有记录时返回 nil
func (s *Store) fetchCurrent(ctx context.Context, group domain.GroupKey) (*domain.VersionRecord, error) {
	v, err, _ := s.sf.Do("current:"+group.String(), func() (any, error) {
		rctx, cancel := s.remoteContext(ctx)
		defer cancel()
		list, _, err := s.remote.ListVersions(rctx, &domain.VersionFilter{
			Domain:      group.Domain,
			TargetID:    domain.Target(group.TargetID),
			CurrentOnly: true,
			Page:        1,
			PageSize:    1,
		})
		if err != nil {
			return nil, classify("list versions", err)
		}
		if len(list) == 0 {
			return (*domain.VersionRecord)(nil), nil
		}
		s.observe(list[0])
		return list[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.VersionRecord), nil
}

// GetCurrent returns the current payload from the remote store, else the mirror, else the default.
// A pending local save of the group is newer than anything remote and is returned first.
// GetCurrent 依次从远端、本地镜像、默认值返回当前内容；分组存在待同步保存时优先返回它
func (s *Store) GetCurrent(ctx context.Context, d domain.ContentDomain, targetID string) (domain.Payload, Source, error) {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return nil, "", err
	}

	if p, err := s.pending.Get(ctx, group); err == nil {
		return p.Payload, SourceMirror, nil
	}

	rec, err := s.fetchCurrent(ctx, group)
	if err == nil && rec != nil {
		return rec.Payload, SourceRemote, nil
	}
	if err != nil {
		s.logger.Warn("remote read failed, falling back to mirror",
			zap.String(logger.FieldGroup, group.String()),
			zap.Error(err),
		)
	}

	if p, ok := s.mirror.Get(ctx, d, targetID); ok {
		return p, SourceMirror, nil
	}
	return domain.DefaultPayload(d), SourceDefault, nil
}

// Refresh pulls the authoritative current record and applies it to the mirror.
// The bool reports whether the mirror changed.
// Refresh 拉取权威的当前记录并应用到本地镜像，bool 表示镜像是否变化
func (s *Store) Refresh(ctx context.Context, d domain.ContentDomain, targetID string) (*domain.VersionRecord, bool, error) {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return nil, false, err
	}

	type result struct {
		rec     *domain.VersionRecord
		changed bool
	}
	v, err, _ := s.sf.Do("refresh:"+group.String(), func() (any, error) {
		var out result
		err := s.queue.Execute(ctx, group.String(), func() error {
			rec, err := s.fetchCurrent(ctx, group)
			if err != nil || rec == nil {
				return err
			}
			out.rec = rec
			out.changed = s.apply(ctx, rec)
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(result)
	return r.rec, r.changed, nil
}

// ApplyRemote writes a confirmed remote record into the mirror unless a local pending save
// of the group exists; the bool reports whether the mirror changed.
// ApplyRemote 将远端已确认记录写入本地镜像（分组有待同步保存时跳过），bool 表示镜像是否变化
func (s *Store) ApplyRemote(ctx context.Context, rec *domain.VersionRecord) (bool, error) {
	if rec == nil {
		return false, nil
	}
	group := rec.Group()
	if err := group.Validate(); err != nil {
		return false, err
	}
	if _, err := domain.ParsePayload(rec.Payload); err != nil {
		return false, &domain.DataIntegrityError{Domain: group.Domain, SubKey: group.TargetID, Err: err}
	}

	var changed bool
	err := s.queue.Execute(ctx, group.String(), func() error {
		changed = s.apply(ctx, rec)
		return nil
	})
	return changed, err
}

func (s *Store) apply(ctx context.Context, rec *domain.VersionRecord) bool {
	group := rec.Group()
	if _, err := s.pending.Get(ctx, group); err == nil {
		// 本地待同步保存更新，稍后推送时覆盖远端
		return false
	}
	s.observe(rec)
	if cur, ok := s.mirror.Get(ctx, group.Domain, group.TargetID); ok && cur.Equal(rec.Payload) {
		return false
	}
	s.writeMirror(context.WithoutCancel(ctx), group, rec.Payload)
	return true
}

// GetHistory returns every record of the group, newest version first, a pending save on top
// GetHistory 返回分组的所有记录，版本号倒序，待同步保存位于最前
func (s *Store) GetHistory(ctx context.Context, d domain.ContentDomain, targetID string) ([]*domain.VersionRecord, error) {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return nil, err
	}

	filter := &domain.VersionFilter{
		Domain:   d,
		TargetID: domain.Target(targetID),
		Page:     1,
		PageSize: s.cfg.HistoryPageSize,
	}
	var out []*domain.VersionRecord
	if p, err := s.pending.Get(ctx, group); err == nil {
		out = append(out, pendingRecord(p))
	}

	records, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		s.observe(records[0])
	}
	return append(out, records...), nil
}

// QueryHistory 按条件分页查询远端版本
func (s *Store) QueryHistory(ctx context.Context, filter *domain.VersionFilter) ([]*domain.VersionRecord, int64, error) {
	rctx, cancel := s.remoteContext(ctx)
	defer cancel()
	list, total, err := s.remote.ListVersions(rctx, filter)
	if err != nil {
		return nil, 0, classify("list versions", err)
	}
	return list, total, nil
}

// Events 分页查询审计事件
func (s *Store) Events(ctx context.Context, filter *domain.EventFilter) ([]*domain.SyncEvent, int64, error) {
	rctx, cancel := s.remoteContext(ctx)
	defer cancel()
	list, total, err := s.remote.ListEvents(rctx, filter)
	if err != nil {
		return nil, 0, classify("list events", err)
	}
	return list, total, nil
}

// collect 拉取所有分页
func (s *Store) collect(ctx context.Context, filter *domain.VersionFilter) ([]*domain.VersionRecord, error) {
	var out []*domain.VersionRecord
	for {
		list, total, err := s.QueryHistory(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
		if len(list) == 0 || int64(len(out)) >= total {
			return out, nil
		}
		filter.Page++
	}
}

// ListCurrent 列出内容域所有分组的当前记录
func (s *Store) ListCurrent(ctx context.Context, d domain.ContentDomain) ([]*domain.VersionRecord, error) {
	if !d.Valid() {
		return nil, domain.ErrInvalidDomain
	}
	list, err := s.collect(ctx, &domain.VersionFilter{
		Domain:      d,
		CurrentOnly: true,
		Page:        1,
		PageSize:    s.cfg.HistoryPageSize,
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range list {
		s.observe(rec)
	}
	return list, nil
}

// Rollback makes versionID the current record of the group; history is never rewritten
// Rollback 将 versionID 设为分组的当前记录；历史不会被改写
func (s *Store) Rollback(ctx context.Context, d domain.ContentDomain, targetID, versionID string, author domain.Author) (*domain.VersionRecord, error) {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return nil, err
	}

	var rec *domain.VersionRecord
	err := s.queue.Execute(ctx, group.String(), func() error {
		rctx, cancel := s.remoteContext(ctx)
		defer cancel()
		var err error
		rec, err = s.remote.SetCurrent(rctx, &domain.SetCurrentRequest{
			Domain:    d,
			TargetID:  targetID,
			VersionID: versionID,
			Author:    author,
			SessionID: s.cfg.SessionID,
		})
		if err != nil {
			return classify("set current", err)
		}

		local := context.WithoutCancel(ctx)
		s.observe(rec)
		// 回滚是最新意图，丢弃更早的待同步保存
		if derr := s.pending.Delete(local, group); derr != nil {
			s.logger.Warn("pending save cleanup failed", zap.String(logger.FieldGroup, group.String()), zap.Error(derr))
		}
		s.updatePendingGauge(local)
		s.writeMirror(local, group, rec.Payload)
		return nil
	})
	if err != nil {
		s.logger.Warn("rollback failed",
			zap.String(logger.FieldGroup, group.String()),
			zap.String(logger.FieldVersionID, versionID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("rolled back",
		zap.String(logger.FieldGroup, group.String()),
		zap.Int64(logger.FieldVersion, rec.VersionNumber),
	)
	s.publish(rec, eventbus.OriginSelf)
	return rec, nil
}

func pendingRecord(p *domain.PendingSave) *domain.VersionRecord {
	return &domain.VersionRecord{
		Domain:            p.Domain,
		TargetID:          p.TargetID,
		Payload:           p.Payload,
		Author:            p.Author,
		ChangeDescription: p.Description,
		CreatedAt:         p.CreatedAt,
		Status:            domain.StatusPending,
		PendingReason:     p.Reason,
	}
}
