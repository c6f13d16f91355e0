package versionstore

import (
	"context"
	"slices"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// FlushReport 待同步保存的推送结果
type FlushReport struct {
	Flushed []*domain.VersionRecord
	Failed  map[domain.GroupKey]error
}

// Empty 是否没有处理任何待同步保存
func (r *FlushReport) Empty() bool {
	return len(r.Flushed) == 0 && len(r.Failed) == 0
}

// Pending 列出待同步保存
func (s *Store) Pending(ctx context.Context) ([]*domain.PendingSave, error) {
	return s.pending.List(ctx)
}

// DiscardPending drops the pending save of a group, the mirror keeps its payload
// DiscardPending 丢弃分组的待同步保存，镜像内容保持不变
func (s *Store) DiscardPending(ctx context.Context, d domain.ContentDomain, targetID string) error {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return err
	}
	err := s.queue.Execute(ctx, group.String(), func() error {
		if _, err := s.pending.Get(ctx, group); err != nil {
			return err
		}
		return s.pending.Delete(ctx, group)
	})
	s.updatePendingGauge(ctx)
	return err
}

// FlushPending retries pending saves of the given domains, every domain when none is given
// FlushPending 重试给定内容域的待同步保存，未指定时处理所有内容域
func (s *Store) FlushPending(ctx context.Context, domains ...domain.ContentDomain) (*FlushReport, error) {
	list, err := s.pending.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pending saves")
	}

	report := &FlushReport{Failed: make(map[domain.GroupKey]error)}
	for _, p := range list {
		if len(domains) > 0 && !slices.Contains(domains, p.Domain) {
			continue
		}
		group := p.Group()

		var rec *domain.VersionRecord
		err := s.queue.Execute(ctx, group.String(), func() error {
			var ferr error
			rec, ferr = s.flushOne(ctx, group)
			return ferr
		})
		if err != nil {
			report.Failed[group] = err
			continue
		}
		if rec != nil {
			report.Flushed = append(report.Flushed, rec)
			s.publish(rec, eventbus.OriginSelf)
		}
	}

	s.updatePendingGauge(ctx)
	if !report.Empty() {
		s.logger.Info("pending saves flushed",
			zap.Int("flushed", len(report.Flushed)),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return report, nil
}

// flushOne runs under the group queue, the pending save is re-read so a newer save is never lost
// flushOne 在分组队列内执行，重新读取待同步保存，保证不会丢失更新的保存
func (s *Store) flushOne(ctx context.Context, group domain.GroupKey) (*domain.VersionRecord, error) {
	local := context.WithoutCancel(ctx)
	p, err := s.pending.Get(ctx, group)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rctx, cancel := s.remoteContext(ctx)
	rec, err := s.remote.InsertVersion(rctx, &domain.InsertVersionRequest{
		Domain:          p.Domain,
		TargetID:        p.TargetID,
		Payload:         p.Payload,
		Author:          p.Author,
		Description:     p.Description,
		SessionID:       s.cfg.SessionID,
		ObservedVersion: s.observedVersion(group),
	})
	cancel()

	if err != nil {
		cause := classify("insert version", err)
		p.Attempts++
		p.Reason = cause.Error()
		if uerr := s.pending.Upsert(local, p); uerr != nil {
			s.logger.Warn("pending save update failed", zap.String(logger.FieldGroup, group.String()), zap.Error(uerr))
		}
		return nil, cause
	}

	s.observe(rec)
	if err := s.pending.Delete(local, group); err != nil {
		s.logger.Warn("pending save cleanup failed", zap.String(logger.FieldGroup, group.String()), zap.Error(err))
	}
	s.writeMirror(local, group, rec.Payload)
	return rec, nil
}
