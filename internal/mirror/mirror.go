// Package mirror 客户端本地镜像
// The mirror keeps the last known good payload of every (domain, subKey). Entries are
// overwritten, never versioned, and a malformed entry is dropped in favour of the domain default.
// 镜像保存每个 (domain, subKey) 的最近一次已知良好内容。条目直接覆盖，无版本；损坏的条目被丢弃并返回默认值。
package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Mirror 本地镜像
type Mirror struct {
	repo   domain.MirrorRepository
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[domain.GroupKey]domain.Payload
}

// New 创建本地镜像
func New(repo domain.MirrorRepository, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		repo:   repo,
		logger: logger,
		cache:  make(map[domain.GroupKey]domain.Payload),
	}
}

// Get returns the stored payload, or the domain default with ok=false
// Get 返回存储的内容；不存在或损坏时返回内容域默认值且 ok=false
func (m *Mirror) Get(ctx context.Context, d domain.ContentDomain, subKey string) (domain.Payload, bool) {
	key := domain.GroupKey{Domain: d, TargetID: subKey}

	m.mu.RLock()
	p, hit := m.cache[key]
	m.mu.RUnlock()
	if hit {
		return p, true
	}

	entry, err := m.repo.Get(ctx, d, subKey)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("mirror read failed",
				zap.String(logger.FieldGroup, key.String()),
				zap.Error(err),
			)
		}
		return domain.DefaultPayload(d), false
	}

	canonical, err := domain.ParsePayload(entry.Payload)
	if err != nil {
		integrity := &domain.DataIntegrityError{Domain: d, SubKey: subKey, Err: err}
		m.logger.Error("mirror entry discarded",
			zap.String(logger.FieldGroup, key.String()),
			zap.Error(integrity),
		)
		if derr := m.repo.Delete(ctx, d, subKey); derr != nil {
			m.logger.Warn("mirror delete failed", zap.String(logger.FieldGroup, key.String()), zap.Error(derr))
		}
		return domain.DefaultPayload(d), false
	}

	m.mu.Lock()
	m.cache[key] = canonical
	m.mu.Unlock()
	return canonical, true
}

// Set overwrites the entry, last writer wins
// Set 覆盖写入，最后写入者获胜
func (m *Mirror) Set(ctx context.Context, d domain.ContentDomain, subKey string, p domain.Payload) error {
	canonical, err := domain.ParsePayload(p)
	if err != nil {
		return err
	}
	// 缓存先更新，存储写失败时本进程仍读到最新内容
	m.mu.Lock()
	m.cache[domain.GroupKey{Domain: d, TargetID: subKey}] = canonical
	m.mu.Unlock()

	err = m.repo.Upsert(ctx, &domain.MirrorEntry{
		Domain:    d,
		SubKey:    subKey,
		Payload:   canonical,
		UpdatedAt: time.Now().UTC(),
	})
	return errors.Wrap(err, "mirror write")
}

// Delete 删除条目
func (m *Mirror) Delete(ctx context.Context, d domain.ContentDomain, subKey string) error {
	m.mu.Lock()
	delete(m.cache, domain.GroupKey{Domain: d, TargetID: subKey})
	m.mu.Unlock()
	return m.repo.Delete(ctx, d, subKey)
}

// Entries 列出所有持久化条目
func (m *Mirror) Entries(ctx context.Context) ([]*domain.MirrorEntry, error) {
	return m.repo.List(ctx)
}
