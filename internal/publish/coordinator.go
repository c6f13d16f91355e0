// Package publish 发布协调器
// Edits are staged locally and published together. Each content domain is published on its own,
// a failure in one domain never cancels or hides the others.
// 编辑先在本地暂存，再统一发布；各内容域独立发布，一个内容域失败不会取消或掩盖其他内容域
package publish

import (
	"context"
	"slices"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/versionstore"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Saver is the part of the version store publishing needs
// Saver 发布所需的版本存储接口
type Saver interface {
	SaveVersion(ctx context.Context, d domain.ContentDomain, targetID string, payload domain.Payload, author domain.Author, description string) (*domain.VersionRecord, error)
	FlushPending(ctx context.Context, domains ...domain.ContentDomain) (*versionstore.FlushReport, error)
	Pending(ctx context.Context) ([]*domain.PendingSave, error)
}

// Broadcaster relays confirmed records to other sessions
// Broadcaster 向其他会话转发已确认的记录
type Broadcaster interface {
	BroadcastRecord(rec *domain.VersionRecord)
}

// Status 内容域的发布结果
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// DomainResult 单个内容域的发布结果
type DomainResult struct {
	Domain    domain.ContentDomain    `json:"domain"`
	Status    Status                  `json:"status"`
	Published []*domain.VersionRecord `json:"published,omitempty"`
	Errors    []string                `json:"errors,omitempty"`
}

func (r *DomainResult) fail(group domain.GroupKey, err error) {
	r.Errors = append(r.Errors, group.String()+": "+err.Error())
}

// Report PublishPending 的结果，按内容域排列
type Report struct {
	Results []*DomainResult `json:"results"`
}

// Status returns the status of d, skipped when d was not part of the run
// Status 返回内容域 d 的发布结果，未参与时为 skipped
func (r *Report) Status(d domain.ContentDomain) Status {
	for _, res := range r.Results {
		if res.Domain == d {
			return res.Status
		}
	}
	return StatusSkipped
}

// Succeeded 是否没有任何内容域失败
func (r *Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return false
		}
	}
	return true
}

// Availability 内容域是否有待发布的修改
type Availability struct {
	Domain  domain.ContentDomain `json:"domain"`
	Staged  int                  `json:"staged"`
	Pending int                  `json:"pending"`
	// LastModified latest staged or pending change, zero when there is none
	// LastModified 最近一次暂存或待同步修改时间，没有时为零值
	LastModified time.Time `json:"lastModified"`
}

// HasChanges 是否存在暂存或待同步修改
func (a Availability) HasChanges() bool {
	return a.Staged > 0 || a.Pending > 0
}

// Coordinator 发布协调器
type Coordinator struct {
	staged      domain.StagedEditRepository
	saver       Saver
	broadcaster Broadcaster
	logger      *zap.Logger
	domains     []domain.ContentDomain
}

// New 创建发布协调器，broadcaster 为 nil 时不广播
func New(staged domain.StagedEditRepository, saver Saver, broadcaster Broadcaster, logger *zap.Logger, domains ...domain.ContentDomain) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(domains) == 0 {
		domains = domain.Domains()
	}
	return &Coordinator{
		staged:      staged,
		saver:       saver,
		broadcaster: broadcaster,
		logger:      logger,
		domains:     domains,
	}
}

// Stage keeps an edit locally until the next publish, replacing any earlier edit of the group
// Stage 在本地暂存编辑直到下次发布，覆盖该分组之前的暂存
func (c *Coordinator) Stage(ctx context.Context, d domain.ContentDomain, targetID string, payload domain.Payload, description string) (*domain.StagedEdit, error) {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return nil, err
	}
	canonical, err := domain.ParsePayload(payload)
	if err != nil {
		return nil, err
	}
	edit := &domain.StagedEdit{
		Domain:      d,
		TargetID:    targetID,
		Payload:     canonical,
		Description: description,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := c.staged.Upsert(ctx, edit); err != nil {
		return nil, errors.Wrap(err, "stage edit")
	}
	return edit, nil
}

// Unstage 丢弃分组的暂存编辑
func (c *Coordinator) Unstage(ctx context.Context, d domain.ContentDomain, targetID string) error {
	group := domain.GroupKey{Domain: d, TargetID: targetID}
	if err := group.Validate(); err != nil {
		return err
	}
	return c.staged.Delete(ctx, group)
}

// Staged 列出所有暂存编辑
func (c *Coordinator) Staged(ctx context.Context) ([]*domain.StagedEdit, error) {
	return c.staged.List(ctx)
}

// PublishPending flushes pending saves and publishes every staged edit, one goroutine per domain.
// It only returns an error when the staged edits cannot be read at all.
// PublishPending 推送待同步保存并发布所有暂存编辑，每个内容域一个 goroutine；只有无法读取暂存编辑时才返回错误
func (c *Coordinator) PublishPending(ctx context.Context, author domain.Author) (*Report, error) {
	edits, err := c.staged.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list staged edits")
	}
	pending, err := c.saver.Pending(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pending saves")
	}

	byDomain := make(map[domain.ContentDomain][]*domain.StagedEdit)
	for _, e := range edits {
		byDomain[e.Domain] = append(byDomain[e.Domain], e)
	}
	hasPending := make(map[domain.ContentDomain]bool)
	for _, p := range pending {
		hasPending[p.Domain] = true
	}

	report := &Report{Results: make([]*DomainResult, len(c.domains))}
	// 不使用 errgroup.WithContext，一个内容域失败不取消其他内容域
	var g errgroup.Group
	for i, d := range c.domains {
		report.Results[i] = &DomainResult{Domain: d, Status: StatusSkipped}
		if len(byDomain[d]) == 0 && !hasPending[d] {
			continue
		}
		res := report.Results[i]
		domainEdits := byDomain[d]
		g.Go(func() error {
			c.publishDomain(ctx, d, domainEdits, hasPending[d], author, res)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		c.logger.Info("publish finished",
			zap.String(logger.FieldDomain, string(res.Domain)),
			zap.String("status", string(res.Status)),
			zap.Int("published", len(res.Published)),
			zap.Strings("errors", res.Errors),
		)
	}
	return report, nil
}

func (c *Coordinator) publishDomain(ctx context.Context, d domain.ContentDomain, edits []*domain.StagedEdit, flush bool, author domain.Author, res *DomainResult) {
	failed := false

	if flush {
		flushed, err := c.saver.FlushPending(ctx, d)
		if err != nil {
			failed = true
			res.fail(domain.GroupKey{Domain: d}, err)
		} else {
			for _, rec := range flushed.Flushed {
				res.Published = append(res.Published, rec)
				c.broadcast(rec)
			}
			for group, ferr := range flushed.Failed {
				failed = true
				res.fail(group, ferr)
			}
		}
	}

	for _, e := range edits {
		group := e.Group()
		rec, err := c.saver.SaveVersion(ctx, d, e.TargetID, e.Payload, author, e.Description)
		if err != nil {
			// 保存被拒绝于本地校验，暂存编辑保留
			failed = true
			res.fail(group, err)
			continue
		}

		// 结果为待同步时已交由待同步队列处理，暂存编辑同样移除
		// 发布期间重新暂存的编辑保留到下一次发布
		removed, derr := c.staged.DeleteIfUnchanged(ctx, e)
		switch {
		case derr != nil:
			c.logger.Warn("staged edit cleanup failed", zap.String(logger.FieldGroup, group.String()), zap.Error(derr))
		case !removed:
			c.logger.Info("staged edit changed during publish, kept for the next publish", zap.String(logger.FieldGroup, group.String()))
		}
		if rec.IsPending() {
			failed = true
			res.fail(group, errors.New("saved as pending: "+rec.PendingReason))
			continue
		}
		res.Published = append(res.Published, rec)
		c.broadcast(rec)
	}

	if failed {
		res.Status = StatusFailed
	} else {
		res.Status = StatusSucceeded
	}
}

func (c *Coordinator) broadcast(rec *domain.VersionRecord) {
	if c.broadcaster != nil {
		c.broadcaster.BroadcastRecord(rec)
	}
}

// CheckPendingAvailability reports per domain whether staged or pending edits exist
// CheckPendingAvailability 按内容域报告是否存在暂存或待同步修改
func (c *Coordinator) CheckPendingAvailability(ctx context.Context) ([]Availability, error) {
	edits, err := c.staged.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list staged edits")
	}
	pending, err := c.saver.Pending(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pending saves")
	}

	out := make([]Availability, len(c.domains))
	index := make(map[domain.ContentDomain]int, len(c.domains))
	for i, d := range c.domains {
		out[i] = Availability{Domain: d}
		index[d] = i
	}
	touch := func(d domain.ContentDomain, at time.Time) *Availability {
		i, ok := index[d]
		if !ok {
			return nil
		}
		a := &out[i]
		if at.After(a.LastModified) {
			a.LastModified = at
		}
		return a
	}
	for _, e := range edits {
		if a := touch(e.Domain, e.UpdatedAt); a != nil {
			a.Staged++
		}
	}
	for _, p := range pending {
		at := p.UpdatedAt
		if at.IsZero() {
			at = p.CreatedAt
		}
		if a := touch(p.Domain, at); a != nil {
			a.Pending++
		}
	}
	return out, nil
}

// Domains 协调器负责的内容域
func (c *Coordinator) Domains() []domain.ContentDomain {
	return slices.Clone(c.domains)
}
