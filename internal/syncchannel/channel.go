// Package syncchannel 同步通道
// The channel keeps one push subscription to the relay alive. Lost or failed subscriptions are
// retried with exponential backoff; after the last attempt it falls back to periodic polling until
// a manual Reconnect. The backoff timer and the polling loop are never active at the same time.
// 同步通道维持一个到中继的推送订阅。订阅失败或断开时按指数退避重试；重试次数用尽后退化为定时轮询，
// 直到手动 Reconnect。退避定时器与轮询循环不会同时存在。
package syncchannel

import (
	"context"
	"sync"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/haierkeys/fast-content-sync-service/pkg/workerpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errNotConnected = errors.New("sync channel is not connected")

// Config 同步通道配置
type Config struct {
	SessionID string
	Domains   []domain.ContentDomain
	// ConnectTimeout 每次订阅尝试的超时时间，默认 5 秒
	ConnectTimeout time.Duration
	// BackoffBase delay before retry n is BackoffBase * 2^(n-1), default 1s
	// BackoffBase 第 n 次重试前的等待为 BackoffBase * 2^(n-1)，默认 1 秒
	BackoffBase time.Duration
	// MaxAttempts 转入轮询前的最大失败次数，默认 5
	MaxAttempts int
	// PollInterval 轮询间隔，默认 30 秒
	PollInterval time.Duration
	// DedupeSize 记住的事件 ID 数量，默认 1024
	DedupeSize int
}

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, time.AfterFunc by default
// AfterFunc 在 d 之后执行 f，默认为 time.AfterFunc
type AfterFunc func(d time.Duration, f func()) Timer

// Option 同步通道选项
type Option func(*Channel)

// WithAfterFunc 替换退避定时器的实现
func WithAfterFunc(fn AfterFunc) Option {
	return func(c *Channel) {
		c.afterFunc = fn
	}
}

// ResyncResult 一次重新同步的结果
type ResyncResult struct {
	Applied int `json:"applied"`
	Flushed int `json:"flushed"`
	Failed  int `json:"failed"`
}

// Channel 同步通道
type Channel struct {
	transport Transport
	store     Store
	bus       *eventbus.Bus
	pool      *workerpool.Pool
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
	afterFunc AfterFunc

	mu            sync.Mutex
	state         State
	gen           uint64
	attempts      int
	sub           Subscription
	timer         Timer
	pollCancel    context.CancelFunc
	attemptCancel context.CancelFunc
	runCtx        context.Context
	runCancel     context.CancelFunc

	seenMu   sync.Mutex
	seen     map[string]struct{}
	seenRing []string
	seenNext int
}

// New 创建同步通道，初始状态为 DISCONNECTED
func New(transport Transport, store Store, bus *eventbus.Bus, pool *workerpool.Pool, m *metrics.Metrics, logger *zap.Logger, cfg Config, opts ...Option) *Channel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 1024
	}
	if len(cfg.Domains) == 0 {
		cfg.Domains = domain.Domains()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = workerpool.New(nil, logger)
	}

	c := &Channel{
		transport: transport,
		store:     store,
		bus:       bus,
		pool:      pool,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		state:     StateDisconnected,
		seen:      make(map[string]struct{}, cfg.DedupeSize),
		seenRing:  make([]string, cfg.DedupeSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	m.SetState(string(StateDisconnected), States())
	return c
}

// State 当前状态
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts 当前连续失败次数
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// SessionID 本会话标识
func (c *Channel) SessionID() string {
	return c.cfg.SessionID
}

func (c *Channel) setStateLocked(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	c.metrics.SetState(string(next), States())
	c.logger.Info("sync channel state changed",
		zap.String("from", string(prev)),
		zap.String(logger.FieldState, string(next)),
		zap.Int(logger.FieldAttempt, c.attempts),
	)
}

// stopLocked cancels the attempt, the backoff timer, the polling loop and the subscription
// stopLocked 取消进行中的尝试、退避定时器、轮询循环与订阅
func (c *Channel) stopLocked() {
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	if c.sub != nil {
		_ = c.sub.Close()
		c.sub = nil
	}
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
}

// restartLocked stops everything and opens a new generation; work of older generations is dropped
// restartLocked 停止所有工作并开启新的一代，旧一代的工作被丢弃
func (c *Channel) restartLocked(next State) uint64 {
	c.stopLocked()
	c.gen++
	c.attempts = 0
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.setStateLocked(next)
	return c.gen
}

// Connect subscribes when disconnected; failures are logged and retried, never returned
// Connect 在未连接时建立订阅；失败只记录并重试，不会返回给调用方
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	gen := c.restartLocked(StateConnecting)
	c.mu.Unlock()

	c.attempt(ctx, gen)
}

// Reconnect cancels any attempt, backoff or polling in flight, then makes exactly one attempt.
// On failure the backoff starts again from attempt 1.
// Reconnect 先取消进行中的尝试、退避或轮询，再进行一次连接尝试；失败后退避从第 1 次重新开始
func (c *Channel) Reconnect(ctx context.Context) {
	c.mu.Lock()
	gen := c.restartLocked(StateConnecting)
	c.mu.Unlock()

	c.attempt(ctx, gen)
}

// Cleanup cancels every timer, loop and subscription and leaves the channel DISCONNECTED
// Cleanup 取消所有定时器、循环与订阅，状态回到 DISCONNECTED
func (c *Channel) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
	c.attempts = 0
	c.setStateLocked(StateDisconnected)
}

func (c *Channel) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.cfg.BackoffBase << (attempt - 1)
}

func (c *Channel) attempt(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	actx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	c.attemptCancel = cancel
	runCtx := c.runCtx
	c.mu.Unlock()

	stop := context.AfterFunc(runCtx, cancel)
	sub, err := c.transport.Subscribe(actx, c.cfg.SessionID, c.cfg.Domains)
	stop()
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	c.attemptCancel = nil

	if err != nil {
		c.attempts++
		attempts := c.attempts
		c.failLocked(gen)
		state := c.state
		c.mu.Unlock()

		c.logger.Warn("subscription attempt failed",
			zap.Int(logger.FieldAttempt, attempts),
			zap.String(logger.FieldState, string(state)),
			zap.Error(err),
		)
		return
	}

	c.sub = sub
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	go c.readLoop(runCtx, gen, sub)
	go c.flushPending(runCtx)
}

// failLocked schedules the next retry, or switches to polling once attempts are exhausted
// failLocked 安排下一次重试，次数用尽后转入轮询
func (c *Channel) failLocked(gen uint64) {
	if c.attempts >= c.cfg.MaxAttempts {
		c.startPollingLocked()
		return
	}
	c.setStateLocked(StateReconnecting)
	c.timer = c.afterFunc(c.backoff(c.attempts), func() { c.retry(gen) })
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	runCtx := c.runCtx
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SyncReconnects.Inc()
	}
	c.attempt(runCtx, gen)
}

func (c *Channel) startPollingLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.setStateLocked(StatePolling)
	pctx, cancel := context.WithCancel(c.runCtx)
	c.pollCancel = cancel
	go c.pollLoop(pctx)
}

func (c *Channel) pollLoop(ctx context.Context) {
	c.resync(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.resync(ctx)
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, gen uint64, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				c.lost(gen, sub)
				return
			}
			c.OnRemoteChange(ctx, ev)
		case <-sub.Done():
			c.lost(gen, sub)
			return
		}
	}
}

// lost 订阅断开，从第 1 次开始退避重连
func (c *Channel) lost(gen uint64, sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.sub != sub {
		return
	}
	c.sub = nil
	c.attempts = 0
	c.logger.Warn("subscription lost", zap.Error(sub.Err()))
	c.setStateLocked(StateReconnecting)
	c.timer = c.afterFunc(c.backoff(1), func() { c.retry(gen) })
}

// markSeen returns false when id was already handled
func (c *Channel) markSeen(id string) bool {
	if id == "" {
		return true
	}
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	if old := c.seenRing[c.seenNext]; old != "" {
		delete(c.seen, old)
	}
	c.seenRing[c.seenNext] = id
	c.seenNext = (c.seenNext + 1) % len(c.seenRing)
	c.seen[id] = struct{}{}
	return true
}

func (c *Channel) watches(d domain.ContentDomain) bool {
	for _, w := range c.cfg.Domains {
		if w == d {
			return true
		}
	}
	return false
}

// OnRemoteChange applies a change announced by another session.
// Events of this session and repeated event ids are ignored.
// OnRemoteChange 应用其他会话通知的变更；本会话的事件与重复的事件 ID 被忽略
func (c *Channel) OnRemoteChange(ctx context.Context, ev *domain.SyncEvent) {
	if ev == nil {
		return
	}
	if ev.SessionID != "" && ev.SessionID == c.cfg.SessionID {
		c.logger.Debug("own change suppressed", zap.String(logger.FieldEventID, ev.ID))
		return
	}
	if !c.watches(ev.Domain) || !c.markSeen(ev.ID) {
		return
	}

	group := ev.Group()
	rec, changed, err := c.store.Refresh(ctx, ev.Domain, ev.TargetID)
	if err != nil {
		c.logger.Warn("authoritative pull failed, applying event payload",
			zap.String(logger.FieldGroup, group.String()),
			zap.String(logger.FieldEventID, ev.ID),
			zap.Error(err),
		)
		if len(ev.Payload) == 0 {
			return
		}
		rec = ev.Record()
		changed, err = c.store.ApplyRemote(ctx, rec)
		if err != nil {
			c.logger.Error("remote change dropped",
				zap.String(logger.FieldGroup, group.String()),
				zap.Error(err),
			)
			return
		}
	}
	if rec == nil || !changed {
		return
	}

	eventID := ev.ID
	if rec.EventID != "" {
		eventID = rec.EventID
	}
	c.publishRemote(rec, eventID)
}

func (c *Channel) publishRemote(rec *domain.VersionRecord, eventID string) {
	if c.bus == nil {
		return
	}
	c.bus.PublishChange(eventbus.Message{
		Domain:    rec.Domain,
		TargetID:  rec.TargetID,
		Payload:   rec.Payload,
		Version:   rec.VersionNumber,
		VersionID: rec.ID,
		EventID:   eventID,
		Origin:    eventbus.OriginRemote,
	})
}

// Broadcast relays a local change to other sessions on the worker pool; it never blocks the caller
// Broadcast 在工作池上把本地变更转发给其他会话，不会阻塞调用方
func (c *Channel) Broadcast(event *domain.SyncEvent) {
	if event == nil {
		return
	}
	if event.SessionID == "" {
		e := *event
		e.SessionID = c.cfg.SessionID
		event = &e
	}

	err := c.pool.SubmitAsync(context.Background(), "sync-broadcast", func(ctx context.Context) error {
		c.mu.Lock()
		sub := c.sub
		c.mu.Unlock()

		var err error
		if sub == nil {
			err = errNotConnected
		} else {
			pctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			err = sub.Publish(pctx, event)
			cancel()
		}
		if err != nil && c.metrics != nil {
			c.metrics.BroadcastFailures.Inc()
		}
		return errors.Wrapf(err, "broadcast %s", event.Group())
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.BroadcastFailures.Inc()
		}
		c.logger.Warn("broadcast not queued", zap.String(logger.FieldEventID, event.ID), zap.Error(err))
	}
}

// BroadcastRecord 广播已确认的记录，待同步记录不广播
func (c *Channel) BroadcastRecord(rec *domain.VersionRecord) {
	if rec == nil || rec.IsPending() {
		return
	}
	c.Broadcast(rec.ChangeEvent(actionOf(rec), c.cfg.SessionID))
}

func actionOf(rec *domain.VersionRecord) domain.SyncAction {
	if rec.VersionNumber == 1 {
		return domain.ActionCreate
	}
	return domain.ActionUpdate
}

// ForceResync runs one re-sync pass now: apply changed current records, then flush pending saves
// ForceResync 立即执行一次重新同步：应用有变化的当前记录，再推送待同步保存
func (c *Channel) ForceResync(ctx context.Context) ResyncResult {
	return c.resync(ctx)
}

func (c *Channel) resync(ctx context.Context) ResyncResult {
	var res ResyncResult
	for _, d := range c.cfg.Domains {
		if ctx.Err() != nil {
			return res
		}
		records, err := c.store.ListCurrent(ctx, d)
		if err != nil {
			res.Failed++
			c.logger.Warn("resync list failed", zap.String(logger.FieldDomain, string(d)), zap.Error(err))
			continue
		}
		for _, rec := range records {
			changed, err := c.store.ApplyRemote(ctx, rec)
			if err != nil {
				res.Failed++
				continue
			}
			if changed {
				res.Applied++
				c.publishRemote(rec, rec.EventID)
			}
		}
	}

	flushed, failed := c.flushPending(ctx)
	res.Flushed = flushed
	res.Failed += failed
	c.logger.Debug("resync finished",
		zap.Int("applied", res.Applied),
		zap.Int("flushed", res.Flushed),
		zap.Int("failed", res.Failed),
	)
	return res
}

// RetryPending flushes the pending saves of the watched domains and broadcasts the ones that landed
// RetryPending 重试订阅内容域的待同步保存，并广播成功写入的记录
func (c *Channel) RetryPending(ctx context.Context) (flushed, failed int) {
	return c.flushPending(ctx)
}

func (c *Channel) flushPending(ctx context.Context) (flushed, failed int) {
	report, err := c.store.FlushPending(ctx, c.cfg.Domains...)
	if err != nil {
		c.logger.Warn("pending flush failed", zap.Error(err))
		return 0, 1
	}
	for _, rec := range report.Flushed {
		c.BroadcastRecord(rec)
	}
	return len(report.Flushed), len(report.Failed)
}
