// Package writequeue provides a per-group write queue
// Package writequeue 提供按分组串行化的写队列
// Writes that share a key (one (domain, target) group) run one at a time in FIFO order,
// writes on different keys never wait on each other.
// 相同 key（同一个 (domain, target) 分组）的写操作按 FIFO 串行执行，不同 key 之间互不阻塞。
package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Error definitions
// 错误定义
var (
	// ErrWriteQueueFull returned when the group queue is full
	// ErrWriteQueueFull 当分组写队列已满时返回
	ErrWriteQueueFull = errors.New("write queue is full")
	// ErrWriteQueueClosed returned when the manager is closed
	// ErrWriteQueueClosed 当写队列管理器已关闭时返回
	ErrWriteQueueClosed = errors.New("write queue is closed")
	// ErrWriteTimeout returned when the write operation did not finish in time
	// ErrWriteTimeout 当写操作超时时返回
	ErrWriteTimeout = errors.New("write operation timeout")
)

// Config write queue configuration
// Config 写队列配置
type Config struct {
	// QueueCapacity per-group queue capacity, default 100
	// QueueCapacity 每个分组的队列容量，默认 100
	QueueCapacity int
	// WriteTimeout write operation timeout, default 30 seconds
	// WriteTimeout 写操作超时时间，默认 30 秒
	WriteTimeout time.Duration
	// IdleTimeout idle cleanup timeout, default 10 minutes
	// IdleTimeout 空闲清理超时时间，默认 10 分钟
	IdleTimeout time.Duration
}

// DefaultConfig returns default configuration
// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 100,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   10 * time.Minute,
	}
}

type writeOp struct {
	ctx    context.Context
	fn     func() error
	result chan error
}

// groupQueue single group write queue
// groupQueue 单分组写队列
type groupQueue struct {
	key      string
	ch       chan writeOp
	lastUsed atomic.Int64
	closed   atomic.Bool
	workerWg sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (q *groupQueue) stop() {
	q.stopOnce.Do(func() {
		q.closed.Store(true)
		close(q.stopCh)
	})
}

// Manager manages the write queues of all groups
// Manager 管理所有分组的写队列
type Manager struct {
	config Config
	logger *zap.Logger

	queues sync.Map // map[string]*groupQueue

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	cleanupWg   sync.WaitGroup
	cleanupDone chan struct{}
}

// New creates write queue manager
// New 创建写队列管理器
// cfg: configuration, nil means DefaultConfig
// logger: zap logger, nil means nop logger
func New(cfg *Config, logger *zap.Logger) *Manager {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:      c,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
	}

	// Start idle queue cleanup goroutine
	// 启动空闲队列清理 goroutine
	m.cleanupWg.Add(1)
	go m.cleanupIdleQueues()

	m.logger.Debug("write queue manager started",
		zap.Int("queueCapacity", c.QueueCapacity),
		zap.Duration("writeTimeout", c.WriteTimeout),
		zap.Duration("idleTimeout", c.IdleTimeout))

	return m
}

// Execute runs fn on the queue of key and waits for its result
// Execute 在 key 对应的队列上执行 fn 并等待结果
func (m *Manager) Execute(ctx context.Context, key string, fn func() error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrWriteQueueClosed
	}
	m.mu.RUnlock()

	queue := m.getOrCreateQueue(key)
	if queue == nil {
		return ErrWriteQueueClosed
	}

	result := make(chan error, 1)
	op := writeOp{ctx: ctx, fn: fn, result: result}

	select {
	case queue.ch <- op:
	default:
		return ErrWriteQueueFull
	}

	timeout := m.config.WriteTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.ctx.Done():
		return ErrWriteQueueClosed
	}
}

// getOrCreateQueue gets or lazily creates the queue of key
// getOrCreateQueue 获取或懒加载创建分组队列
func (m *Manager) getOrCreateQueue(key string) *groupQueue {
	if v, ok := m.queues.Load(key); ok {
		queue := v.(*groupQueue)
		if !queue.closed.Load() {
			queue.lastUsed.Store(time.Now().UnixNano())
			return queue
		}
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	queue := &groupQueue{
		key:    key,
		ch:     make(chan writeOp, m.config.QueueCapacity),
		stopCh: make(chan struct{}),
	}
	queue.lastUsed.Store(time.Now().UnixNano())

	// LoadOrStore makes sure only one live queue exists per key
	// 使用 LoadOrStore 确保每个 key 只有一个有效队列
	actual, loaded := m.queues.LoadOrStore(key, queue)
	if loaded {
		existing := actual.(*groupQueue)
		if !existing.closed.Load() {
			existing.lastUsed.Store(time.Now().UnixNano())
			return existing
		}
		if !m.queues.CompareAndSwap(key, existing, queue) {
			return m.getOrCreateQueue(key)
		}
	}

	queue.workerWg.Add(1)
	go m.worker(queue)

	m.logger.Debug("created write queue", zap.String("group", key))
	return queue
}

func (m *Manager) worker(queue *groupQueue) {
	defer queue.workerWg.Done()
	defer func() {
		queue.closed.Store(true)
		m.logger.Debug("write queue worker stopped", zap.String("group", queue.key))
	}()

	for {
		select {
		case <-m.ctx.Done():
			m.drainQueue(queue)
			return
		case <-queue.stopCh:
			m.drainQueue(queue)
			return
		case op := <-queue.ch:
			m.executeOp(queue, op)
		}
	}
}

func (m *Manager) executeOp(queue *groupQueue, op writeOp) {
	queue.lastUsed.Store(time.Now().UnixNano())

	select {
	case <-op.ctx.Done():
		op.result <- op.ctx.Err()
		return
	default:
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("write queue operation panic",
					zap.String("group", queue.key),
					zap.Any("panic", r),
					zap.Stack("stack"))
				err = errors.New("write operation panicked")
			}
		}()
		err = op.fn()
	}()

	select {
	case op.result <- err:
	default:
	}
}

func (m *Manager) drainQueue(queue *groupQueue) {
	for {
		select {
		case op := <-queue.ch:
			m.executeOp(queue, op)
		default:
			return
		}
	}
}

func (m *Manager) cleanupIdleQueues() {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(m.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.cleanupDone:
			return
		case <-ticker.C:
			m.doCleanup()
		}
	}
}

// doCleanup drops idle empty queues
// doCleanup 清理空闲且为空的队列
func (m *Manager) doCleanup() {
	now := time.Now().UnixNano()
	idleThreshold := m.config.IdleTimeout.Nanoseconds()

	m.queues.Range(func(key, value any) bool {
		queue := value.(*groupQueue)
		lastUsed := queue.lastUsed.Load()
		if now-lastUsed > idleThreshold && len(queue.ch) == 0 && !queue.closed.Load() {
			m.logger.Debug("cleaning up idle write queue",
				zap.String("group", queue.key),
				zap.Duration("idleTime", time.Duration(now-lastUsed)))
			queue.stop()
			m.queues.CompareAndDelete(key, queue)
		}
		return true
	})
}

// Shutdown closes the manager and waits for queued operations
// Shutdown 关闭写队列管理器，等待队列中的操作完成
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.cleanupDone)

	done := make(chan struct{})
	go func() {
		m.queues.Range(func(_, value any) bool {
			value.(*groupQueue).stop()
			return true
		})
		m.queues.Range(func(_, value any) bool {
			value.(*groupQueue).workerWg.Wait()
			return true
		})
		m.cleanupWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("write queue manager shutdown completed")
		m.cancel()
		return nil
	case <-ctx.Done():
		m.logger.Warn("write queue manager shutdown timeout, forcing cancellation")
		m.cancel()
		return ctx.Err()
	}
}

// QueueCount returns the number of live group queues
// QueueCount 返回当前活跃队列数量
func (m *Manager) QueueCount() int {
	count := 0
	m.queues.Range(func(_, value any) bool {
		if !value.(*groupQueue).closed.Load() {
			count++
		}
		return true
	})
	return count
}

// IsClosed reports whether the manager is closed
// IsClosed 返回管理器是否已关闭
func (m *Manager) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
