// Package workerpool provides a bounded goroutine pool
// Package workerpool 提供有界的 goroutine 池
// Used by the sync channel to fan out broadcasts without spawning one goroutine per event.
// 同步通道用它来分发广播，避免每个事件都启动一个 goroutine。
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Error definitions
// 错误定义
var (
	// ErrWorkerPoolFull returned when the task queue is full
	// ErrWorkerPoolFull 当任务队列已满时返回
	ErrWorkerPoolFull = errors.New("worker pool queue is full")
	// ErrWorkerPoolClosed returned when the pool is closed
	// ErrWorkerPoolClosed 当 Worker Pool 已关闭时返回
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
	// ErrTaskCancelled returned when the task context was done before it ran
	// ErrTaskCancelled 当任务在执行前 context 已结束时返回
	ErrTaskCancelled = errors.New("task was cancelled")
)

// Config worker pool configuration
// Config Worker Pool 配置
type Config struct {
	// MaxWorkers max concurrent workers, default 8
	// MaxWorkers 最大并发 worker 数量，默认 8
	MaxWorkers int
	// QueueSize task queue size, default 256
	// QueueSize 任务队列大小，默认 256
	QueueSize int
	// WarningPercent usage warning threshold, default 0.8
	// WarningPercent 告警阈值百分比，默认 0.8
	WarningPercent float64
}

// DefaultConfig returns default configuration
// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     8,
		QueueSize:      256,
		WarningPercent: 0.8,
	}
}

type taskWrapper struct {
	ctx  context.Context
	name string
	fn   func(context.Context) error
	done chan error
}

// Pool bounded worker pool
// Pool 有界 Worker Pool
type Pool struct {
	config Config
	logger *zap.Logger

	taskCh   chan taskWrapper
	workerWg sync.WaitGroup

	activeCount atomic.Int64
	failedCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New creates a worker pool
// New 创建新的 Worker Pool
func New(cfg *Config, logger *zap.Logger) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.WarningPercent <= 0 || c.WarningPercent > 1 {
		c.WarningPercent = 0.8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config: c,
		logger: logger,
		taskCh: make(chan taskWrapper, c.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < c.MaxWorkers; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}

	p.logger.Debug("worker pool started",
		zap.Int("maxWorkers", c.MaxWorkers),
		zap.Int("queueSize", c.QueueSize))

	return p
}

func (p *Pool) worker() {
	defer p.workerWg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskCh:
			if !ok {
				return
			}
			p.executeTask(task)
		}
	}
}

// executeTask runs one task, a panic is turned into an error
// executeTask 执行单个任务，panic 会被转换为错误
func (p *Pool) executeTask(task taskWrapper) {
	p.activeCount.Add(1)
	defer p.activeCount.Add(-1)

	p.checkWarningThreshold()

	var err error
	select {
	case <-task.ctx.Done():
		err = ErrTaskCancelled
	default:
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task %s panicked: %v", task.name, r)
					p.logger.Error("worker pool task panic",
						zap.String("task", task.name),
						zap.Any("panic", r),
						zap.Stack("stack"))
				}
			}()
			err = task.fn(task.ctx)
		}()
	}

	if err != nil {
		p.failedCount.Add(1)
		if task.done == nil {
			p.logger.Warn("async task failed", zap.String("task", task.name), zap.Error(err))
		}
	}

	if task.done != nil {
		select {
		case task.done <- err:
		default:
		}
	}
}

func (p *Pool) checkWarningThreshold() {
	active := p.activeCount.Load()
	threshold := int64(float64(p.config.MaxWorkers) * p.config.WarningPercent)
	if threshold > 0 && active >= threshold {
		p.logger.Warn("worker pool approaching capacity",
			zap.Int64("activeCount", active),
			zap.Int("maxWorkers", p.config.MaxWorkers))
	}
}

func (p *Pool) enqueue(task taskWrapper) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}
	select {
	case p.taskCh <- task:
		return nil
	default:
		return ErrWorkerPoolFull
	}
}

// Submit submits a task and waits for it
// Submit 提交任务并等待完成
func (p *Pool) Submit(ctx context.Context, name string, fn func(context.Context) error) error {
	done := make(chan error, 1)
	if err := p.enqueue(taskWrapper{ctx: ctx, name: name, fn: fn, done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrWorkerPoolClosed
	}
}

// SubmitAsync submits a task without waiting, failures are logged
// SubmitAsync 异步提交任务（不等待结果），失败仅记录日志
func (p *Pool) SubmitAsync(ctx context.Context, name string, fn func(context.Context) error) error {
	return p.enqueue(taskWrapper{ctx: ctx, name: name, fn: fn})
}

// ActiveCount returns running task count
// ActiveCount 返回当前活跃任务数
func (p *Pool) ActiveCount() int64 {
	return p.activeCount.Load()
}

// QueuedCount returns queued task count
// QueuedCount 返回当前队列中等待的任务数
func (p *Pool) QueuedCount() int {
	return len(p.taskCh)
}

// FailedCount returns the number of tasks that ended with an error
// FailedCount 返回执行失败的任务数
func (p *Pool) FailedCount() int64 {
	return p.failedCount.Load()
}

// IsClosed reports whether the pool is closed
// IsClosed 返回 Worker Pool 是否已关闭
func (p *Pool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Shutdown stops accepting tasks and waits for queued ones
// Shutdown 停止接收任务，等待已排队的任务完成
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.taskCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workerWg.Wait()
		close(done)
	}()

	start := time.Now()
	select {
	case <-done:
		p.cancel()
		p.logger.Debug("worker pool shutdown completed", zap.Duration("wait", time.Since(start)))
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("worker pool shutdown timeout, forcing cancellation")
		return ctx.Err()
	}
}
