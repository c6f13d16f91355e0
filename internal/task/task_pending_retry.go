package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"go.uber.org/zap"
)

// PendingRetrier 重试待同步保存
type PendingRetrier interface {
	RetryPending(ctx context.Context) (flushed, failed int)
}

// PendingRetryTask pushes saves that were kept locally while the server was unreachable
// PendingRetryTask 推送服务端不可达时保存在本地的待同步记录
type PendingRetryTask struct {
	retrier  PendingRetrier
	interval time.Duration
	logger   *zap.Logger
}

// Name 返回任务名称
func (t *PendingRetryTask) Name() string {
	return "PendingRetry"
}

// LoopInterval 返回执行间隔
func (t *PendingRetryTask) LoopInterval() time.Duration {
	return t.interval
}

// IsStartupRun 是否立即执行一次
func (t *PendingRetryTask) IsStartupRun() bool {
	return false
}

// Run 执行重试
func (t *PendingRetryTask) Run(ctx context.Context) error {
	flushed, failed := t.retrier.RetryPending(ctx)
	if flushed > 0 || failed > 0 {
		t.logger.Info("task log",
			zap.String("task", t.Name()),
			zap.Int("flushed", flushed),
			zap.Int("failed", failed))
	}
	return nil
}

// NewPendingRetryTask 创建重试任务
func NewPendingRetryTask(c *app.Client) (Task, error) {
	interval := c.Config().GetPendingRetryInterval()
	if interval <= 0 {
		return nil, nil
	}
	return &PendingRetryTask{retrier: c.Channel, interval: interval, logger: c.Logger()}, nil
}

func init() {
	RegisterClient(NewPendingRetryTask)
}
