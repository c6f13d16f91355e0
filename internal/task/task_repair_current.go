package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/service"
	"go.uber.org/zap"
)

// RepairCurrentTask re-establishes exactly one current record per group
// RepairCurrentTask 巡检并修复每个分组唯一的当前版本指针
type RepairCurrentTask struct {
	service  service.VersionService
	interval time.Duration
	logger   *zap.Logger
}

// Name 返回任务名称
func (t *RepairCurrentTask) Name() string {
	return "RepairCurrent"
}

// LoopInterval 返回执行间隔
func (t *RepairCurrentTask) LoopInterval() time.Duration {
	return t.interval
}

// IsStartupRun 是否立即执行一次
func (t *RepairCurrentTask) IsStartupRun() bool {
	return true
}

// Run 执行巡检
func (t *RepairCurrentTask) Run(ctx context.Context) error {
	fixed, err := t.service.RepairCurrent(ctx)
	if err != nil {
		return err
	}
	if fixed > 0 {
		t.logger.Warn("task log",
			zap.String("task", t.Name()),
			zap.String("msg", "current pointers repaired"),
			zap.Int("groups", fixed))
	}
	return nil
}

// NewRepairCurrentTask 创建巡检任务，未配置间隔时返回 nil
func NewRepairCurrentTask(a *app.App) (Task, error) {
	interval := a.Config().GetRepairInterval()
	if interval <= 0 {
		return nil, nil
	}
	return &RepairCurrentTask{service: a.VersionService, interval: interval, logger: a.Logger()}, nil
}

func init() {
	RegisterServer(NewRepairCurrentTask)
}
