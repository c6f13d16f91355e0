package task

import (
	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/safe_close"
	"go.uber.org/zap"
)

// Manager 任务管理器,负责创建和管理所有任务
type Manager struct {
	scheduler *Scheduler
	logger    *zap.Logger
}

// NewManager 创建任务管理器
func NewManager(logger *zap.Logger, sc *safe_close.SafeClose) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		scheduler: NewScheduler(logger, sc),
		logger:    logger,
	}
}

// RegisterServerTasks 创建并添加所有服务端任务
func (m *Manager) RegisterServerTasks(a *app.App) error {
	for _, factory := range ServerFactories() {
		t, err := factory(a)
		if err := m.add(t, err); err != nil {
			return err
		}
	}
	return nil
}

// RegisterClientTasks 创建并添加所有客户端任务
func (m *Manager) RegisterClientTasks(c *app.Client) error {
	for _, factory := range ClientFactories() {
		t, err := factory(c)
		if err := m.add(t, err); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) add(t Task, err error) error {
	if err != nil {
		m.logger.Warn("failed to create task", zap.Error(err))
		return err
	}
	if t == nil {
		// 未启用
		return nil
	}
	m.scheduler.AddTask(t)
	m.logger.Info("task registered", zap.String("name", t.Name()), zap.Duration("interval", t.LoopInterval()))
	return nil
}

// Tasks 已注册的任务
func (m *Manager) Tasks() []Task {
	return m.scheduler.Tasks()
}

// Start 启动所有已注册的任务
func (m *Manager) Start() {
	m.scheduler.Start()
}
