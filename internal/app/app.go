// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/haierkeys/fast-content-sync-service/internal/service"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/workerpool"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 服务端应用容器，封装所有依赖和服务
type App struct {
	// 基础设施（注入的依赖）
	config *AppConfig
	logger *zap.Logger
	DB     *gorm.DB
	Dao    *dao.Dao

	// 并发控制组件
	workerPool    *workerpool.Pool
	writeQueueMgr *writequeue.Manager

	Metrics *metrics.Metrics

	// Repository 层
	VersionRepo domain.VersionRepository
	EventRepo   domain.SyncEventRepository

	// Service 层
	VersionService service.VersionService

	StartTime time.Time

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewApp 创建应用容器实例
// cfg: 应用配置（必须）
// logger: zap 日志器（必须）
// db: 数据库连接（必须）
func NewApp(cfg *AppConfig, logger *zap.Logger, db *gorm.DB) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	a := &App{
		config:     cfg,
		logger:     logger,
		DB:         db,
		Metrics:    metrics.New(),
		StartTime:  time.Now(),
		shutdownCh: make(chan struct{}),
	}

	wpConfig := cfg.GetWorkerPoolConfig()
	a.workerPool = workerpool.New(&wpConfig, logger)

	// 版本号分配按分组串行化
	wqConfig := cfg.GetWriteQueueConfig()
	a.writeQueueMgr = writequeue.New(&wqConfig, logger)

	a.Dao = dao.New(db, logger, a.writeQueueMgr)
	if err := a.Dao.Migrate(model.ServerKeys()...); err != nil {
		return nil, err
	}

	a.VersionRepo = dao.NewVersionRepository(a.Dao)
	a.EventRepo = dao.NewSyncEventRepository(a.Dao)
	a.VersionService = service.NewVersionService(a.VersionRepo, a.EventRepo, a.Metrics, logger, cfg.GetServiceConfig())

	logger.Info("App container initialized successfully",
		zap.String("database", cfg.Database.Type),
		zap.Int("workerPoolMaxWorkers", wpConfig.MaxWorkers),
		zap.Int("writeQueueCapacity", wqConfig.QueueCapacity))

	return a, nil
}

// Close 释放数据库连接
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	if err := dao.Close(a.DB); err != nil {
		return err
	}
	a.logger.Info("Database connection closed")
	return nil
}

// Config 获取应用配置
func (a *App) Config() *AppConfig {
	return a.config
}

// Logger 获取日志器
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// SubmitTaskAsync 异步提交任务到 Worker Pool（不等待结果）
func (a *App) SubmitTaskAsync(ctx context.Context, name string, task func(context.Context) error) error {
	return a.workerPool.SubmitAsync(ctx, name, task)
}

// Version 获取版本信息
func (a *App) Version() pkgapp.VersionInfo {
	return pkgapp.VersionInfo{
		Version:   Version,
		GitTag:    GitTag,
		BuildTime: BuildTime,
	}
}

// IsProductionMode 是否为生产模式
func (a *App) IsProductionMode() bool {
	return a.config.Log.Production
}

// WorkerPool 获取 Worker Pool
func (a *App) WorkerPool() *workerpool.Pool {
	return a.workerPool
}

// WriteQueueManager 获取 Write Queue Manager
func (a *App) WriteQueueManager() *writequeue.Manager {
	return a.writeQueueMgr
}

// DefaultShutdownTimeout 默认关闭超时时间
const DefaultShutdownTimeout = 30 * time.Second

// Shutdown 优雅关闭应用容器
// 按顺序关闭：Worker Pool -> Write Queue Manager -> Database
// ctx 用于控制关闭超时，如果为 nil 则使用默认 30 秒超时
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("App container shutting down...")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
	}

	select {
	case <-a.shutdownCh:
		return nil
	default:
		close(a.shutdownCh)
	}

	errs := shutdownAll(ctx, a.logger, a.workerPool, a.writeQueueMgr)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All background operations completed")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout waiting for background operations")
		errs = append(errs, fmt.Errorf("background operations timeout: %w", ctx.Err()))
	}

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		a.logger.Warn("App container shutdown completed with errors",
			zap.Int("errorCount", len(errs)))
		return fmt.Errorf("shutdown completed with %d errors: %v", len(errs), errs)
	}

	a.logger.Info("App container shutdown completed successfully")
	return nil
}

// shutdownAll 依次关闭 Worker Pool 与写队列
func shutdownAll(ctx context.Context, logger *zap.Logger, pool *workerpool.Pool, queues ...*writequeue.Manager) []error {
	var errs []error
	if pool != nil {
		if err := pool.Shutdown(ctx); err != nil {
			logger.Warn("Worker pool shutdown error", zap.Error(err))
			errs = append(errs, fmt.Errorf("worker pool shutdown: %w", err))
		}
	}
	for _, q := range queues {
		if q == nil {
			continue
		}
		if err := q.Shutdown(ctx); err != nil {
			logger.Warn("write queue manager shutdown error", zap.Error(err))
			errs = append(errs, fmt.Errorf("write queue manager shutdown: %w", err))
		}
	}
	return errs
}

// IsShuttingDown 检查应用是否正在关闭
func (a *App) IsShuttingDown() bool {
	select {
	case <-a.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownCh 返回关闭信号通道（用于监听关闭事件）
func (a *App) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// TrackOperation 跟踪后台操作（用于优雅关闭时等待）
// 返回一个函数，在操作完成时调用
func (a *App) TrackOperation() func() {
	a.wg.Add(1)
	return func() {
		a.wg.Done()
	}
}
