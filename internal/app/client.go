package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/internal/mirror"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/haierkeys/fast-content-sync-service/internal/publish"
	"github.com/haierkeys/fast-content-sync-service/internal/remote"
	"github.com/haierkeys/fast-content-sync-service/internal/syncchannel"
	"github.com/haierkeys/fast-content-sync-service/internal/versionstore"
	"github.com/haierkeys/fast-content-sync-service/pkg/util"
	"github.com/haierkeys/fast-content-sync-service/pkg/workerpool"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Client 客户端应用容器：本地镜像、版本存储、同步通道与发布协调器
type Client struct {
	config *AppConfig
	logger *zap.Logger
	DB     *gorm.DB
	Dao    *dao.Dao

	// daoQueue serializes local writes per model, storeQueue serializes store operations per group.
	// They are separate managers because store operations write through the DAO.
	// daoQueue 按模型串行化本地写入，storeQueue 按分组串行化存储操作；存储操作会经过 DAO 写入，因此不能共用
	daoQueue   *writequeue.Manager
	storeQueue *writequeue.Manager
	workerPool *workerpool.Pool

	Metrics   *metrics.Metrics
	Bus       *eventbus.Bus
	Mirror    *mirror.Mirror
	Remote    *remote.Client
	Transport *remote.Transport
	Store     *versionstore.Store
	Channel   *syncchannel.Channel
	Publisher *publish.Coordinator

	SessionID string
	Author    domain.Author

	shutdownOnce sync.Once
}

// NewClient 创建客户端应用容器，db 为本地镜像数据库
func NewClient(cfg *AppConfig, logger *zap.Logger, db *gorm.DB) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	c := &Client{
		config:    cfg,
		logger:    logger,
		DB:        db,
		Metrics:   metrics.New(),
		SessionID: util.NewSessionID(AppID),
		Author:    cfg.ClientAuthor(),
	}

	wpConfig := cfg.GetWorkerPoolConfig()
	c.workerPool = workerpool.New(&wpConfig, logger)
	wqConfig := cfg.GetWriteQueueConfig()
	c.daoQueue = writequeue.New(&wqConfig, logger)
	c.storeQueue = writequeue.New(&wqConfig, logger)

	c.Dao = dao.New(db, logger, c.daoQueue)
	if err := c.Dao.Migrate(model.ClientKeys()...); err != nil {
		return nil, err
	}

	domains, err := cfg.ClientDomains()
	if err != nil {
		return nil, err
	}
	channelConfig, err := cfg.GetChannelConfig(c.SessionID)
	if err != nil {
		return nil, err
	}

	c.Remote, err = remote.New(remote.Config{BaseURL: cfg.Client.ServerURL, Timeout: cfg.GetRemoteTimeout()}, logger)
	if err != nil {
		return nil, err
	}
	c.Transport, err = remote.NewTransport(cfg.Client.ServerURL, logger)
	if err != nil {
		return nil, err
	}

	c.Bus = eventbus.New(logger, c.Metrics)
	c.Mirror = mirror.New(dao.NewMirrorRepository(c.Dao), logger)
	c.Store = versionstore.New(c.Remote, c.Mirror, dao.NewPendingSaveRepository(c.Dao), c.Bus, c.storeQueue, c.Metrics, logger, cfg.GetStoreConfig(c.SessionID))
	c.Channel = syncchannel.New(c.Transport, c.Store, c.Bus, c.workerPool, c.Metrics, logger, channelConfig)
	c.Publisher = publish.New(dao.NewStagedEditRepository(c.Dao), c.Store, c.Channel, logger, domains...)

	logger.Info("Client container initialized",
		zap.String("server", cfg.Client.ServerURL),
		zap.String("sessionId", c.SessionID),
		zap.Int("domains", len(domains)))

	return c, nil
}

// Config 获取应用配置
func (c *Client) Config() *AppConfig {
	return c.config
}

// Logger 获取日志器
func (c *Client) Logger() *zap.Logger {
	return c.logger
}

// Save saves a new version through the store and announces it to the other sessions
// Save 通过版本存储保存新版本并通知其他会话
func (c *Client) Save(ctx context.Context, d domain.ContentDomain, targetID string, payload domain.Payload, description string) (*domain.VersionRecord, error) {
	rec, err := c.Store.SaveVersion(ctx, d, targetID, payload, c.Author, description)
	if err != nil {
		return nil, err
	}
	c.Channel.BroadcastRecord(rec)
	return rec, nil
}

// Rollback makes an existing version current and announces it
// Rollback 将已有版本设为当前版本并通知其他会话
func (c *Client) Rollback(ctx context.Context, d domain.ContentDomain, targetID, versionID string) (*domain.VersionRecord, error) {
	rec, err := c.Store.Rollback(ctx, d, targetID, versionID, c.Author)
	if err != nil {
		return nil, err
	}
	c.Channel.Broadcast(rec.ChangeEvent(domain.ActionRollback, c.SessionID))
	return rec, nil
}

// Shutdown 关闭同步通道、后台任务与本地数据库
func (c *Client) Shutdown(ctx context.Context) error {
	var errs []error
	c.shutdownOnce.Do(func() {
		if ctx == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			defer cancel()
		}
		c.Channel.Cleanup()
		errs = shutdownAll(ctx, c.logger, c.workerPool, c.storeQueue, c.daoQueue)
		if err := dao.Close(c.DB); err != nil {
			errs = append(errs, err)
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("client shutdown completed with %d errors: %v", len(errs), errs)
	}
	return nil
}

// WaitConnected waits until the sync channel leaves the connecting states or ctx ends
// WaitConnected 等待同步通道离开连接中状态，或 ctx 结束
func (c *Client) WaitConnected(ctx context.Context) syncchannel.State {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		state := c.Channel.State()
		if state == syncchannel.StateConnected || state == syncchannel.StatePolling {
			return state
		}
		select {
		case <-ctx.Done():
			return state
		case <-ticker.C:
		}
	}
}
