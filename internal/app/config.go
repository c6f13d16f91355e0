// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/service"
	"github.com/haierkeys/fast-content-sync-service/internal/syncchannel"
	"github.com/haierkeys/fast-content-sync-service/internal/versionstore"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/haierkeys/fast-content-sync-service/pkg/util"
	"github.com/haierkeys/fast-content-sync-service/pkg/workerpool"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig 应用配置
type AppConfig struct {
	File     string             `yaml:"-"` // 配置文件路径，不序列化
	Server   ServerConfig       `yaml:"server"`
	Log      LogConfig          `yaml:"log"`
	Database dao.DatabaseConfig `yaml:"database"`
	App      AppSettings        `yaml:"app"`
	Tracer   TracerConfig       `yaml:"tracer"`
	Client   ClientConfig       `yaml:"client"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别，参见 zapcore.ParseLevel
	Level string `yaml:"level" default:"info"`
	// File 日志文件路径，为空时只输出到控制台
	File string `yaml:"file" default:"storage/logs/log.log"`
	// Production 是否启用 JSON 输出
	Production bool `yaml:"production" default:"true"`
}

// LoggerConfig 转换为 pkg/logger 的配置
func (c LogConfig) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Level, File: c.File, Production: c.Production}
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// RunMode 运行模式
	RunMode string `yaml:"run-mode" default:"release"`
	// HttpPort HTTP 端口
	HttpPort string `yaml:"http-port" default:":9000"`
	// ReadTimeout 读取超时（秒）
	ReadTimeout int `yaml:"read-timeout" default:"60"`
	// WriteTimeout 写入超时（秒）
	WriteTimeout int `yaml:"write-timeout" default:"60"`
	// PrivateHttpListen 私有 HTTP 监听地址，为空时不启动
	PrivateHttpListen string `yaml:"private-http-listen" default:":9001"`
}

// AppSettings 应用设置
type AppSettings struct {
	// DefaultPageSize 默认页面大小
	DefaultPageSize int `yaml:"default-page-size" default:"20"`
	// MaxPageSize 最大页面大小
	MaxPageSize int `yaml:"max-page-size" default:"200"`
	// DefaultContextTimeout 默认上下文超时时间（秒）
	DefaultContextTimeout int `yaml:"default-context-timeout" default:"60"`
	// MaxPayloadSize 单个版本内容的最大尺寸，支持 KB、MB
	MaxPayloadSize string `yaml:"max-payload-size" default:"1MB"`
	// WriteRateLimit 每个写接口每秒允许的请求数，0 表示不限制
	WriteRateLimit int64 `yaml:"write-rate-limit" default:"50"`
	// RepairInterval 当前版本指针巡检间隔，为空时不巡检
	RepairInterval string `yaml:"repair-interval" default:"1h"`

	// Worker Pool 配置
	WorkerPoolMaxWorkers int `yaml:"worker-pool-max-workers" default:"32"`
	WorkerPoolQueueSize  int `yaml:"worker-pool-queue-size" default:"1000"`

	// Write Queue 配置
	WriteQueueCapacity int    `yaml:"write-queue-capacity" default:"100"`
	WriteQueueTimeout  string `yaml:"write-queue-timeout" default:"30s"`
	WriteQueueIdleTime string `yaml:"write-queue-idle-time" default:"10m"`
}

// TracerConfig 请求追踪配置
type TracerConfig struct {
	// Enabled 是否启用追踪
	Enabled bool `yaml:"enabled" default:"true"`
	// Header 追踪 ID 请求头名称，默认 X-Trace-ID
	Header string `yaml:"header" default:"X-Trace-ID"`
}

// ClientConfig 编辑端（客户端）配置
type ClientConfig struct {
	// ServerURL 服务端地址
	ServerURL string `yaml:"server-url" default:"http://127.0.0.1:9000"`
	// Database 本地镜像数据库
	Database dao.DatabaseConfig `yaml:"database"`
	// RemoteTimeout 每次远端调用的超时时间
	RemoteTimeout string `yaml:"remote-timeout" default:"5s"`
	// ReconnectBase 重连退避的基础时间
	ReconnectBase string `yaml:"reconnect-base" default:"1s"`
	// ReconnectMaxAttempts 转入轮询前的最大重连次数
	ReconnectMaxAttempts int `yaml:"reconnect-max-attempts" default:"5"`
	// PollInterval 轮询间隔
	PollInterval string `yaml:"poll-interval" default:"30s"`
	// PendingRetryInterval 待同步保存的重试间隔
	PendingRetryInterval string `yaml:"pending-retry-interval" default:"1m"`
	// Domains 订阅的内容域，为空时订阅全部
	Domains []string `yaml:"domains"`
	// Author 默认作者
	Author AuthorConfig `yaml:"author"`
}

// AuthorConfig 默认作者
type AuthorConfig struct {
	ID    string `yaml:"id" default:"editor"`
	Name  string `yaml:"name" default:"Editor"`
	Email string `yaml:"email"`
}

// DefaultConfig 仅包含默认值的配置
func DefaultConfig() (*AppConfig, error) {
	c := new(AppConfig)
	if err := defaults.Set(c); err != nil {
		return nil, errors.Wrap(err, "set default config failed")
	}
	c.Client.Database.Path = "storage/database/client.db"
	return c, nil
}

// LoadConfig 从文件加载配置
// 返回配置实例和配置文件的绝对路径
func LoadConfig(f string) (*AppConfig, string, error) {
	realpath, err := filepath.Abs(f)
	if err != nil {
		return nil, "", err
	}
	realpath = filepath.Clean(realpath)

	c := new(AppConfig)
	c.File = realpath

	// 设置默认值
	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "set default config failed")
	}

	file, err := os.ReadFile(realpath)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "read config file failed")
	}

	err = yaml.Unmarshal(file, c)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "parse config file failed")
	}

	// defaults.Set 只填充零值字段，YAML 中存在但为空的字段需要再次填充
	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "re-set default config failed")
	}

	if c.Client.Database.Path == "" || c.Client.Database.Path == c.Database.Path {
		c.Client.Database.Path = "storage/database/client.db"
	}

	return c, realpath, nil
}

// Save 保存配置到文件
func (c *AppConfig) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config failed")
	}

	err = os.WriteFile(c.File, data, 0644)
	if err != nil {
		return errors.Wrap(err, "write config file failed")
	}

	return nil
}

// GetWorkerPoolConfig 获取 Worker Pool 配置
func (c *AppConfig) GetWorkerPoolConfig() workerpool.Config {
	cfg := workerpool.DefaultConfig()

	if c.App.WorkerPoolMaxWorkers > 0 {
		cfg.MaxWorkers = c.App.WorkerPoolMaxWorkers
	}
	if c.App.WorkerPoolQueueSize > 0 {
		cfg.QueueSize = c.App.WorkerPoolQueueSize
	}

	return cfg
}

// GetWriteQueueConfig 获取 Write Queue 配置
func (c *AppConfig) GetWriteQueueConfig() writequeue.Config {
	cfg := writequeue.DefaultConfig()

	if c.App.WriteQueueCapacity > 0 {
		cfg.QueueCapacity = c.App.WriteQueueCapacity
	}
	cfg.WriteTimeout = util.MustParseDuration(c.App.WriteQueueTimeout, cfg.WriteTimeout)
	cfg.IdleTimeout = util.MustParseDuration(c.App.WriteQueueIdleTime, cfg.IdleTimeout)

	return cfg
}

// GetServiceConfig 获取 Service 层配置
func (c *AppConfig) GetServiceConfig() *service.ServiceConfig {
	cfg := service.DefaultServiceConfig()
	cfg.MaxPayloadBytes = int(util.ParseSize(c.App.MaxPayloadSize, int64(cfg.MaxPayloadBytes)))
	if c.App.MaxPageSize > 0 {
		cfg.MaxPageSize = c.App.MaxPageSize
	}
	return cfg
}

// GetRepairInterval 当前版本指针巡检间隔，0 表示不巡检
func (c *AppConfig) GetRepairInterval() time.Duration {
	return util.MustParseDuration(c.App.RepairInterval, 0)
}

// GetRemoteTimeout 客户端远端调用超时
func (c *AppConfig) GetRemoteTimeout() time.Duration {
	return util.MustParseDuration(c.Client.RemoteTimeout, 5*time.Second)
}

// GetPendingRetryInterval 待同步保存的重试间隔
func (c *AppConfig) GetPendingRetryInterval() time.Duration {
	return util.MustParseDuration(c.Client.PendingRetryInterval, time.Minute)
}

// GetStoreConfig 客户端版本存储配置
func (c *AppConfig) GetStoreConfig(sessionID string) versionstore.Config {
	return versionstore.Config{
		RemoteTimeout: c.GetRemoteTimeout(),
		SessionID:     sessionID,
	}
}

// GetChannelConfig 客户端同步通道配置
func (c *AppConfig) GetChannelConfig(sessionID string) (syncchannel.Config, error) {
	domains, err := c.ClientDomains()
	if err != nil {
		return syncchannel.Config{}, err
	}
	return syncchannel.Config{
		SessionID:      sessionID,
		Domains:        domains,
		ConnectTimeout: c.GetRemoteTimeout(),
		BackoffBase:    util.MustParseDuration(c.Client.ReconnectBase, time.Second),
		MaxAttempts:    c.Client.ReconnectMaxAttempts,
		PollInterval:   util.MustParseDuration(c.Client.PollInterval, 30*time.Second),
	}, nil
}

// ClientDomains 解析订阅的内容域，未配置时为全部内容域
func (c *AppConfig) ClientDomains() ([]domain.ContentDomain, error) {
	if len(c.Client.Domains) == 0 {
		return domain.Domains(), nil
	}
	out := make([]domain.ContentDomain, 0, len(c.Client.Domains))
	for _, s := range c.Client.Domains {
		d, err := domain.ParseDomain(s)
		if err != nil {
			return nil, errors.Wrap(err, "client.domains")
		}
		out = append(out, d)
	}
	return out, nil
}

// ClientAuthor 客户端默认作者
func (c *AppConfig) ClientAuthor() domain.Author {
	return domain.Author{ID: c.Client.Author.ID, Name: c.Client.Author.Name, Email: c.Client.Author.Email}
}
