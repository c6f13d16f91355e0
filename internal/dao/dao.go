// Package dao 实现数据访问层
package dao

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/haierkeys/fast-content-sync-service/pkg/fileurl"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Type 数据库类型: sqlite, mysql, postgres
	Type string `yaml:"type" default:"sqlite"`
	// Path sqlite 文件路径
	Path string `yaml:"path" default:"storage/database/content.db"`
	// UserName 用户名
	UserName string `yaml:"username"`
	// Password 密码
	Password string `yaml:"password"`
	// Host 主机地址
	Host string `yaml:"host"`
	// Port 端口，仅 postgres 使用
	Port int `yaml:"port" default:"5432"`
	// Name 数据库名称
	Name string `yaml:"name"`
	// SSLMode postgres 的 sslmode
	SSLMode string `yaml:"ssl-mode" default:"disable"`
	// TablePrefix 表名前缀
	TablePrefix string `yaml:"table-prefix" default:"cs_"`
	// Charset 字符集
	Charset string `yaml:"charset" default:"utf8mb4"`
	// ParseTime 是否解析时间
	ParseTime bool `yaml:"parse-time" default:"true"`
	// MaxIdleConns 最大空闲连接数
	MaxIdleConns int `yaml:"max-idle-conns" default:"10"`
	// MaxOpenConns 最大打开连接数，sqlite 固定为 1
	MaxOpenConns int `yaml:"max-open-conns" default:"50"`
	// Debug 打印 SQL
	Debug bool `yaml:"debug"`
}

// Dao 数据访问对象
type Dao struct {
	db         *gorm.DB
	logger     *zap.Logger
	writeQueue *writequeue.Manager

	migrated sync.Map // key -> *sync.Once
}

// New 创建 Dao，writeQueue 为 nil 时写操作直接在事务中执行
func New(db *gorm.DB, logger *zap.Logger, writeQueue *writequeue.Manager) *Dao {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dao{db: db, logger: logger, writeQueue: writeQueue}
}

// DB 返回底层 gorm 连接
func (d *Dao) DB() *gorm.DB {
	return d.db
}

// Logger 返回日志器
func (d *Dao) Logger() *zap.Logger {
	return d.logger
}

// Use returns a context bound session with the model migrated once
// Use 返回绑定 ctx 的会话，模型只迁移一次
func (d *Dao) Use(ctx context.Context, key string) *gorm.DB {
	d.migrate(key)
	return d.db.WithContext(ctx)
}

func (d *Dao) migrate(key string) {
	v, _ := d.migrated.LoadOrStore(key, &sync.Once{})
	v.(*sync.Once).Do(func() {
		if err := model.AutoMigrate(d.db, key); err != nil {
			d.logger.Error("auto migrate failed", zap.String("model", key), zap.Error(err))
		}
	})
}

// Migrate 立即迁移给定模型
func (d *Dao) Migrate(keys ...string) error {
	for _, key := range keys {
		if err := model.AutoMigrate(d.db, key); err != nil {
			return errors.Wrapf(err, "auto migrate %s", key)
		}
		once := &sync.Once{}
		once.Do(func() {})
		d.migrated.Store(key, once)
	}
	return nil
}

// ExecuteWrite runs fn in a transaction, serialized with every other write of the same group key
// ExecuteWrite 在事务中执行 fn，同一分组键的写操作串行执行
func (d *Dao) ExecuteWrite(ctx context.Context, groupKey, modelKey string, fn func(tx *gorm.DB) error) error {
	run := func() error {
		return d.Use(ctx, modelKey).Transaction(fn)
	}
	if d.writeQueue == nil {
		return run()
	}
	return d.writeQueue.Execute(ctx, groupKey, run)
}

// NewDBEngine 按配置打开数据库
func NewDBEngine(c DatabaseConfig, zl *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorOf(c)
	if err != nil {
		return nil, err
	}

	level := logger.Silent
	if c.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.TablePrefix, // 表名前缀，`SyncEvent` 的表名为 `cs_sync_event`
			SingularTable: true,          // 使用单数表名
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}

	if isSqlite(c.Type) {
		// sqlite 只允许一个写连接，避免 database is locked
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Minute * 10)

	if zl != nil {
		zl.Info("database opened", zap.String("type", c.Type), zap.String("name", databaseName(c)))
	}
	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isSqlite(t string) bool {
	return t == "" || strings.EqualFold(t, "sqlite")
}

func databaseName(c DatabaseConfig) string {
	if isSqlite(c.Type) {
		return c.Path
	}
	return c.Name
}

func dialectorOf(c DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(c.Type) {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=%s&parseTime=%t&loc=Local",
			c.UserName,
			c.Password,
			c.Host,
			c.Name,
			c.Charset,
			c.ParseTime,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			c.Host,
			c.UserName,
			c.Password,
			c.Name,
			c.Port,
			c.SSLMode,
		)), nil
	case "", "sqlite":
		if c.Path != ":memory:" {
			if dir := filepath.Dir(c.Path); !fileurl.IsExist(dir) {
				if err := fileurl.CreatePath(dir, os.ModePerm); err != nil {
					return nil, errors.Wrap(err, "create database dir")
				}
			}
		}
		return sqlite.Open(c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), nil
	}
	return nil, errors.Errorf("unsupported database type %q", c.Type)
}
