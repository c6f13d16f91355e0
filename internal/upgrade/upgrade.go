// Package upgrade applies versioned data migrations after the schema is migrated
// Package upgrade 在表结构迁移之后执行按版本号管理的数据升级
package upgrade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"gorm.io/gorm"
)

// defaultReference 没有参考版本文件时的基准版本，所有升级都会被检查
const defaultReference = "v0.0.0"

// SchemaVersion 数据库版本记录表
type SchemaVersion struct {
	ID          int       `gorm:"primaryKey;autoIncrement" json:"id"`
	Version     string    `gorm:"not null;uniqueIndex;type:varchar(64)" json:"version"`
	Description string    `gorm:"type:text" json:"description"`
	AppliedAt   time.Time `gorm:"not null" json:"applied_at"`
}

// TableName 指定表名
func (SchemaVersion) TableName() string {
	return "schema_version"
}

// Migration 定义升级接口
type Migration interface {
	Version() string
	Description() string
	Up(ctx context.Context, db *gorm.DB) error
}

// MigrationManager 升级管理器
type MigrationManager struct {
	db         *gorm.DB
	logger     *zap.Logger
	running    string
	refFile    string
	migrations []Migration
}

// NewMigrationManager 创建升级管理器
// running 为当前程序版本，refFile 记录上一次运行的版本
func NewMigrationManager(db *gorm.DB, logger *zap.Logger, running, refFile string) *MigrationManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationManager{
		db:      db,
		logger:  logger,
		running: canonical(running),
		refFile: refFile,
		migrations: []Migration{
			// 在这里注册所有的升级脚本
			&AuthorNameBackfill{},
			&CurrentPointerMigrate{},
		},
	}
}

// canonical 补全 semver 需要的 v 前缀
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// Run 执行升级，返回本次应用的升级数量
func (m *MigrationManager) Run(ctx context.Context) (int, error) {
	// 确保 schema_version 表存在
	if err := m.db.WithContext(ctx).AutoMigrate(&SchemaVersion{}); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	lastVersion := m.referenceVersion()
	if !semver.IsValid(lastVersion) {
		m.logger.Warn("reference version is not a valid semver, checking every migration", zap.String("lastVersion", lastVersion))
		lastVersion = defaultReference
	}

	// 当前版本不比上次运行的版本新，跳过
	if semver.IsValid(m.running) && semver.Compare(m.running, lastVersion) <= 0 {
		m.logger.Info("skipping upgrade", zap.String("runningVersion", m.running), zap.String("lastVersion", lastVersion))
		return 0, nil
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get applied versions: %w", err)
	}

	executed := 0
	for _, migration := range m.migrations {
		scriptVersion := canonical(migration.Version())

		// 比较版本: 如果 migration.Version <= lastVersion, 则跳过
		if semver.Compare(scriptVersion, lastVersion) <= 0 {
			continue
		}
		// 比当前程序更新的升级脚本不执行
		if semver.IsValid(m.running) && semver.Compare(scriptVersion, m.running) > 0 {
			continue
		}
		if applied[scriptVersion] {
			continue
		}

		m.logger.Info("applying migration",
			zap.String("scriptVersion", scriptVersion),
			zap.String("desc", migration.Description()))

		// 在事务中执行升级
		if err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(ctx, tx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			return tx.Create(&SchemaVersion{
				Version:     scriptVersion,
				Description: migration.Description(),
				AppliedAt:   time.Now(),
			}).Error
		}); err != nil {
			return executed, fmt.Errorf("failed to apply migration %s: %w", scriptVersion, err)
		}
		executed++
	}

	if executed == 0 {
		m.logger.Info("database is already up to date")
	} else {
		m.logger.Info("upgrade completed", zap.Int("migrations_applied", executed))
	}

	// 当前版本写入参考文件，作为下一次运行的基准
	if semver.IsValid(m.running) {
		if err := m.saveReferenceVersion(m.running); err != nil {
			m.logger.Error("save lastVersion failed", zap.Error(err))
		}
	}
	return executed, nil
}

func (m *MigrationManager) appliedVersions(ctx context.Context) (map[string]bool, error) {
	var versions []SchemaVersion
	if err := m.db.WithContext(ctx).Find(&versions).Error; err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[canonical(v.Version)] = true
	}
	return applied, nil
}

// referenceVersion 读取参考版本号，文件不存在或为空时返回 v0.0.0
func (m *MigrationManager) referenceVersion() string {
	if m.refFile == "" {
		return defaultReference
	}
	content, err := os.ReadFile(m.refFile)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("read lastVersion failed", zap.String("file", m.refFile), zap.Error(err))
		}
		return defaultReference
	}
	ver := canonical(string(content))
	if ver == "" {
		return defaultReference
	}
	return ver
}

func (m *MigrationManager) saveReferenceVersion(version string) error {
	if m.refFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.refFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.refFile, []byte(version), 0o644)
}
