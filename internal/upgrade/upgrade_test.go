package upgrade

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "upgrade.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ContentVersion{}, &model.SyncEvent{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func version(id string, n int64, current bool, author string) *model.ContentVersion {
	return &model.ContentVersion{
		ID:            id,
		Domain:        "properties",
		TargetID:      "villa-1",
		VersionNumber: n,
		Payload:       `{}`,
		IsCurrent:     current,
		AuthorID:      author,
		CreatedAt:     time.Now(),
	}
}

func TestMigrationManager_Run(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Create([]*model.ContentVersion{
		version("a", 1, true, "alice"),
		version("b", 2, true, "bob"),
		version("c", 3, false, "bob"),
	}).Error)

	ref := filepath.Join(t.TempDir(), "config", "lastVersion")
	m := NewMigrationManager(db, zap.NewNop(), "0.3.0", ref)

	n, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var rows []model.ContentVersion
	require.NoError(t, db.Order("version_number").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.False(t, rows[0].IsCurrent)
	assert.False(t, rows[1].IsCurrent)
	assert.True(t, rows[2].IsCurrent)
	assert.Equal(t, "alice", rows[0].AuthorName)

	var applied []SchemaVersion
	require.NoError(t, db.Find(&applied).Error)
	assert.Len(t, applied, 2)

	raw, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "v0.3.0", string(raw))

	// 版本未变化时跳过
	n, err = m.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrationManager_SkipsOlderAndNewerScripts(t *testing.T) {
	db := openDB(t)
	ref := filepath.Join(t.TempDir(), "lastVersion")
	require.NoError(t, os.WriteFile(ref, []byte("0.2.0\n"), 0o644))

	// 0.2.0 已运行过，0.3.0 比当前程序新
	n, err := NewMigrationManager(db, nil, "v0.2.5", ref).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = NewMigrationManager(db, nil, "v0.3.0", ref).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrationManager_AppliedOnce(t *testing.T) {
	db := openDB(t)
	n, err := NewMigrationManager(db, nil, "0.3.0", "").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 没有参考文件时依赖 schema_version 记录避免重复执行
	n, err = NewMigrationManager(db, nil, "0.3.0", "").Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
