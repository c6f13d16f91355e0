// Package model 定义数据模型
package model

import (
	"gorm.io/gorm"
)

// Server tables // 服务端数据表
const (
	KeyContentVersion = "ContentVersion"
	KeySyncEvent      = "SyncEvent"
)

// Client tables // 客户端数据表
const (
	KeyMirrorEntry = "MirrorEntry"
	KeyPendingSave = "PendingSave"
	KeyStagedEdit  = "StagedEdit"
)

// ServerKeys 服务端需要迁移的模型
func ServerKeys() []string {
	return []string{KeyContentVersion, KeySyncEvent}
}

// ClientKeys 客户端需要迁移的模型
func ClientKeys() []string {
	return []string{KeyMirrorEntry, KeyPendingSave, KeyStagedEdit}
}

// AutoMigrate migrates the model named by key
// AutoMigrate 迁移 key 对应的模型
func AutoMigrate(db *gorm.DB, key string) error {
	switch key {
	case KeyContentVersion:
		return db.AutoMigrate(&ContentVersion{})
	case KeySyncEvent:
		return db.AutoMigrate(&SyncEvent{})
	case KeyMirrorEntry:
		return db.AutoMigrate(&MirrorEntry{})
	case KeyPendingSave:
		return db.AutoMigrate(&PendingSave{})
	case KeyStagedEdit:
		return db.AutoMigrate(&StagedEdit{})
	}
	return nil
}
