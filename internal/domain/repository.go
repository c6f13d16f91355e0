// Package domain 定义领域模型和接口
package domain

import "context"

// RemoteStore authoritative remote persistence of versioned records and the audit log
// RemoteStore 版本记录与审计日志的权威远端存储
// Implemented by the server service and by the HTTP client.
// 由服务端 service 与 HTTP 客户端分别实现。
type RemoteStore interface {
	// InsertVersion 分配 max+1 版本号并设为当前版本，同时追加审计事件
	InsertVersion(ctx context.Context, req *InsertVersionRequest) (*VersionRecord, error)

	// ListVersions 按条件分页查询版本，按版本号倒序
	ListVersions(ctx context.Context, filter *VersionFilter) ([]*VersionRecord, int64, error)

	// SetCurrent 将指定版本设为当前版本（回滚），同时追加审计事件
	SetCurrent(ctx context.Context, req *SetCurrentRequest) (*VersionRecord, error)

	// ListEvents 分页查询审计事件，按时间倒序
	ListEvents(ctx context.Context, filter *EventFilter) ([]*SyncEvent, int64, error)
}

// VersionRepository 服务端版本仓储接口
type VersionRepository interface {
	// Insert inserts version max+1 as current and appends its audit event in one transaction
	// Insert 在一个事务内插入 max+1 版本为当前版本并追加审计事件
	Insert(ctx context.Context, req *InsertVersionRequest, eventID string) (*VersionRecord, *SyncEvent, error)

	// SetCurrent flips the current pointer and appends a rollback event in one transaction
	// SetCurrent 在一个事务内翻转当前版本指针并追加回滚事件
	SetCurrent(ctx context.Context, req *SetCurrentRequest, eventID string) (*VersionRecord, *SyncEvent, error)

	// GetByID 根据ID获取版本
	GetByID(ctx context.Context, id string) (*VersionRecord, error)

	// List 按条件分页查询
	List(ctx context.Context, filter *VersionFilter) ([]*VersionRecord, error)

	// Count 按条件计数
	Count(ctx context.Context, filter *VersionFilter) (int64, error)

	// RepairCurrent restores exactly one current record per non empty group, returns repaired group count
	// RepairCurrent 恢复每个非空分组恰好一条当前记录，返回修复的分组数
	RepairCurrent(ctx context.Context) (int, error)
}

// SyncEventRepository 审计事件仓储接口
type SyncEventRepository interface {
	// List 按条件分页查询
	List(ctx context.Context, filter *EventFilter) ([]*SyncEvent, error)

	// Count 按条件计数
	Count(ctx context.Context, filter *EventFilter) (int64, error)
}

// MirrorRepository 客户端本地镜像仓储接口
type MirrorRepository interface {
	// Get 获取镜像条目，不存在时返回 ErrNotFound
	Get(ctx context.Context, d ContentDomain, subKey string) (*MirrorEntry, error)

	// Upsert 覆盖写入
	Upsert(ctx context.Context, entry *MirrorEntry) error

	// Delete 删除条目
	Delete(ctx context.Context, d ContentDomain, subKey string) error

	// List 列出所有条目
	List(ctx context.Context) ([]*MirrorEntry, error)
}

// PendingSaveRepository 客户端待同步保存仓储接口
type PendingSaveRepository interface {
	// Get 获取分组的待同步保存，不存在时返回 ErrNotFound
	Get(ctx context.Context, group GroupKey) (*PendingSave, error)

	// Upsert 每个分组最后写入者获胜
	Upsert(ctx context.Context, p *PendingSave) error

	// Delete 删除分组的待同步保存
	Delete(ctx context.Context, group GroupKey) error

	// List 按创建时间列出
	List(ctx context.Context) ([]*PendingSave, error)
}

// StagedEditRepository 客户端暂存编辑仓储接口
type StagedEditRepository interface {
	// Get 获取分组的暂存编辑，不存在时返回 ErrNotFound
	Get(ctx context.Context, group GroupKey) (*StagedEdit, error)

	// Upsert 覆盖写入
	Upsert(ctx context.Context, s *StagedEdit) error

	// Delete 删除分组的暂存编辑
	Delete(ctx context.Context, group GroupKey) error

	// DeleteIfUnchanged removes the edit only while payload and description still match s
	// DeleteIfUnchanged 仅当内容与描述仍与 s 一致时删除，返回是否删除
	DeleteIfUnchanged(ctx context.Context, s *StagedEdit) (bool, error)

	// List 按内容域和目标排序列出
	List(ctx context.Context) ([]*StagedEdit, error)
}
