package domain

import "time"

// Author 修改作者
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// VersionStatus whether the record is durable on the remote store
// VersionStatus 记录是否已在远端持久化
type VersionStatus string

const (
	StatusConfirmed VersionStatus = "confirmed"
	StatusPending   VersionStatus = "pending"
)

// VersionRecord 一条版本记录
// Records are immutable once created, only IsCurrent flips.
// 记录创建后不可变，只有 IsCurrent 会翻转。
type VersionRecord struct {
	ID                string        `json:"id"`
	Domain            ContentDomain `json:"domain"`
	TargetID          string        `json:"targetId"`
	VersionNumber     int64         `json:"versionNumber"`
	Payload           Payload       `json:"payload"`
	IsCurrent         bool          `json:"isCurrent"`
	Author            Author        `json:"author"`
	ChangeDescription string        `json:"changeDescription"`
	CreatedAt         time.Time     `json:"createdAt"`
	Status            VersionStatus `json:"status"`
	PendingReason     string        `json:"pendingReason,omitempty"`
	EventID           string        `json:"eventId,omitempty"`
}

// Group 返回记录所属分组
func (r *VersionRecord) Group() GroupKey {
	return GroupKey{Domain: r.Domain, TargetID: r.TargetID}
}

// IsPending 是否尚未在远端持久化
func (r *VersionRecord) IsPending() bool {
	return r.Status == StatusPending
}

// SyncAction 同步事件动作
type SyncAction string

const (
	ActionCreate   SyncAction = "create"
	ActionUpdate   SyncAction = "update"
	ActionDelete   SyncAction = "delete"
	ActionRollback SyncAction = "rollback"
)

// Valid 是否为已知动作
func (a SyncAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionRollback:
		return true
	}
	return false
}

// SyncEvent 同步审计事件，只追加不删除
type SyncEvent struct {
	ID            string        `json:"id"`
	Domain        ContentDomain `json:"domain"`
	Action        SyncAction    `json:"action"`
	TargetID      string        `json:"targetId"`
	VersionNumber int64         `json:"versionNumber"`
	VersionID     string        `json:"versionId"`
	Author        Author        `json:"author"`
	Description   string        `json:"description"`
	Payload       Payload       `json:"payload,omitempty"`
	SessionID     string        `json:"sessionId"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Group 返回事件所属分组
func (e *SyncEvent) Group() GroupKey {
	return GroupKey{Domain: e.Domain, TargetID: e.TargetID}
}

// InsertVersionRequest 新增版本请求
type InsertVersionRequest struct {
	Domain      ContentDomain `json:"domain"`
	TargetID    string        `json:"targetId"`
	Payload     Payload       `json:"payload"`
	Author      Author        `json:"author"`
	Description string        `json:"description"`
	SessionID   string        `json:"sessionId"`
	// ObservedVersion current version the writer saw, 0 when unknown
	// ObservedVersion 写入方看到的当前版本，未知时为 0
	ObservedVersion int64 `json:"observedVersion"`
}

// SetCurrentRequest 设置当前版本（回滚）请求
type SetCurrentRequest struct {
	Domain    ContentDomain `json:"domain"`
	TargetID  string        `json:"targetId"`
	VersionID string        `json:"versionId"`
	Author    Author        `json:"author"`
	SessionID string        `json:"sessionId"`
}

// VersionFilter 版本查询条件
type VersionFilter struct {
	Domain ContentDomain
	// TargetID nil matches every target of the domain
	// TargetID 为 nil 时匹配该内容域的所有目标
	TargetID    *string
	AuthorID    string
	Since       time.Time
	Until       time.Time
	CurrentOnly bool
	Page        int
	PageSize    int
}

// EventFilter 审计事件查询条件
type EventFilter struct {
	Domain   ContentDomain
	TargetID *string
	Action   SyncAction
	Since    time.Time
	Until    time.Time
	Page     int
	PageSize int
}

// Target helper for filters
// Target 构造过滤条件中的目标指针
func Target(id string) *string {
	return &id
}

// ChangeEvent describes a confirmed record as a relay event of sessionID
// ChangeEvent 将已确认的记录描述为 sessionID 发出的中继事件
func (r *VersionRecord) ChangeEvent(action SyncAction, sessionID string) *SyncEvent {
	return &SyncEvent{
		ID:            r.EventID,
		Domain:        r.Domain,
		Action:        action,
		TargetID:      r.TargetID,
		VersionNumber: r.VersionNumber,
		VersionID:     r.ID,
		Author:        r.Author,
		Description:   r.ChangeDescription,
		Payload:       r.Payload,
		SessionID:     sessionID,
		CreatedAt:     r.CreatedAt,
	}
}

// Record rebuilds the record an event announces, used when the authoritative pull fails
// Record 还原事件所描述的记录，用于权威拉取失败时
func (e *SyncEvent) Record() *VersionRecord {
	return &VersionRecord{
		ID:                e.VersionID,
		Domain:            e.Domain,
		TargetID:          e.TargetID,
		VersionNumber:     e.VersionNumber,
		Payload:           e.Payload,
		IsCurrent:         true,
		Author:            e.Author,
		ChangeDescription: e.Description,
		CreatedAt:         e.CreatedAt,
		Status:            StatusConfirmed,
		EventID:           e.ID,
	}
}
