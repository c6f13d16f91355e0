package model

import "time"

// SyncEvent 同步审计事件，只追加
type SyncEvent struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	Domain        string    `gorm:"column:domain;type:varchar(32);not null;index:idx_event_group,priority:1" json:"domain"`
	Action        string    `gorm:"column:action;type:varchar(16);not null" json:"action"`
	TargetID      string    `gorm:"column:target_id;type:varchar(191);not null;default:'';index:idx_event_group,priority:2" json:"targetId"`
	VersionNumber int64     `gorm:"column:version_number" json:"versionNumber"`
	VersionID     string    `gorm:"column:version_id;type:varchar(36)" json:"versionId"`
	AuthorID      string    `gorm:"column:author_id;type:varchar(191)" json:"authorId"`
	AuthorName    string    `gorm:"column:author_name;type:varchar(255)" json:"authorName"`
	AuthorEmail   string    `gorm:"column:author_email;type:varchar(255)" json:"authorEmail"`
	Description   string    `gorm:"column:description;type:text" json:"description"`
	Payload       string    `gorm:"column:payload;type:text" json:"payload"`
	SessionID     string    `gorm:"column:session_id;type:varchar(191)" json:"sessionId"`
	CreatedAt     time.Time `gorm:"column:created_at;index" json:"createdAt"`
}
