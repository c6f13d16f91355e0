package model

import "time"

// MirrorEntry 本地镜像条目，每个 (domain, sub_key) 一条
type MirrorEntry struct {
	Domain    string    `gorm:"column:domain;primaryKey;type:varchar(32)" json:"domain"`
	SubKey    string    `gorm:"column:sub_key;primaryKey;type:varchar(191);default:''" json:"subKey"`
	Payload   string    `gorm:"column:payload;type:text" json:"payload"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// PendingSave 待同步保存，每个分组一条
type PendingSave struct {
	Domain      string    `gorm:"column:domain;primaryKey;type:varchar(32)" json:"domain"`
	TargetID    string    `gorm:"column:target_id;primaryKey;type:varchar(191);default:''" json:"targetId"`
	Payload     string    `gorm:"column:payload;type:text" json:"payload"`
	AuthorID    string    `gorm:"column:author_id" json:"authorId"`
	AuthorName  string    `gorm:"column:author_name" json:"authorName"`
	AuthorEmail string    `gorm:"column:author_email" json:"authorEmail"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	Reason      string    `gorm:"column:reason;type:text" json:"reason"`
	Attempts    int       `gorm:"column:attempts" json:"attempts"`
	CreatedAt   time.Time `gorm:"column:created_at;index" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// StagedEdit 暂存编辑，每个分组一条
type StagedEdit struct {
	Domain      string    `gorm:"column:domain;primaryKey;type:varchar(32)" json:"domain"`
	TargetID    string    `gorm:"column:target_id;primaryKey;type:varchar(191);default:''" json:"targetId"`
	Payload     string    `gorm:"column:payload;type:text" json:"payload"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updatedAt"`
}
