package model

import "time"

// ContentVersion 内容版本记录
// (domain, target_id, version_number) is unique, version numbers never collide inside a group
type ContentVersion struct {
	ID                string    `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	Domain            string    `gorm:"column:domain;type:varchar(32);not null;uniqueIndex:uk_group_version,priority:1;index:idx_group_current,priority:1" json:"domain"`
	TargetID          string    `gorm:"column:target_id;type:varchar(191);not null;default:'';uniqueIndex:uk_group_version,priority:2;index:idx_group_current,priority:2" json:"targetId"`
	VersionNumber     int64     `gorm:"column:version_number;not null;uniqueIndex:uk_group_version,priority:3" json:"versionNumber"`
	Payload           string    `gorm:"column:payload;type:text;not null" json:"payload"`
	IsCurrent         bool      `gorm:"column:is_current;not null;default:false;index:idx_group_current,priority:3" json:"isCurrent"`
	AuthorID          string    `gorm:"column:author_id;type:varchar(191);index" json:"authorId"`
	AuthorName        string    `gorm:"column:author_name;type:varchar(255)" json:"authorName"`
	AuthorEmail       string    `gorm:"column:author_email;type:varchar(255)" json:"authorEmail"`
	ChangeDescription string    `gorm:"column:change_description;type:text" json:"changeDescription"`
	EventID           string    `gorm:"column:event_id;type:varchar(36)" json:"eventId"`
	SessionID         string    `gorm:"column:session_id;type:varchar(191)" json:"sessionId"`
	CreatedAt         time.Time `gorm:"column:created_at;index" json:"createdAt"`
}
