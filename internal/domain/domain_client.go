package domain

import "time"

// MirrorEntry last known good snapshot of one (domain, subKey), unversioned
// MirrorEntry 某个 (domain, subKey) 的最近一次已知良好快照，无版本
type MirrorEntry struct {
	Domain ContentDomain
	SubKey string
	// Payload stored bytes, not yet validated
	// Payload 存储的字节，尚未校验
	Payload   Payload
	UpdatedAt time.Time
}

// PendingSave a write accepted locally but not yet durable remotely, one per group
// PendingSave 本地已接受但远端尚未持久化的写入，每个分组一条
type PendingSave struct {
	Domain      ContentDomain `json:"domain"`
	TargetID    string        `json:"targetId"`
	Payload     Payload       `json:"payload"`
	Author      Author        `json:"author"`
	Description string        `json:"description"`
	Reason      string        `json:"reason"`
	Attempts    int           `json:"attempts"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Group 返回所属分组
func (p *PendingSave) Group() GroupKey {
	return GroupKey{Domain: p.Domain, TargetID: p.TargetID}
}

// StagedEdit an unpublished local edit, one per group
// StagedEdit 未发布的本地编辑，每个分组一条
type StagedEdit struct {
	Domain      ContentDomain `json:"domain"`
	TargetID    string        `json:"targetId"`
	Payload     Payload       `json:"payload"`
	Description string        `json:"description"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Group 返回所属分组
func (s *StagedEdit) Group() GroupKey {
	return GroupKey{Domain: s.Domain, TargetID: s.TargetID}
}
