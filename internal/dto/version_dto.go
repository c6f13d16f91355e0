// Package dto defines data transfer objects (request parameters and response structs)
// Package dto 定义数据传输对象（请求参数和响应结构体）
package dto

import (
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
)

// TimeFormat 查询参数中的时间格式
const TimeFormat = time.RFC3339

// AuthorDTO 作者
type AuthorDTO struct {
	ID    string `json:"id" form:"id" binding:"required,max=128"`
	Name  string `json:"name" form:"name" binding:"max=255"`
	Email string `json:"email" form:"email" binding:"omitempty,email"`
}

// ToDomain 转换为领域对象
func (a AuthorDTO) ToDomain() domain.Author {
	return domain.Author{ID: a.ID, Name: a.Name, Email: a.Email}
}

// NewAuthorDTO 从领域对象构建
func NewAuthorDTO(a domain.Author) AuthorDTO {
	return AuthorDTO{ID: a.ID, Name: a.Name, Email: a.Email}
}

// VersionCreateRequest 新增版本请求，内容域取自路径
type VersionCreateRequest struct {
	TargetID        string         `json:"targetId" binding:"max=255"`
	Payload         domain.Payload `json:"payload" binding:"required"`
	Author          AuthorDTO      `json:"author"`
	Description     string         `json:"description" binding:"max=1000"`
	SessionID       string         `json:"sessionId" binding:"max=128"`
	ObservedVersion int64          `json:"observedVersion" binding:"gte=0"`
}

// ToDomain 转换为领域请求
func (r *VersionCreateRequest) ToDomain(d domain.ContentDomain) *domain.InsertVersionRequest {
	return &domain.InsertVersionRequest{
		Domain:          d,
		TargetID:        r.TargetID,
		Payload:         r.Payload,
		Author:          r.Author.ToDomain(),
		Description:     r.Description,
		SessionID:       r.SessionID,
		ObservedVersion: r.ObservedVersion,
	}
}

// VersionSetCurrentRequest 设置当前版本（回滚）请求
type VersionSetCurrentRequest struct {
	TargetID  string    `json:"targetId" binding:"max=255"`
	VersionID string    `json:"versionId" binding:"required,max=64"`
	Author    AuthorDTO `json:"author"`
	SessionID string    `json:"sessionId" binding:"max=128"`
}

// ToDomain 转换为领域请求
func (r *VersionSetCurrentRequest) ToDomain(d domain.ContentDomain) *domain.SetCurrentRequest {
	return &domain.SetCurrentRequest{
		Domain:    d,
		TargetID:  r.TargetID,
		VersionID: r.VersionID,
		Author:    r.Author.ToDomain(),
		SessionID: r.SessionID,
	}
}

// VersionListRequest 版本列表查询参数
// TargetID is nil when the query has no targetId key, an empty value selects the empty target
// 查询中没有 targetId 时 TargetID 为 nil，空值表示空目标
type VersionListRequest struct {
	TargetID *string   `form:"targetId" binding:"omitempty,max=255"`
	AuthorID string    `form:"authorId" binding:"max=128"`
	Since    time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Until    time.Time `form:"until" time_format:"2006-01-02T15:04:05Z07:00"`
	Current  bool      `form:"current"`
	Page     int       `form:"page" binding:"gte=0"`
	PageSize int       `form:"pageSize" binding:"gte=0"`
}

// ToDomain 转换为领域过滤条件
func (r *VersionListRequest) ToDomain(d domain.ContentDomain) *domain.VersionFilter {
	return &domain.VersionFilter{
		Domain:      d,
		TargetID:    r.TargetID,
		AuthorID:    r.AuthorID,
		Since:       r.Since,
		Until:       r.Until,
		CurrentOnly: r.Current,
		Page:        r.Page,
		PageSize:    r.PageSize,
	}
}

// EventListRequest 审计事件查询参数
type EventListRequest struct {
	Domain   string    `form:"domain" binding:"omitempty,content_domain"`
	TargetID *string   `form:"targetId" binding:"omitempty,max=255"`
	Action   string    `form:"action" binding:"omitempty,oneof=create update delete rollback"`
	Since    time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Until    time.Time `form:"until" time_format:"2006-01-02T15:04:05Z07:00"`
	Page     int       `form:"page" binding:"gte=0"`
	PageSize int       `form:"pageSize" binding:"gte=0"`
}

// ToDomain 转换为领域过滤条件
func (r *EventListRequest) ToDomain() *domain.EventFilter {
	return &domain.EventFilter{
		Domain:   domain.ContentDomain(r.Domain),
		TargetID: r.TargetID,
		Action:   domain.SyncAction(r.Action),
		Since:    r.Since,
		Until:    r.Until,
		Page:     r.Page,
		PageSize: r.PageSize,
	}
}

// Pager 分页信息
type Pager struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	TotalRows int `json:"totalRows"`
}

// ListData list response data
// ListData 列表响应的数据部分
type ListData[T any] struct {
	List  []T   `json:"list"`
	Pager Pager `json:"pager"`
}

// Envelope 统一响应结构
type Envelope[T any] struct {
	Code    int      `json:"code"`
	Status  bool     `json:"status"`
	Message string   `json:"message"`
	Data    T        `json:"data"`
	Details any      `json:"details,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status   string  `json:"status"`   // "healthy" 或 "unhealthy"
	Version  string  `json:"version"`  // 服务版本号
	Uptime   float64 `json:"uptime"`   // 运行时间（秒）
	Database string  `json:"database"` // "connected" 或 "error"
	Clients  int     `json:"clients"`  // 中继连接数
}
