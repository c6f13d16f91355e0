// Package service implements the business logic layer
// Package service 实现业务逻辑层
package service

// ServiceConfig service layer configuration
// ServiceConfig 服务层配置
type ServiceConfig struct {
	MaxPayloadBytes int // Largest accepted payload, 0 means unlimited // 允许的最大内容字节数，0 表示不限制
	MaxPageSize     int // Upper bound of list page size // 列表分页大小上限
}

// DefaultServiceConfig 默认服务配置
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{MaxPayloadBytes: 1 << 20, MaxPageSize: 200}
}
