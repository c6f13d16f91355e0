package app

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// PaginationConfig pagination configuration // 分页配置
type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultPaginationConfig default pagination configuration // 默认分页配置
var DefaultPaginationConfig = PaginationConfig{
	DefaultPageSize: 20,
	MaxPageSize:     200,
}

func queryInt(c *gin.Context, key string) int {
	s, exist := c.GetQuery(key)
	if !exist {
		s = c.PostForm(key)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func GetPage(c *gin.Context) int {
	if page := queryInt(c, "page"); page > 0 {
		return page
	}
	return 1
}

// GetPageSizeWithConfig gets page size (using injected configuration)
// GetPageSizeWithConfig 获取分页大小（使用注入的配置）
func GetPageSizeWithConfig(c *gin.Context, cfg PaginationConfig) int {
	return ClampPageSize(queryInt(c, "pageSize"), cfg)
}

// GetPageSize gets page size (using default configuration)
// GetPageSize 获取分页大小（使用默认配置）
func GetPageSize(c *gin.Context) int {
	return GetPageSizeWithConfig(c, DefaultPaginationConfig)
}

// ClampPageSize applies default and max page size
// ClampPageSize 应用默认和最大分页大小
func ClampPageSize(pageSize int, cfg PaginationConfig) int {
	if pageSize <= 0 {
		return cfg.DefaultPageSize
	}
	if pageSize > cfg.MaxPageSize {
		return cfg.MaxPageSize
	}
	return pageSize
}

func GetPageOffset(page, pageSize int) int {
	result := 0
	if page > 0 {
		result = (page - 1) * pageSize
	}

	return result
}
