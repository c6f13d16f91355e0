package middleware

import (
	"github.com/haierkeys/fast-content-sync-service/pkg/app"

	"github.com/gin-gonic/gin"
)

// AppInfoWithConfig 在上下文中记录服务名称与版本
func AppInfoWithConfig(name, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("app_name", name)
		c.Set("app_version", version)
		c.Set("access_host", app.GetAccessHost(c))
		c.Header("X-Server-Version", version)

		c.Next()
	}
}
