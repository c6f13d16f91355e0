package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryWithLogger 创建带日志器的 Recovery 中间件
func RecoveryWithLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		defer func() {
			if r := recover(); r != nil {
				var errorMsg string
				fields := []zap.Field{
					zap.String(logger.FieldTraceID, GetTraceIDFromGin(c)),
					zap.String("router", path),
					zap.String("method", c.Request.Method),
					zap.String("query", query),
					zap.String("ip", c.ClientIP()),
					zap.String("stack", string(debug.Stack())),
				}
				switch v := r.(type) {
				case error:
					errorMsg = v.Error()
					log.Error("Recovered from panic", append(fields, zap.Error(v))...)
				case string:
					errorMsg = v
					log.Error("Recovered from panic", append(fields, zap.String("panic_value", v))...)
				default:
					// 其它类型的 panic
					log.Error("Recovered from unknown panic", append(fields, zap.String("panic_value", fmt.Sprintf("%v", v)))...)
				}

				app.NewResponse(c).ToResponse(code.ErrorServerInternal.WithDetails(errorMsg))
				c.Abort()
			}
		}()

		c.Next()
	}
}
