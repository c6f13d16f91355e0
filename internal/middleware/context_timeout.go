package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// ContextTimeout bounds the request context; a handler that ran out of time without writing
// gets a request timeout response
// ContextTimeout 限制请求上下文的时长；超时且未写响应的请求返回请求超时
func ContextTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			app.NewResponse(c).ToResponse(code.ErrorRequestTimeout)
		}
	}
}
