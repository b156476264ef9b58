package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

// Recovery returns a middleware that recovers from panics.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.WithContext(c.Request.Context()).Error("panic recovered",
					observability.String("path", c.Request.URL.Path),
					observability.String("method", c.Request.Method),
					observability.Any("error", rec),
					observability.String("stack", string(debug.Stack())),
				)

				err := util.NewInternalError(fmt.Errorf("panic: %v", rec))
				_ = c.Error(err)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(util.Failure(err))
			}
		}()

		c.Next()
	}
}
