package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"jobtracker-backend/internal/shared/metrics"
	"jobtracker-backend/internal/shared/server/respond"
	"jobtracker-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 internal_error. Headers already
// sent cannot be replaced, so the connection is only aborted in that case.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			metrics.IncHTTPPanics()
			telemetry.Error("http.panic", map[string]any{
				"request_id": RequestIDFromContext(c),
				"user_id":    UserIDFromContext(c),
				"route":      c.FullPath(),
				"method":     c.Request.Method,
				"error":      rec,
				"stack":      string(debug.Stack()),
			})
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "unexpected server error", nil)
		}()
		c.Next()
	}
}
