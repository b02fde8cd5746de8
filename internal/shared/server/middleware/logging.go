package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobtracker-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	ApplicationIDKey = "applicationId"
	ResumeIDKey      = "resumeId"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
		}
		if userID := UserIDFromContext(c); userID != "" {
			fields["user_id"] = userID
		}
		if id := c.GetString(ApplicationIDKey); id != "" {
			fields["application_id"] = id
		}
		if id := c.GetString(ResumeIDKey); id != "" {
			fields["resume_id"] = id
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		telemetry.Info("request.complete", fields)
	}
}
