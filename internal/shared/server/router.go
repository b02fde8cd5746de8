package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jobtracker-backend/internal/applications"
	"jobtracker-backend/internal/resumes"
	"jobtracker-backend/internal/services/health"
	"jobtracker-backend/internal/shared/config"
	"jobtracker-backend/internal/shared/metrics"
	"jobtracker-backend/internal/shared/server/middleware"
	"jobtracker-backend/internal/shared/server/respond"
)

const (
	healthPath  = "/api/v1/health"
	metricsPath = "/metrics"
)

// RouterDeps contains the handlers and services the router wires together.
type RouterDeps struct {
	Config              config.Config
	Health              *health.Service
	ApplicationsHandler *applications.Handler
	ResumesHandler      *resumes.Handler
	// RateLimiter is shared by the create and upload routes. Nil builds one.
	RateLimiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Identity(healthPath, metricsPath),
	)

	r.GET(metricsPath, metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil)
	}
	var createLimit, uploadLimit gin.HandlerFunc
	if deps.Config.RateLimitPerMinute > 0 {
		rule := middleware.PerMinute(deps.Config.RateLimitPerMinute)
		createLimit = middleware.RateLimit(limiter, "applications.create", rule)
		uploadLimit = middleware.RateLimit(limiter, "resumes.create", rule)
	}

	if h := deps.ApplicationsHandler; h != nil {
		h.CreateLimit = createLimit
		h.RegisterRoutes(api)
	}
	if h := deps.ResumesHandler; h != nil {
		h.UploadLimit = uploadLimit
		h.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
