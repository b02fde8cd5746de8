package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"jobtracker-backend/internal/shared/server/respond"
)

const (
	userIDKey = "userId"

	// UserIDHeader carries the caller identity set by the upstream gateway.
	UserIDHeader = "X-User-Id"

	maxUserIDLen = 128
)

// Identity stores the trusted caller id from UserIDHeader in the context.
// Paths listed in public skip the check. Ids are used in cache keys and
// object paths, so only printable ASCII without spaces is accepted.
func Identity(public ...string) gin.HandlerFunc {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if _, ok := open[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "missing identity", nil)
			return
		}
		if !validUserID(userID) {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid "+UserIDHeader+" header", nil)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func validUserID(id string) bool {
	if len(id) > maxUserIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// UserIDFromContext fetches the user ID set by the Identity middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
