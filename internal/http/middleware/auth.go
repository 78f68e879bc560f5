package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// CallerIDHeader carries the authenticated user id set by the upstream gateway.
	CallerIDHeader = "X-User-Id"
	AdminKeyHeader = "X-Admin-Key"

	callerKey = "caller_id"
)

// AdminKey guards the registration endpoints called by the external auth system.
// An empty key disables the check, which is only sensible in development.
func AdminKey(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if required == "" {
			c.Next()
			return
		}
		key := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(required)) != 1 {
			unauthorized(c, "Invalid admin key")
			return
		}
		c.Next()
	}
}

func CallerID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CallerIDHeader))
		if id == "" {
			unauthorized(c, "Missing caller identity")
			return
		}
		c.Set(callerKey, id)
		c.Next()
	}
}

// Caller returns the id stored by CallerID.
func Caller(c *gin.Context) string {
	return c.GetString(callerKey)
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
