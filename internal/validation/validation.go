// Package validation provides input validation middleware for the celfd API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

var (
	// accountIDRegex validates account identifiers issued by the app backend
	accountIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	// sessionIDRegex validates mining session identifiers (ses_ prefix from idgen)
	sessionIDRegex = regexp.MustCompile(`^ses_[A-Za-z0-9_-]{1,64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccountID checks if a string is a well-formed account ID
func IsValidAccountID(id string) bool {
	return accountIDRegex.MatchString(id)
}

// IsValidSessionID checks if a string is a well-formed session ID
func IsValidSessionID(id string) bool {
	return sessionIDRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// AccountParamMiddleware validates the :accountId URL parameter on routes
// that use it. Apply to route groups that include :accountId params to
// reject malformed IDs early. No-op when the param is absent.
func AccountParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("accountId")
		if id != "" && !IsValidAccountID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_account_id",
				"message": "accountId must be 1-64 alphanumeric, dash, or underscore characters",
			})
			return
		}
		c.Next()
	}
}

// SessionParamMiddleware validates the :sessionId URL parameter.
func SessionParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if id != "" && !IsValidSessionID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_session_id",
				"message": "sessionId must start with ses_ followed by 1-64 alphanumeric characters",
			})
			return
		}
		c.Next()
	}
}
