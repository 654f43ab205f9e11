// Package validation provides input validation middleware for the wallet API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// addressRegex validates recipient addresses
	addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// identityIDRegex validates identity identifiers (did-style or opaque IDs)
	identityIDRegex = regexp.MustCompile(`^[a-zA-Z0-9:_-]{1,128}$`)
	// pluginIDRegex validates plugin identifiers
	pluginIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress checks if a string is a valid recipient address
func IsValidAddress(addr string) bool {
	return addressRegex.MatchString(addr)
}

// IsValidIdentityID checks if a string is a well-formed identity ID
func IsValidIdentityID(id string) bool {
	return identityIDRegex.MatchString(id)
}

// IsValidPluginID checks if a string is a well-formed plugin ID
func IsValidPluginID(id string) bool {
	return pluginIDRegex.MatchString(id)
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

// IdentityParamMiddleware validates the :identityId URL parameter on routes
// that use it. Apply to route groups to reject malformed IDs early.
func IdentityParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("identityId")
		if id != "" && !IsValidIdentityID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_identity_id",
				"message": "identityId contains invalid characters",
			})
			return
		}
		c.Next()
	}
}

// PluginParamMiddleware validates the :pluginId URL parameter.
func PluginParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("pluginId")
		if id != "" && !IsValidPluginID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_plugin_id",
				"message": "pluginId must be lowercase alphanumeric with ._- separators",
			})
			return
		}
		c.Next()
	}
}
