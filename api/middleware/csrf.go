package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docsession/uploader/internal/transport"
)

// CSRF enforces the page-metadata token on mutating requests. An empty
// configured token disables the check.
func CSRF(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if c.GetHeader(transport.HeaderCSRFToken) != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"message": "Invalid or missing CSRF token",
			})
			return
		}
		c.Next()
	}
}
