package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/docsession/uploader/internal/transport"
)

// ContextDevUser is the gin context key holding the development identity.
const ContextDevUser = "devUser"

// DevIdentity lifts the development-only identity header into the request
// context so handlers and access logs can attribute uploads.
func DevIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := c.GetHeader(transport.HeaderDevUser); user != "" {
			c.Set(ContextDevUser, user)
		}
		c.Next()
	}
}
