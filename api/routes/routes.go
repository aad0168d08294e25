package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/docsession/uploader/api/handlers"
	"github.com/docsession/uploader/api/middleware"
	cfg "github.com/docsession/uploader/config"
)

// SetupRoutes wires the middleware stack and the session endpoints.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, config *cfg.ServerConfig) {
	r.Use(middleware.CORS(config.AllowedOrigins))
	r.Use(middleware.DevIdentity())

	r.GET("/health", handlers.Health)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.CSRF(config.CSRFToken))

	sessions := v1.Group("/sessions")
	{
		sessions.POST("/:sessionId/upload", h.Session.Upload)
		sessions.POST("/:sessionId/upload-chunk", h.Session.UploadChunk)
		sessions.POST("/:sessionId/finalize-upload", h.Session.FinalizeUpload)
		sessions.GET("/:sessionId/status", h.Session.GetStatus)
		sessions.GET("/files/recent", h.Session.RecentFiles)
	}
}
