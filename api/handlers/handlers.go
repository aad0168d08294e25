package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docsession/uploader/internal/session"
	"github.com/docsession/uploader/pkg/logger"
)

type Handlers struct {
	Session *SessionHandler
}

func NewHandlers(
	sessionService *session.Service,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Session: NewSessionHandler(sessionService, logger),
	}
}

// Health answers liveness probes.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
