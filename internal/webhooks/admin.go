package webhooks

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/response"
)

// EventReader loads recorded deliveries.
type EventReader interface {
	Get(ctx context.Context, eventID string) (*models.WebhookEvent, error)
}

// Presigner issues temporary download URLs for archived bodies.
type Presigner interface {
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
	PresignExpire() time.Duration
}

// AdminHandler serves operator views of recorded webhooks.
type AdminHandler struct {
	events    EventReader
	presigner Presigner
	logger    *zap.Logger
}

// NewAdminHandler creates the admin handler. presigner may be nil when archiving is off.
func NewAdminHandler(events EventReader, presigner Presigner, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{events: events, presigner: presigner, logger: logger}
}

// RawURL handles GET /admin/webhooks/:id/raw.
func (h *AdminHandler) RawURL(c *gin.Context) {
	if h.presigner == nil {
		response.ServiceUnavailable(c, "webhook archive is not configured")
		return
	}
	e, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("load webhook event failed", zap.Error(err))
		response.Internal(c, "failed to load webhook event")
		return
	}
	if e == nil {
		response.NotFound(c, "webhook event not found")
		return
	}
	if e.ArchiveKey == "" {
		response.NotFound(c, "webhook body was not archived")
		return
	}
	url, err := h.presigner.PresignedDownloadURL(c.Request.Context(), e.ArchiveKey)
	if err != nil {
		h.logger.Error("presign webhook archive failed", zap.Error(err), zap.String("key", e.ArchiveKey))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{
		"event":      e,
		"url":        url,
		"expires_in": int(h.presigner.PresignExpire().Seconds()),
	})
}
