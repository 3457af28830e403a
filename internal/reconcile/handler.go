package reconcile

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hackportal/backend/pkg/response"
)

// Handler exposes an on-demand sweep to admins.
type Handler struct {
	sweeper *Sweeper
	logger  *zap.Logger
}

// NewHandler creates the reconcile handler.
func NewHandler(sweeper *Sweeper, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sweeper: sweeper, logger: logger}
}

// Run handles POST /admin/payments/reconcile.
func (h *Handler) Run(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error("on-demand reconciliation failed", zap.Error(err))
		response.Internal(c, "reconciliation failed")
		return
	}
	response.OK(c, report)
}
