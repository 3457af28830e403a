package payments

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/gateway"
	"github.com/hackportal/backend/internal/middleware"
	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/response"
)

// API is the service surface the HTTP handler calls.
type API interface {
	CreateOrder(ctx context.Context, caller Caller, in CreateOrderInput) (*CreateOrderResult, error)
	CreatePaymentSession(ctx context.Context, caller Caller, orderID string, customer gateway.Customer) (*gateway.Session, error)
	VerifyPayment(ctx context.Context, caller Caller, in VerifyInput) (*VerifyResult, error)
	Get(ctx context.Context, caller Caller, id uuid.UUID) (*models.Payment, error)
	ListByTeam(ctx context.Context, caller Caller, teamID uuid.UUID) ([]models.Payment, error)
}

// SessionRequest is the body for POST /payments/orders/:orderId/session.
type SessionRequest struct {
	Customer gateway.Customer `json:"customer"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	api    API
	logger *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(api API, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{api: api, logger: logger}
}

// CreateOrder handles POST /payments/orders.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.api.CreateOrder(c.Request.Context(), caller(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Reused {
		response.OK(c, res)
		return
	}
	response.Created(c, res)
}

// CreateSession handles POST /payments/orders/:orderId/session.
func (h *Handler) CreateSession(c *gin.Context) {
	var req SessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	session, err := h.api.CreatePaymentSession(c.Request.Context(), caller(c), c.Param("orderId"), req.Customer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Verify handles POST /payments/verify.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.api.VerifyPayment(c.Request.Context(), caller(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Get handles GET /payments/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	p, err := h.api.Get(c.Request.Context(), caller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// ListByTeam handles GET /teams/:id/payments.
func (h *Handler) ListByTeam(c *gin.Context) {
	teamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return
	}
	list, err := h.api.ListByTeam(c.Request.Context(), caller(c), teamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

func caller(c *gin.Context) Caller {
	return Caller{UserID: middleware.UserID(c), Admin: middleware.IsAdmin(c)}
}
