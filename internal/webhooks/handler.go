package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/signature"
)

// Gateway headers.
const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"
)

const (
	defaultMaxBodyBytes = 1 << 20
	processTimeout      = 30 * time.Second
)

// Archiver stores verified raw bodies.
type Archiver interface {
	PutWebhook(ctx context.Context, eventID string, receivedAt time.Time, body []byte) (string, error)
}

// EventLog records processed deliveries.
type EventLog interface {
	Record(ctx context.Context, e *models.WebhookEvent) error
}

// Options configures the webhook endpoint. Dedupe, Archive and Events are optional.
type Options struct {
	Secret       string
	MaxBodyBytes int64
	Dedupe       Deduper
	Archive      Archiver
	Events       EventLog
}

// Handler is the inbound webhook HTTP endpoint.
type Handler struct {
	router *Router
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates the webhook endpoint handler.
func NewHandler(router *Router, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{router: router, opts: opts, logger: logger, now: time.Now}
}

// Receive handles any method on the webhook path: OPTIONS for preflight, POST for deliveries.
func (h *Handler) Receive(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.Status(http.StatusOK)
		return
	case http.MethodPost:
	default:
		c.Header("Allow", "POST, OPTIONS")
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	receivedAt := h.now()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload", "message": "could not read request body"})
		return
	}

	// The HMAC covers the exact bytes received; nothing is decoded before this check.
	if !signature.Verify(body, c.GetHeader(HeaderSignature), h.opts.Secret) {
		h.logger.Warn("webhook signature rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature", "message": "webhook signature verification failed"})
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload", "message": "body is not a webhook event"})
		return
	}

	eventID := EventID(c.GetHeader(HeaderEventID), body)
	log := h.logger.With(zap.String("event", env.Event), zap.String("event_id", eventID))

	// Processing outlives a gateway that hangs up; the claim and audit must still settle.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), processTimeout)
	defer cancel()

	claimed := false
	if h.opts.Dedupe != nil {
		state, err := h.opts.Dedupe.Claim(ctx, eventID)
		switch {
		case err != nil:
			log.Warn("webhook dedupe unavailable; processing anyway", zap.Error(err))
		case state == Processed:
			log.Info("duplicate webhook ignored")
			c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Duplicate event ignored", "event": env.Event})
			return
		case state == InProgress:
			log.Info("webhook already in progress; asking gateway to retry")
			c.JSON(http.StatusConflict, gin.H{"error": "Event in progress", "message": "another delivery of this event is being processed"})
			return
		default:
			claimed = true
		}
	}

	var archiveKey string
	if h.opts.Archive != nil {
		key, err := h.opts.Archive.PutWebhook(ctx, eventID, receivedAt, body)
		if err != nil {
			log.Warn("webhook archive failed", zap.Error(err))
		} else {
			archiveKey = key
		}
	}

	res := h.router.Route(ctx, &env)
	if claimed {
		if res.Success {
			if err := h.opts.Dedupe.Complete(ctx, eventID); err != nil {
				log.Warn("webhook dedupe complete failed", zap.Error(err))
			}
		} else if err := h.opts.Dedupe.Release(ctx, eventID); err != nil {
			log.Warn("webhook dedupe release failed", zap.Error(err))
		}
	}

	if h.opts.Events != nil {
		record := &models.WebhookEvent{
			EventID:       eventID,
			EventType:     env.Event,
			TransactionID: res.TransactionID,
			Success:       res.Success,
			Message:       res.Message,
			ArchiveKey:    archiveKey,
			ReceivedAt:    receivedAt,
			ProcessedAt:   h.now(),
		}
		if !res.Success {
			record.Message = res.Error
		}
		if err := h.opts.Events.Record(ctx, record); err != nil {
			log.Warn("webhook event log failed", zap.Error(err))
		}
	}

	if !res.Success {
		log.Error("webhook processing failed",
			zap.String("transaction_id", res.TransactionID),
			zap.String("error", res.Error),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error, "message": "Webhook processing failed"})
		return
	}
	log.Info("webhook processed",
		zap.String("transaction_id", res.TransactionID),
		zap.String("result", res.Message),
	)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": res.Message, "event": env.Event})
}
