package payments

import (
	"context"
	"time"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/queue"
)

// QueueNotifier hands payment outcomes to the worker through the Redis job queue.
type QueueNotifier struct {
	queue *queue.Queue
}

// NewQueueNotifier creates a queue-backed notifier.
func NewQueueNotifier(q *queue.Queue) *QueueNotifier {
	return &QueueNotifier{queue: q}
}

// Notify enqueues payment_confirmed for settled payments and payment_failed for failed ones.
func (n *QueueNotifier) Notify(ctx context.Context, p *models.Payment) error {
	jobType := queue.JobTypePaymentConfirmed
	if p.Status == models.PaymentStatusFailed {
		jobType = queue.JobTypePaymentFailed
	}
	return n.queue.EnqueuePaymentNotification(ctx, jobType, NotificationPayload(p))
}

// NotificationPayload flattens a payment into the notification job body.
func NotificationPayload(p *models.Payment) queue.PaymentNotificationPayload {
	payload := queue.PaymentNotificationPayload{
		PaymentID:     p.ID,
		TeamID:        p.TeamID,
		EventID:       p.EventID,
		UserID:        p.UserID,
		Status:        string(p.Status),
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		Provider:      p.Provider,
		TransactionID: p.OrderReference(),
		OccurredAt:    time.Now().UTC(),
	}
	if p.GatewayPaymentID != nil {
		payload.GatewayPaymentID = *p.GatewayPaymentID
	}
	if p.FailureReason != nil {
		payload.FailureReason = *p.FailureReason
	}
	switch {
	case p.PaidAt != nil && p.Status.IsSettled():
		payload.OccurredAt = p.PaidAt.UTC()
	case p.FailedAt != nil && p.Status == models.PaymentStatusFailed:
		payload.OccurredAt = p.FailedAt.UTC()
	}
	return payload
}
