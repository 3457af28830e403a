package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackportal/backend/pkg/notify"
	"github.com/hackportal/backend/pkg/queue"
)

// NotificationProcessor publishes payment outcome jobs for downstream delivery.
type NotificationProcessor struct {
	queue     *queue.Queue
	publisher notify.Publisher
	logger    *zap.Logger
	backoff   time.Duration
}

// NewNotificationProcessor creates a payment notification processor.
func NewNotificationProcessor(q *queue.Queue, publisher notify.Publisher, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{queue: q, publisher: publisher, logger: logger, backoff: queue.RetryBackoff}
}

// Process publishes one notification job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	var subject string
	switch job.Type {
	case queue.JobTypePaymentConfirmed:
		subject = "Registration payment confirmed"
	case queue.JobTypePaymentFailed:
		subject = "Registration payment failed"
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.PaymentNotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	attributes := map[string]string{
		"type":       string(job.Type),
		"status":     payload.Status,
		"provider":   payload.Provider,
		"team_id":    payload.TeamID.String(),
		"event_id":   payload.EventID.String(),
		"payment_id": payload.PaymentID.String(),
	}
	if err := p.publisher.Publish(ctx, subject, job.Payload, attributes); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.logger.Info("payment notification published",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("payment_id", payload.PaymentID.String()),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, queue.QueuePaymentNotifications, queue.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
