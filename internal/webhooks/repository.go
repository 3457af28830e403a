package webhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/database"
)

// Repository is the webhook_events audit log.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a webhook event repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Record upserts a processed delivery. A retry of the same event bumps attempts and keeps the first archive key.
func (r *Repository) Record(ctx context.Context, e *models.WebhookEvent) error {
	const q = `INSERT INTO webhook_events (event_id, event_type, transaction_id, success, message, archive_key, received_at, processed_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		ON CONFLICT (event_id) DO UPDATE SET
			success = EXCLUDED.success,
			message = EXCLUDED.message,
			archive_key = COALESCE(webhook_events.archive_key, EXCLUDED.archive_key),
			attempts = webhook_events.attempts + 1,
			processed_at = EXCLUDED.processed_at`
	_, err := r.db.Exec(ctx, q, e.EventID, e.EventType, e.TransactionID, e.Success, e.Message, e.ArchiveKey,
		e.ReceivedAt, e.ProcessedAt)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

// Get returns a recorded event, or nil.
func (r *Repository) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	const q = `SELECT event_id, event_type, COALESCE(transaction_id, ''), success, COALESCE(message, ''),
		COALESCE(archive_key, ''), received_at, processed_at
		FROM webhook_events WHERE event_id = $1`
	var e models.WebhookEvent
	err := r.db.QueryRow(ctx, q, eventID).Scan(&e.EventID, &e.EventType, &e.TransactionID, &e.Success, &e.Message,
		&e.ArchiveKey, &e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}
