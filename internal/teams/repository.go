package teams

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/database"
)

// Repository handles team persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a teams repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// GetByID returns a team by ID, or nil if none exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	const q = `SELECT id, event_id, leader_id, name, status, payment_status, created_at, updated_at
		FROM teams WHERE id = $1`
	var t models.Team
	err := r.db.QueryRow(ctx, q, id).Scan(&t.ID, &t.EventID, &t.LeaderID, &t.Name, &t.Status, &t.PaymentStatus,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// MarkPaid sets payment_status=paid and status=approved. It reports whether the row changed.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE teams SET payment_status = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND payment_status IS DISTINCT FROM $1`
	tag, err := r.db.Exec(ctx, q, models.TeamPaymentPaid, models.TeamStatusApproved, id)
	if err != nil {
		return false, fmt.Errorf("mark team paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed sets payment_status=failed and reopens registration (status=pending).
// A team that already paid through another attempt is left alone.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE teams SET payment_status = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND payment_status NOT IN ($4, $1)`
	tag, err := r.db.Exec(ctx, q, models.TeamPaymentFailed, models.TeamStatusPending, id, models.TeamPaymentPaid)
	if err != nil {
		return false, fmt.Errorf("mark team failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
