package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/database"
)

// ActiveIndex is the partial unique index allowing one pending/authorized payment per team and event.
const ActiveIndex = "payments_one_active_per_team"

const paymentColumns = `id, user_id, team_id, event_id, provider, transaction_id, gateway_payment_id, amount, currency,
	payment_method, status, gateway_response, failure_reason, paid_at, failed_at, created_at, updated_at`

// Transition is one requested status change, applied atomically to the row holding TransactionID.
type Transition struct {
	TransactionID    string
	To               models.PaymentStatus
	GatewayPaymentID *string
	Method           *string
	FailureReason    *string
	// Response is a JSON object merged (top-level keys) into the stored gateway response.
	Response json.RawMessage
	At       time.Time
}

// Repository is the pgx-backed payment record store.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a payments repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Create inserts a payment in pending state.
// A concurrent active payment for the same team and event surfaces as a unique violation on ActiveIndex.
func (r *Repository) Create(ctx context.Context, p *models.Payment) error {
	const q = `INSERT INTO payments (id, user_id, team_id, event_id, provider, amount, currency, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, gateway_response, created_at, updated_at`
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	return r.db.QueryRow(ctx, q, p.UserID, p.TeamID, p.EventID, p.Provider, p.Amount, p.Currency, string(p.Status)).
		Scan(&p.ID, &p.GatewayResponse, &p.CreatedAt, &p.UpdatedAt)
}

// GetByID returns a payment by ID, or nil if none exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// GetByTransactionID returns the payment holding the gateway order reference, or nil.
func (r *Repository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

// FindActive returns the pending or authorized payment for a team and event, or nil.
func (r *Repository) FindActive(ctx context.Context, teamID, eventID uuid.UUID) (*models.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
		WHERE team_id = $1 AND event_id = $2 AND status IN ('pending', 'authorized')
		ORDER BY created_at DESC LIMIT 1`
	return r.one(ctx, q, teamID, eventID)
}

// SetTransactionID records the gateway order reference on a pending payment.
func (r *Repository) SetTransactionID(ctx context.Context, id uuid.UUID, transactionID string, response json.RawMessage) error {
	const q = `UPDATE payments SET transaction_id = $1,
		gateway_response = gateway_response || COALESCE($2::jsonb, '{}'::jsonb), updated_at = NOW()
		WHERE id = $3 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, q, transactionID, nullJSON(response), id)
	if err != nil {
		return fmt.Errorf("set transaction id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set transaction id: payment %s is no longer pending", id)
	}
	return nil
}

// Transition moves the payment holding t.TransactionID to t.To in a single conditional update.
// It returns the updated payment, or nil when no row matched (missing row or a disallowed predecessor).
func (r *Repository) Transition(ctx context.Context, t Transition) (*models.Payment, error) {
	const q = `UPDATE payments SET
		status = $2,
		gateway_payment_id = COALESCE($3, gateway_payment_id),
		payment_method = COALESCE($4, payment_method),
		failure_reason = CASE WHEN $2 = 'failed' THEN $5 ELSE NULL END,
		gateway_response = gateway_response || COALESCE($6::jsonb, '{}'::jsonb),
		paid_at = CASE WHEN $2 IN ('paid', 'completed') THEN COALESCE(paid_at, $7) ELSE paid_at END,
		failed_at = CASE WHEN $2 = 'failed' THEN $7 ELSE failed_at END,
		updated_at = NOW()
		WHERE transaction_id = $1 AND status = ANY($8)
		RETURNING ` + paymentColumns
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	p, err := r.one(ctx, q, t.TransactionID, string(t.To), t.GatewayPaymentID, t.Method, t.FailureReason,
		nullJSON(t.Response), at, statusStrings(t.To.AllowedFrom()))
	if err != nil {
		return nil, fmt.Errorf("transition payment to %s: %w", t.To, err)
	}
	return p, nil
}

// MarkFailed fails an active payment by ID (superseded or abandoned checkouts). It reports whether a row changed.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	const q = `UPDATE payments SET status = 'failed', failure_reason = $1, failed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`
	tag, err := r.db.Exec(ctx, q, reason, id, statusStrings(models.PaymentStatusFailed.AllowedFrom()))
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByTeam returns all payment attempts of a team, newest first.
func (r *Repository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Payment, error) {
	return r.many(ctx, `SELECT `+paymentColumns+` FROM payments WHERE team_id = $1 ORDER BY created_at DESC`, teamID)
}

// ListStale returns active payments created before the cutoff, oldest first.
func (r *Repository) ListStale(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status IN ('pending', 'authorized') AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`
	return r.many(ctx, q, before, limit)
}

func (r *Repository) one(ctx context.Context, q string, args ...any) (*models.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *Repository) many(ctx context.Context, q string, args ...any) ([]models.Payment, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.TeamID, &p.EventID, &p.Provider, &p.TransactionID, &p.GatewayPaymentID,
		&p.Amount, &p.Currency, &p.PaymentMethod, &status, &p.GatewayResponse, &p.FailureReason,
		&p.PaidAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

func statusStrings(statuses []models.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
