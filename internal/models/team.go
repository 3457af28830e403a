package models

import (
	"time"

	"github.com/google/uuid"
)

// Team payment status, a projection of the team's payment rows.
const (
	TeamPaymentPending = "pending"
	TeamPaymentPaid    = "paid"
	TeamPaymentFailed  = "failed"
)

// Team registration workflow status.
const (
	TeamStatusDraft     = "draft"
	TeamStatusPending   = "pending"
	TeamStatusSubmitted = "submitted"
	TeamStatusApproved  = "approved"
	TeamStatusRejected  = "rejected"
)

// Team is a participant group registered for an event.
type Team struct {
	ID            uuid.UUID `json:"id"`
	EventID       uuid.UUID `json:"event_id"`
	LeaderID      uuid.UUID `json:"leader_id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
