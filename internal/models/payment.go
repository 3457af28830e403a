package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment gateways.
const (
	PaymentProviderRazorpay = "razorpay"
	PaymentProviderCashfree = "cashfree"
)

// PaymentStatus is the lifecycle state of one payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// allowedFrom lists, per target status, the statuses a payment may move out of.
// pending < authorized < paid/completed; failed only yields to a successful capture.
var allowedFrom = map[PaymentStatus][]PaymentStatus{
	PaymentStatusAuthorized: {PaymentStatusPending},
	PaymentStatusPaid:       {PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusFailed},
	PaymentStatusCompleted:  {PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusPending, PaymentStatusAuthorized},
}

// AllowedFrom returns the statuses from which a transition to s is accepted.
func (s PaymentStatus) AllowedFrom() []PaymentStatus {
	return allowedFrom[s]
}

// CanTransitionTo reports whether a payment in s may move to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, from := range allowedFrom[next] {
		if from == s {
			return true
		}
	}
	return false
}

// IsSettled reports whether money has been captured.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusCompleted
}

// IsActive reports whether the attempt still awaits an outcome.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusAuthorized
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusPaid, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	}
	return false
}

// Payment is one attempt to pay a team's registration fee for an event.
// TransactionID is the gateway order reference; GatewayPaymentID is set once the gateway reports a payment.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	TeamID           uuid.UUID       `json:"team_id"`
	EventID          uuid.UUID       `json:"event_id"`
	Provider         string          `json:"provider"`
	TransactionID    *string         `json:"transaction_id,omitempty"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PaymentMethod    *string         `json:"payment_method,omitempty"`
	Status           PaymentStatus   `json:"status"`
	GatewayResponse  json.RawMessage `json:"-"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	FailedAt         *time.Time      `json:"failed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OrderReference returns the gateway order id, or "" before the gateway responded.
func (p *Payment) OrderReference() string {
	if p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}
