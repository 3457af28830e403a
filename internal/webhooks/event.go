// Package webhooks receives gateway webhook deliveries, verifies them and routes each
// event to the payment transition it implies.
package webhooks

import (
	"encoding/json"
	"time"
)

// Event types the router acts on. Anything else is acknowledged without writes.
const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPaymentAuthorized = "payment.authorized"
	EventOrderPaid         = "order.paid"
)

// Envelope is a gateway webhook body.
type Envelope struct {
	Entity    string   `json:"entity,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains,omitempty"`
	Payload   Payload  `json:"payload"`
	CreatedAt int64    `json:"created_at"`
}

// Payload holds the entities attached to an event; either may be absent.
type Payload struct {
	Payment *PaymentWrapper `json:"payment,omitempty"`
	Order   *OrderWrapper   `json:"order,omitempty"`
}

// PaymentWrapper wraps the payment entity.
type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

// OrderWrapper wraps the order entity.
type OrderWrapper struct {
	Entity OrderEntity `json:"entity"`
}

// PaymentEntity is the gateway's payment object. Raw keeps the exact entity bytes for storage.
type PaymentEntity struct {
	ID               string          `json:"id"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	OrderID          string          `json:"order_id"`
	Method           string          `json:"method"`
	Captured         bool            `json:"captured"`
	Email            string          `json:"email"`
	Contact          string          `json:"contact"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	ErrorReason      string          `json:"error_reason"`
	CreatedAt        int64           `json:"created_at"`
	Raw              json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the entity and keeps its raw bytes.
func (e *PaymentEntity) UnmarshalJSON(b []byte) error {
	type plain PaymentEntity
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = PaymentEntity(p)
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// OrderEntity is the gateway's order object. Raw keeps the exact entity bytes for storage.
type OrderEntity struct {
	ID         string          `json:"id"`
	Amount     int64           `json:"amount"`
	AmountPaid int64           `json:"amount_paid"`
	Currency   string          `json:"currency"`
	Receipt    string          `json:"receipt"`
	Status     string          `json:"status"`
	CreatedAt  int64           `json:"created_at"`
	Raw        json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the entity and keeps its raw bytes.
func (e *OrderEntity) UnmarshalJSON(b []byte) error {
	type plain OrderEntity
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = OrderEntity(p)
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// PaymentEntity returns the payment entity, or nil.
func (e *Envelope) PaymentEntity() *PaymentEntity {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

// OrderEntity returns the order entity, or nil.
func (e *Envelope) OrderEntity() *OrderEntity {
	if e.Payload.Order == nil {
		return nil
	}
	return &e.Payload.Order.Entity
}

// OrderID returns the gateway order reference the event concerns: the order entity's id,
// else the payment entity's order_id.
func (e *Envelope) OrderID() string {
	if o := e.OrderEntity(); o != nil && o.ID != "" {
		return o.ID
	}
	if p := e.PaymentEntity(); p != nil {
		return p.OrderID
	}
	return ""
}

// OccurredAt returns the event timestamp, or zero when the gateway omitted it.
func (e *Envelope) OccurredAt() time.Time {
	if e.CreatedAt <= 0 {
		return time.Time{}
	}
	return time.Unix(e.CreatedAt, 0)
}

// PaymentAt is when the payment entity was created, falling back to the envelope time.
func (e *Envelope) PaymentAt() time.Time {
	if p := e.PaymentEntity(); p != nil && p.CreatedAt > 0 {
		return time.Unix(p.CreatedAt, 0)
	}
	return e.OccurredAt()
}
