// Package gateway abstracts the payment processors that back registration checkouts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hackportal/backend/config"
)

// ErrVerificationFailed is returned when a client-submitted payment cannot be confirmed with the gateway.
var ErrVerificationFailed = errors.New("payment verification failed")

// IsVerificationFailure reports whether err means the payment could not be confirmed, as opposed to a transport error.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// OrderState is a gateway order's status reduced to what reconciliation needs.
type OrderState string

const (
	OrderActive OrderState = "active" // created or attempted, no capture yet
	OrderPaid   OrderState = "paid"
	OrderClosed OrderState = "closed" // expired or terminated by the gateway
)

// Customer identifies the payer for gateways that require it.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// OrderRequest asks the gateway for a new order. Amount is in whole currency units.
type OrderRequest struct {
	Receipt  string
	Amount   decimal.Decimal
	Currency string
	Customer Customer
	Notes    map[string]string
}

// Order is a gateway-side order.
type Order struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Raw      json.RawMessage `json:"-"`
}

// SessionRequest asks for a checkout session bound to an existing order.
type SessionRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Customer Customer
}

// Session is what the browser SDK needs to open checkout. It never carries secrets.
type Session struct {
	Provider  string `json:"provider"`
	OrderID   string `json:"order_id"`
	SessionID string `json:"session_id,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Amount    int64  `json:"amount"` // minor units
	Currency  string `json:"currency"`
}

// ClientPayment is the checkout SDK result submitted by the browser.
type ClientPayment struct {
	OrderID   string
	PaymentID string
	Signature string
}

// OrderStatus is the gateway's current view of an order.
type OrderStatus struct {
	OrderID   string
	State     OrderState
	PaymentID string
	Method    string
	Raw       json.RawMessage
}

// Gateway is a payment processor.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// VerifyClientPayment returns ErrVerificationFailed (possibly wrapped) when the result is not authentic or not paid.
	VerifyClientPayment(ctx context.Context, p ClientPayment) error
	FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error)
}

// New builds the gateway selected by cfg.Payments.Gateway.
func New(cfg *config.Config) (Gateway, error) {
	switch cfg.Payments.Gateway {
	case config.GatewayRazorpay:
		return NewRazorpay(cfg.Razorpay), nil
	case config.GatewayCashfree:
		return NewCashfree(cfg.Cashfree, nil), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Payments.Gateway)
	}
}

// MinorUnits converts a whole-currency amount to the smallest unit (paise for INR).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts the smallest currency unit back to a whole-currency amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
