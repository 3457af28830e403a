package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/hackportal/backend/config"
	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/signature"
)

// razorpayOrders is the subset of the razorpay-go order resource used here.
type razorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Payments(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"` // created | attempted | paid
}

type razorpayPayment struct {
	ID     string `json:"id"`
	Status string `json:"status"` // created | authorized | captured | refunded | failed
	Method string `json:"method"`
}

// Razorpay implements Gateway on the Razorpay Orders API.
type Razorpay struct {
	orders    razorpayOrders
	keyID     string
	keySecret string
}

// NewRazorpay creates a Razorpay gateway from API credentials.
func NewRazorpay(cfg config.RazorpayConfig) *Razorpay {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return &Razorpay{orders: client.Order, keyID: cfg.KeyID, keySecret: cfg.KeySecret}
}

// Name returns the provider name stored on payments.
func (r *Razorpay) Name() string { return models.PaymentProviderRazorpay }

// CreateOrder creates an order. Razorpay expects the amount in paise.
func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"amount":   MinorUnits(req.Amount),
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}
	body, err := r.orders.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}
	var o razorpayOrder
	raw, err := decodeMap(body, &o)
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}
	if o.ID == "" {
		return nil, fmt.Errorf("razorpay create order: response has no order id")
	}
	return &Order{ID: o.ID, Amount: FromMinorUnits(o.Amount), Currency: o.Currency, Raw: raw}, nil
}

// CreateSession returns the checkout options. Razorpay checkout opens from the order alone, so no API call is made.
func (r *Razorpay) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("razorpay session: order id required")
	}
	return &Session{
		Provider: r.Name(),
		OrderID:  req.OrderID,
		KeyID:    r.keyID,
		Amount:   MinorUnits(req.Amount),
		Currency: req.Currency,
	}, nil
}

// VerifyClientPayment checks the checkout signature, an HMAC-SHA256 of "order_id|payment_id" under the key secret.
func (r *Razorpay) VerifyClientPayment(_ context.Context, p ClientPayment) error {
	if !signature.Verify([]byte(p.OrderID+"|"+p.PaymentID), p.Signature, r.keySecret) {
		return ErrVerificationFailed
	}
	return nil
}

// FetchOrder returns the order state, with the captured payment when there is one.
func (r *Razorpay) FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := r.orders.Fetch(orderID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay fetch order: %w", err)
	}
	var o razorpayOrder
	raw, err := decodeMap(body, &o)
	if err != nil {
		return nil, fmt.Errorf("razorpay fetch order: %w", err)
	}
	status := &OrderStatus{OrderID: orderID, State: OrderActive, Raw: raw}
	if o.Status == "paid" {
		status.State = OrderPaid
	}

	list, err := r.orders.Payments(orderID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay list order payments: %w", err)
	}
	var payments struct {
		Items []razorpayPayment `json:"items"`
	}
	if _, err := decodeMap(list, &payments); err != nil {
		return nil, fmt.Errorf("razorpay list order payments: %w", err)
	}
	for _, p := range payments.Items {
		if p.Status == "captured" {
			status.State = OrderPaid
			status.PaymentID = p.ID
			status.Method = p.Method
			break
		}
	}
	return status, nil
}

// decodeMap re-encodes a razorpay-go response map into a typed value and returns the JSON.
func decodeMap(m map[string]interface{}, v any) (json.RawMessage, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return raw, nil
}
