package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackportal/backend/config"
	"github.com/hackportal/backend/internal/models"
)

const (
	CashfreeSandboxURL    = "https://sandbox.cashfree.com/pg"
	CashfreeProductionURL = "https://api.cashfree.com/pg"
)

type cashfreeCustomer struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

type cashfreeOrderRequest struct {
	OrderID         string            `json:"order_id"`
	OrderAmount     json.Number       `json:"order_amount"`
	OrderCurrency   string            `json:"order_currency"`
	CustomerDetails cashfreeCustomer  `json:"customer_details"`
	OrderTags       map[string]string `json:"order_tags,omitempty"`
}

type cashfreeOrder struct {
	OrderID          string          `json:"order_id"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	OrderCurrency    string          `json:"order_currency"`
	OrderStatus      string          `json:"order_status"` // ACTIVE | PAID | EXPIRED | TERMINATED | TERMINATION_REQUESTED
	PaymentSessionID string          `json:"payment_session_id"`
}

type cashfreePayment struct {
	CFPaymentID   json.Number `json:"cf_payment_id"`
	PaymentStatus string      `json:"payment_status"` // SUCCESS | FAILED | PENDING | USER_DROPPED ...
	PaymentGroup  string      `json:"payment_group"`
}

type cashfreeError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// Cashfree implements Gateway on the Cashfree PG REST API.
type Cashfree struct {
	baseURL    string
	appID      string
	secretKey  string
	apiVersion string
	client     *http.Client
}

// NewCashfree creates a Cashfree gateway. A nil client gets a 15s timeout client.
func NewCashfree(cfg config.CashfreeConfig, client *http.Client) *Cashfree {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	base := CashfreeSandboxURL
	if cfg.Environment == "production" {
		base = CashfreeProductionURL
	}
	return &Cashfree{
		baseURL:    base,
		appID:      cfg.AppID,
		secretKey:  cfg.SecretKey,
		apiVersion: cfg.APIVersion,
		client:     client,
	}
}

// WithBaseURL points the client at another API host (tests, proxies).
func (c *Cashfree) WithBaseURL(u string) *Cashfree {
	c.baseURL = u
	return c
}

// Name returns the provider name stored on payments.
func (c *Cashfree) Name() string { return models.PaymentProviderCashfree }

// CreateOrder creates an order whose order_id is the local receipt.
func (c *Cashfree) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	body := cashfreeOrderRequest{
		OrderID:       req.Receipt,
		OrderAmount:   json.Number(req.Amount.StringFixed(2)),
		OrderCurrency: req.Currency,
		CustomerDetails: cashfreeCustomer{
			CustomerID:    req.Customer.ID,
			CustomerName:  req.Customer.Name,
			CustomerEmail: req.Customer.Email,
			CustomerPhone: req.Customer.Phone,
		},
		OrderTags: req.Notes,
	}
	var o cashfreeOrder
	raw, err := c.do(ctx, http.MethodPost, "/orders", body, &o)
	if err != nil {
		return nil, fmt.Errorf("cashfree create order: %w", err)
	}
	return &Order{ID: o.OrderID, Amount: o.OrderAmount, Currency: o.OrderCurrency, Raw: raw}, nil
}

// CreateSession fetches the order's payment_session_id for the drop-in checkout.
func (c *Cashfree) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	var o cashfreeOrder
	if _, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(req.OrderID), nil, &o); err != nil {
		return nil, fmt.Errorf("cashfree session: %w", err)
	}
	if o.PaymentSessionID == "" {
		return nil, fmt.Errorf("cashfree session: order %s has no payment session", req.OrderID)
	}
	return &Session{
		Provider:  c.Name(),
		OrderID:   o.OrderID,
		SessionID: o.PaymentSessionID,
		Amount:    MinorUnits(o.OrderAmount),
		Currency:  o.OrderCurrency,
	}, nil
}

// VerifyClientPayment has no client-side signature to check; the order itself must be PAID.
func (c *Cashfree) VerifyClientPayment(ctx context.Context, p ClientPayment) error {
	status, err := c.FetchOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if status.State != OrderPaid {
		return fmt.Errorf("%w: order %s is not paid", ErrVerificationFailed, p.OrderID)
	}
	return nil
}

// FetchOrder returns the order state and, when paid, the successful payment.
func (c *Cashfree) FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	var o cashfreeOrder
	raw, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &o)
	if err != nil {
		return nil, fmt.Errorf("cashfree fetch order: %w", err)
	}
	status := &OrderStatus{OrderID: orderID, State: OrderActive, Raw: raw}
	switch o.OrderStatus {
	case "PAID":
		status.State = OrderPaid
	case "EXPIRED", "TERMINATED":
		status.State = OrderClosed
		return status, nil
	default:
		return status, nil
	}

	var payments []cashfreePayment
	if _, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", nil, &payments); err != nil {
		return nil, fmt.Errorf("cashfree order payments: %w", err)
	}
	for _, p := range payments {
		if p.PaymentStatus == "SUCCESS" {
			status.PaymentID = p.CFPaymentID.String()
			status.Method = p.PaymentGroup
			break
		}
	}
	return status, nil
}

func (c *Cashfree) do(ctx context.Context, method, path string, in, out any) (json.RawMessage, error) {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-client-id", c.appID)
	req.Header.Set("x-client-secret", c.secretKey)
	req.Header.Set("x-api-version", c.apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr cashfreeError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("status %d: %s (%s)", resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return raw, nil
}
