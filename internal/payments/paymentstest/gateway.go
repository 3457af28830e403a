package paymentstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hackportal/backend/internal/gateway"
)

// Gateway is a scriptable gateway.Gateway.
type Gateway struct {
	mu sync.Mutex
	// NextOrderID, when set, is used for the next created order instead of a generated one.
	NextOrderID string
	OrderErr    error
	SessionErr  error
	VerifyErr   error
	FetchErr    error
	// Orders maps order IDs to the status FetchOrder reports.
	Orders map[string]*gateway.OrderStatus

	OrdersCreated []gateway.OrderRequest
	Fetches       int
	seq           int
}

// NewGateway creates a fake gateway.
func NewGateway() *Gateway {
	return &Gateway{Orders: make(map[string]*gateway.OrderStatus)}
}

var _ gateway.Gateway = (*Gateway)(nil)

func (g *Gateway) Name() string { return "fake" }

func (g *Gateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.OrdersCreated = append(g.OrdersCreated, req)
	if g.OrderErr != nil {
		return nil, g.OrderErr
	}
	id := g.NextOrderID
	g.NextOrderID = ""
	if id == "" {
		g.seq++
		id = fmt.Sprintf("order_%d", g.seq)
	}
	g.Orders[id] = &gateway.OrderStatus{OrderID: id, State: gateway.OrderActive}
	raw, _ := json.Marshal(map[string]any{"id": id, "receipt": req.Receipt})
	return &gateway.Order{ID: id, Amount: req.Amount, Currency: req.Currency, Raw: raw}, nil
}

func (g *Gateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	if g.SessionErr != nil {
		return nil, g.SessionErr
	}
	return &gateway.Session{Provider: g.Name(), OrderID: req.OrderID, SessionID: "session_" + req.OrderID,
		Amount: gateway.MinorUnits(req.Amount), Currency: req.Currency}, nil
}

func (g *Gateway) VerifyClientPayment(_ context.Context, _ gateway.ClientPayment) error {
	return g.VerifyErr
}

func (g *Gateway) FetchOrder(_ context.Context, orderID string) (*gateway.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetches++
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	if st, ok := g.Orders[orderID]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, fmt.Errorf("order %s not found", orderID)
}

// SetOrder scripts the status FetchOrder reports for orderID.
func (g *Gateway) SetOrder(orderID string, state gateway.OrderState, paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Orders[orderID] = &gateway.OrderStatus{OrderID: orderID, State: state, PaymentID: paymentID}
}
