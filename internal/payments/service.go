// Package payments owns payment records: checkout creation, client-side verification
// and the shared transition path used by webhooks and reconciliation.
package payments

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/gateway"
	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/apperr"
	"github.com/hackportal/backend/pkg/database"
)

// Failure reasons written by the service itself.
const (
	ReasonSuperseded = "superseded by a new checkout"
	ReasonAbandoned  = "checkout abandoned"
)

// TeamReader loads teams for ownership checks.
type TeamReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error)
}

// Caller is the authenticated user invoking a service method.
type Caller struct {
	UserID uuid.UUID
	Admin  bool
}

// CreateOrderInput is the body of a checkout request. IDs arrive as strings so validation owns parsing.
type CreateOrderInput struct {
	TeamID   string           `json:"teamId"`
	EventID  string           `json:"eventId"`
	Amount   decimal.Decimal  `json:"amount"`
	Currency string           `json:"currency"`
	Customer gateway.Customer `json:"customer"`
}

// OrderView is the gateway order as returned to the browser.
type OrderView struct {
	ID       string          `json:"id"`
	Provider string          `json:"provider"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// CreateOrderResult pairs the gateway order with the local payment.
type CreateOrderResult struct {
	Order   OrderView       `json:"order"`
	Payment *models.Payment `json:"payment"`
	Reused  bool            `json:"reused"`
}

// VerifyInput is the checkout SDK result posted by the browser.
type VerifyInput struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Signature string `json:"signature"`
}

// VerifyResult reports the payment after verification.
type VerifyResult struct {
	Payment *models.Payment `json:"payment"`
	// AlreadySettled is true when another path (usually the webhook) had settled the payment first.
	AlreadySettled bool `json:"already_settled"`
}

// Options tunes checkout behavior.
type Options struct {
	DefaultCurrency string
	ReuseWindow     time.Duration
}

// Service implements order creation, session creation and client-side verification.
type Service struct {
	store   Store
	teams   TeamReader
	gateway gateway.Gateway
	settler *Settler
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the payments service.
func NewService(store Store, teams TeamReader, gw gateway.Gateway, settler *Settler, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "INR"
	}
	return &Service{store: store, teams: teams, gateway: gw, settler: settler, opts: opts, logger: logger, now: time.Now}
}

// CreateOrder creates (or reuses) the team's pending payment and its gateway order.
// The payment row is written before the gateway is contacted so a webhook can always find it.
func (s *Service) CreateOrder(ctx context.Context, caller Caller, in CreateOrderInput) (*CreateOrderResult, error) {
	teamID, eventID, currency, err := s.validateOrder(in)
	if err != nil {
		return nil, err
	}

	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, apperr.Internal("failed to load team", err)
	}
	if team == nil {
		return nil, apperr.NotFound("team not found")
	}
	if team.EventID != eventID {
		return nil, apperr.Validation("team is not registered for this event")
	}
	if team.LeaderID != caller.UserID {
		return nil, apperr.Forbidden("only the team leader can pay the registration fee")
	}
	if team.PaymentStatus == models.TeamPaymentPaid {
		return nil, apperr.Conflict("team has already paid for this event")
	}

	active, err := s.store.FindActive(ctx, teamID, eventID)
	if err != nil {
		return nil, apperr.Internal("failed to load payments", err)
	}
	if active != nil {
		if res, err := s.resolveActive(ctx, active, in.Amount, currency); res != nil || err != nil {
			return res, err
		}
	}

	p := &models.Payment{
		UserID:   caller.UserID,
		TeamID:   teamID,
		EventID:  eventID,
		Provider: s.gateway.Name(),
		Amount:   in.Amount,
		Currency: currency,
		Status:   models.PaymentStatusPending,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if database.IsUniqueViolation(err, ActiveIndex) {
			return s.reuseConcurrent(ctx, teamID, eventID)
		}
		return nil, apperr.Internal("failed to create payment", err)
	}

	customer := in.Customer
	if customer.ID == "" {
		customer.ID = caller.UserID.String()
	}
	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Receipt:  p.ID.String(),
		Amount:   p.Amount,
		Currency: p.Currency,
		Customer: customer,
		Notes: map[string]string{
			"payment_id": p.ID.String(),
			"team_id":    teamID.String(),
			"event_id":   eventID.String(),
		},
	})
	if err != nil {
		// The pending row stays behind; reconciliation abandons it once stale.
		s.logger.Error("gateway order creation failed", zap.Error(err), zap.String("payment_id", p.ID.String()))
		return nil, apperr.Gateway("failed to create gateway order", err)
	}

	patch, _ := json.Marshal(map[string]json.RawMessage{"order": order.Raw})
	if len(order.Raw) == 0 {
		patch = nil
	}
	if err := s.store.SetTransactionID(ctx, p.ID, order.ID, patch); err != nil {
		return nil, apperr.Internal("failed to record gateway order", err)
	}
	p.TransactionID = &order.ID

	s.logger.Info("payment order created",
		zap.String("payment_id", p.ID.String()),
		zap.String("transaction_id", order.ID),
		zap.String("team_id", teamID.String()),
	)
	return &CreateOrderResult{Order: orderView(p), Payment: p}, nil
}

func (s *Service) validateOrder(in CreateOrderInput) (teamID, eventID uuid.UUID, currency string, err error) {
	if strings.TrimSpace(in.TeamID) == "" || strings.TrimSpace(in.EventID) == "" {
		return uuid.Nil, uuid.Nil, "", apperr.Validation("teamId and eventId are required")
	}
	teamID, err = uuid.Parse(in.TeamID)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", apperr.Validation("invalid teamId")
	}
	eventID, err = uuid.Parse(in.EventID)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", apperr.Validation("invalid eventId")
	}
	if !in.Amount.IsPositive() {
		return uuid.Nil, uuid.Nil, "", apperr.Validation("amount must be positive")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return uuid.Nil, uuid.Nil, "", apperr.Validation("amount has more than two decimal places")
	}
	currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	if len(currency) != 3 {
		return uuid.Nil, uuid.Nil, "", apperr.Validation("currency must be a 3-letter ISO code")
	}
	return teamID, eventID, currency, nil
}

// resolveActive decides what to do with the team's in-flight payment.
// It returns a result to hand back, an error, or neither when a new payment should be created.
func (s *Service) resolveActive(ctx context.Context, active *models.Payment, amount decimal.Decimal, currency string) (*CreateOrderResult, error) {
	if active.Status == models.PaymentStatusAuthorized {
		return nil, apperr.Conflict("a payment for this team is awaiting capture")
	}
	fresh := s.now().Sub(active.CreatedAt) < s.opts.ReuseWindow
	if active.OrderReference() != "" && fresh && active.Amount.Equal(amount) && active.Currency == currency {
		s.logger.Info("reusing pending payment", zap.String("payment_id", active.ID.String()))
		return &CreateOrderResult{Order: orderView(active), Payment: active, Reused: true}, nil
	}
	changed, err := s.store.MarkFailed(ctx, active.ID, ReasonSuperseded)
	if err != nil {
		return nil, apperr.Internal("failed to supersede pending payment", err)
	}
	if !changed {
		return s.supersedeLost(ctx, active.ID)
	}
	s.logger.Info("pending payment superseded", zap.String("payment_id", active.ID.String()))
	return nil, nil
}

// supersedeLost handles a pending row that moved on between FindActive and MarkFailed.
func (s *Service) supersedeLost(ctx context.Context, id uuid.UUID) (*CreateOrderResult, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("failed to load payment", err)
	}
	switch {
	case current == nil || current.Status == models.PaymentStatusFailed:
		return nil, nil
	case current.Status.IsSettled():
		s.logger.Info("pending payment settled during checkout", zap.String("payment_id", id.String()))
		return nil, apperr.Conflict("team has already paid for this event")
	case current.Status == models.PaymentStatusAuthorized:
		return nil, apperr.Conflict("a payment for this team is awaiting capture")
	default:
		return nil, apperr.Conflict("another checkout for this team is in progress")
	}
}

// reuseConcurrent handles losing the insert race against another checkout for the same team.
func (s *Service) reuseConcurrent(ctx context.Context, teamID, eventID uuid.UUID) (*CreateOrderResult, error) {
	winner, err := s.store.FindActive(ctx, teamID, eventID)
	if err != nil {
		return nil, apperr.Internal("failed to load payments", err)
	}
	if winner == nil || winner.OrderReference() == "" {
		return nil, apperr.Conflict("another checkout for this team is in progress")
	}
	return &CreateOrderResult{Order: orderView(winner), Payment: winner, Reused: true}, nil
}

// CreatePaymentSession opens a checkout session for the caller's pending order.
func (s *Service) CreatePaymentSession(ctx context.Context, caller Caller, orderID string, customer gateway.Customer) (*gateway.Session, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, apperr.Validation("orderId is required")
	}
	p, err := s.store.GetByTransactionID(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal("failed to load payment", err)
	}
	if p == nil {
		return nil, apperr.NotFound(MsgPaymentNotFound)
	}
	if p.UserID != caller.UserID {
		return nil, apperr.Forbidden("payment belongs to another user")
	}
	if p.Status != models.PaymentStatusPending {
		return nil, apperr.Conflict("payment is already " + string(p.Status))
	}
	if customer.ID == "" {
		customer.ID = caller.UserID.String()
	}
	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderID:  orderID,
		Amount:   p.Amount,
		Currency: p.Currency,
		Customer: customer,
	})
	if err != nil {
		s.logger.Error("gateway session creation failed", zap.Error(err), zap.String("transaction_id", orderID))
		return nil, apperr.Gateway("failed to create payment session", err)
	}
	return session, nil
}

// VerifyPayment finalizes a payment from the checkout SDK result. It converges with the webhook path:
// whichever arrives second is a no-op.
func (s *Service) VerifyPayment(ctx context.Context, caller Caller, in VerifyInput) (*VerifyResult, error) {
	if in.PaymentID == "" || in.OrderID == "" || in.Signature == "" {
		return nil, apperr.Validation("paymentId, orderId and signature are required")
	}
	p, err := s.store.GetByTransactionID(ctx, in.OrderID)
	if err != nil {
		return nil, apperr.Internal("failed to load payment", err)
	}
	if p == nil {
		return nil, apperr.NotFound(MsgPaymentNotFound)
	}
	if p.UserID != caller.UserID {
		return nil, apperr.Forbidden("payment belongs to another user")
	}

	err = s.gateway.VerifyClientPayment(ctx, gateway.ClientPayment{
		OrderID:   in.OrderID,
		PaymentID: in.PaymentID,
		Signature: in.Signature,
	})
	if err != nil {
		if gateway.IsVerificationFailure(err) {
			s.logger.Warn("client payment verification failed", zap.String("transaction_id", in.OrderID))
			return nil, apperr.New(apperr.KindSignature, "payment verification failed", err)
		}
		return nil, apperr.Gateway("failed to verify payment with gateway", err)
	}

	patch, _ := json.Marshal(map[string]any{
		"verification": map[string]any{
			"payment_id":  in.PaymentID,
			"order_id":    in.OrderID,
			"verified_at": s.now().UTC(),
		},
	})
	paymentID := in.PaymentID
	out, err := s.settler.Apply(ctx, Transition{
		TransactionID:    in.OrderID,
		To:               models.PaymentStatusPaid,
		GatewayPaymentID: &paymentID,
		Response:         patch,
		At:               s.now(),
	})
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Payment: out.Payment, AlreadySettled: !out.Applied && out.Payment.Status.IsSettled()}, nil
}

// Get returns one payment visible to the caller.
func (s *Service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*models.Payment, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("failed to load payment", err)
	}
	if p == nil || (!caller.Admin && p.UserID != caller.UserID) {
		return nil, apperr.NotFound("payment not found")
	}
	return p, nil
}

// ListByTeam returns a team's payment attempts to its leader or an admin.
func (s *Service) ListByTeam(ctx context.Context, caller Caller, teamID uuid.UUID) ([]models.Payment, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, apperr.Internal("failed to load team", err)
	}
	if team == nil {
		return nil, apperr.NotFound("team not found")
	}
	if !caller.Admin && team.LeaderID != caller.UserID {
		return nil, apperr.Forbidden("only the team leader can view payments")
	}
	list, err := s.store.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, apperr.Internal("failed to list payments", err)
	}
	if list == nil {
		list = []models.Payment{}
	}
	return list, nil
}

func orderView(p *models.Payment) OrderView {
	return OrderView{ID: p.OrderReference(), Provider: p.Provider, Amount: p.Amount, Currency: p.Currency}
}
