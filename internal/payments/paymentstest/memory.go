// Package paymentstest provides in-memory payment and team stores that follow the same
// transition rules as the Postgres repositories, for tests of code built on payments.Settler.
package paymentstest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/pkg/database"
)

var errNotPending = errors.New("payment is no longer pending")

// Store is an in-memory payments.Store.
type Store struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
	// Writes counts mutations that changed a row.
	Writes int
	// Err, when set, fails every call.
	Err error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{payments: make(map[uuid.UUID]*models.Payment)}
}

var _ payments.Store = (*Store)(nil)

// Seed inserts p as-is, filling ID and timestamps when zero.
func (s *Store) Seed(p models.Payment) *models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = p.CreatedAt
	if len(p.GatewayResponse) == 0 {
		p.GatewayResponse = json.RawMessage(`{}`)
	}
	cp := p
	s.payments[p.ID] = &cp
	return clone(&cp)
}

// Get returns a copy of the payment with id, or nil.
func (s *Store) Get(id uuid.UUID) *models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.payments[id])
}

// Count returns the number of rows.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *Store) Create(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, existing := range s.payments {
		if existing.TeamID == p.TeamID && existing.EventID == p.EventID && existing.Status.IsActive() {
			return &pgconn.PgError{Code: database.UniqueViolation, ConstraintName: payments.ActiveIndex}
		}
	}
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	p.GatewayResponse = json.RawMessage(`{}`)
	cp := *p
	s.payments[p.ID] = &cp
	s.Writes++
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return clone(s.payments[id]), nil
}

func (s *Store) GetByTransactionID(_ context.Context, transactionID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return clone(s.byTransaction(transactionID)), nil
}

func (s *Store) FindActive(_ context.Context, teamID, eventID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, p := range s.payments {
		if p.TeamID == teamID && p.EventID == eventID && p.Status.IsActive() {
			return clone(p), nil
		}
	}
	return nil, nil
}

func (s *Store) SetTransactionID(_ context.Context, id uuid.UUID, transactionID string, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p := s.payments[id]
	if p == nil || p.Status != models.PaymentStatusPending {
		return errNotPending
	}
	p.TransactionID = &transactionID
	p.GatewayResponse = merge(p.GatewayResponse, response)
	p.UpdatedAt = time.Now()
	s.Writes++
	return nil
}

func (s *Store) Transition(_ context.Context, t payments.Transition) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p := s.byTransaction(t.TransactionID)
	if p == nil || !p.Status.CanTransitionTo(t.To) {
		return nil, nil
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	p.Status = t.To
	if t.GatewayPaymentID != nil {
		v := *t.GatewayPaymentID
		p.GatewayPaymentID = &v
	}
	if t.Method != nil {
		v := *t.Method
		p.PaymentMethod = &v
	}
	p.FailureReason = nil
	switch {
	case t.To == models.PaymentStatusFailed:
		p.FailureReason = t.FailureReason
		p.FailedAt = &at
	case t.To.IsSettled() && p.PaidAt == nil:
		p.PaidAt = &at
	}
	p.GatewayResponse = merge(p.GatewayResponse, t.Response)
	p.UpdatedAt = time.Now()
	s.Writes++
	return clone(p), nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	p := s.payments[id]
	if p == nil || !p.Status.CanTransitionTo(models.PaymentStatusFailed) {
		return false, nil
	}
	now := time.Now()
	p.Status = models.PaymentStatusFailed
	p.FailureReason = &reason
	p.FailedAt = &now
	p.UpdatedAt = now
	s.Writes++
	return true, nil
}

func (s *Store) ListByTeam(_ context.Context, teamID uuid.UUID) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Payment
	for _, p := range s.payments {
		if p.TeamID == teamID {
			out = append(out, *clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListStale(_ context.Context, before time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Payment
	for _, p := range s.payments {
		if p.Status.IsActive() && p.CreatedAt.Before(before) {
			out = append(out, *clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) byTransaction(transactionID string) *models.Payment {
	for _, p := range s.payments {
		if p.TransactionID != nil && *p.TransactionID == transactionID {
			return p
		}
	}
	return nil
}

func clone(p *models.Payment) *models.Payment {
	if p == nil {
		return nil
	}
	cp := *p
	cp.GatewayResponse = append(json.RawMessage(nil), p.GatewayResponse...)
	return &cp
}

// merge applies the top-level keys of patch over base, like jsonb ||.
func merge(base, patch json.RawMessage) json.RawMessage {
	if len(patch) == 0 {
		return base
	}
	m := map[string]json.RawMessage{}
	_ = json.Unmarshal(base, &m)
	var p map[string]json.RawMessage
	if err := json.Unmarshal(patch, &p); err != nil {
		return base
	}
	for k, v := range p {
		m[k] = v
	}
	out, _ := json.Marshal(m)
	return out
}
