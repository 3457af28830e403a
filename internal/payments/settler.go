package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/pkg/apperr"
)

// MsgPaymentNotFound is reported when a transition names an order no payment row holds.
const MsgPaymentNotFound = "Payment record not found"

// Store is the payment record store.
type Store interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	FindActive(ctx context.Context, teamID, eventID uuid.UUID) (*models.Payment, error)
	SetTransactionID(ctx context.Context, id uuid.UUID, transactionID string, response json.RawMessage) error
	Transition(ctx context.Context, t Transition) (*models.Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Payment, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
}

// TeamProjector projects a payment status onto its team and reports whether the team changed.
type TeamProjector interface {
	Project(ctx context.Context, teamID uuid.UUID, status models.PaymentStatus) (bool, error)
}

// Notifier announces a team payment outcome.
type Notifier interface {
	Notify(ctx context.Context, p *models.Payment) error
}

// Outcome is the result of applying a transition.
type Outcome struct {
	Payment *models.Payment
	// Applied is false when the payment was already at or past the requested status.
	Applied     bool
	TeamUpdated bool
}

// Settler applies payment transitions for every path that learns about a gateway outcome
// (webhooks, client verification, reconciliation) and keeps the team projection and notifications in step.
type Settler struct {
	store     Store
	projector TeamProjector
	notifier  Notifier
	logger    *zap.Logger
}

// NewSettler creates a settler. notifier may be nil.
func NewSettler(store Store, projector TeamProjector, notifier Notifier, logger *zap.Logger) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settler{store: store, projector: projector, notifier: notifier, logger: logger}
}

// Apply performs t as one conditional update. A transition the lattice does not allow from the current
// status is a successful no-op. The team projection and notification are best-effort once the payment row committed.
func (s *Settler) Apply(ctx context.Context, t Transition) (*Outcome, error) {
	p, err := s.store.Transition(ctx, t)
	if err != nil {
		return nil, apperr.Internal("failed to update payment", err)
	}
	out := &Outcome{Payment: p, Applied: p != nil}
	if p == nil {
		current, err := s.store.GetByTransactionID(ctx, t.TransactionID)
		if err != nil {
			return nil, apperr.Internal("failed to load payment", err)
		}
		if current == nil {
			s.logger.Error("payment transition for unknown order",
				zap.String("transaction_id", t.TransactionID),
				zap.String("to", string(t.To)),
			)
			return nil, apperr.NotFound(MsgPaymentNotFound)
		}
		out.Payment = current
		s.logger.Info("payment transition skipped",
			zap.String("payment_id", current.ID.String()),
			zap.String("status", string(current.Status)),
			zap.String("requested", string(t.To)),
		)
	} else {
		s.logger.Info("payment transitioned",
			zap.String("payment_id", p.ID.String()),
			zap.String("transaction_id", t.TransactionID),
			zap.String("status", string(p.Status)),
		)
	}

	// Re-projecting a skipped transition heals a team update that failed on an earlier delivery.
	out.TeamUpdated = s.project(ctx, out.Payment)
	return out, nil
}

// Abandon fails an active payment by ID (no order reference, or checkout never completed) and projects the team.
func (s *Settler) Abandon(ctx context.Context, p *models.Payment, reason string) (*Outcome, error) {
	changed, err := s.store.MarkFailed(ctx, p.ID, reason)
	if err != nil {
		return nil, apperr.Internal("failed to update payment", err)
	}
	current, err := s.store.GetByID(ctx, p.ID)
	if err != nil {
		return nil, apperr.Internal("failed to load payment", err)
	}
	if current == nil {
		return nil, apperr.NotFound(MsgPaymentNotFound)
	}
	out := &Outcome{Payment: current, Applied: changed}
	if changed {
		s.logger.Info("payment abandoned", zap.String("payment_id", p.ID.String()), zap.String("reason", reason))
		out.TeamUpdated = s.project(ctx, current)
	}
	return out, nil
}

func (s *Settler) project(ctx context.Context, p *models.Payment) bool {
	changed, err := s.projector.Project(ctx, p.TeamID, p.Status)
	if err != nil {
		s.logger.Error("team projection failed; payment update kept",
			zap.Error(err),
			zap.String("payment_id", p.ID.String()),
			zap.String("team_id", p.TeamID.String()),
			zap.String("status", string(p.Status)),
		)
		return false
	}
	if changed && s.notifier != nil {
		if err := s.notifier.Notify(ctx, p); err != nil {
			s.logger.Warn("payment notification not queued", zap.Error(err), zap.String("payment_id", p.ID.String()))
		}
	}
	return changed
}
