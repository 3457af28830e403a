// Package teams holds team persistence and the projection of payment outcomes onto team status.
package teams

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/models"
)

// Store is the team write surface the projector needs.
type Store interface {
	MarkPaid(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

// Projector derives a team's cached payment_status/status from a payment's status.
type Projector struct {
	store  Store
	logger *zap.Logger
}

// NewProjector creates a team status projector.
func NewProjector(store Store, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{store: store, logger: logger}
}

// Project applies a payment status to its team. It reports whether the team row changed,
// so callers can fire side effects at most once per team outcome.
// pending and authorized payments never touch the team.
func (p *Projector) Project(ctx context.Context, teamID uuid.UUID, status models.PaymentStatus) (bool, error) {
	var (
		changed bool
		err     error
	)
	switch {
	case status.IsSettled():
		changed, err = p.store.MarkPaid(ctx, teamID)
	case status == models.PaymentStatusFailed:
		changed, err = p.store.MarkFailed(ctx, teamID)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if changed {
		p.logger.Info("team payment status projected",
			zap.String("team_id", teamID.String()),
			zap.String("payment_status", string(status)),
		)
	}
	return changed, nil
}
