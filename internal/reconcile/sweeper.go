// Package reconcile settles payments whose outcome never reached the server by asking the gateway directly.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/gateway"
	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/payments"
)

// Store lists payments still awaiting an outcome.
type Store interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
}

// Settler applies the transitions the sweep decides on.
type Settler interface {
	Apply(ctx context.Context, t payments.Transition) (*payments.Outcome, error)
	Abandon(ctx context.Context, p *models.Payment, reason string) (*payments.Outcome, error)
}

// Options tunes the sweep.
type Options struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	AbandonAfter time.Duration
	BatchSize    int
}

// Report summarizes one sweep.
type Report struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Sweeper reconciles stale pending and authorized payments against the gateway.
type Sweeper struct {
	store   Store
	settler Settler
	gateway gateway.Gateway
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(store Store, settler Settler, gw gateway.Gateway, opts Options, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	return &Sweeper{store: store, settler: settler, gateway: gw, opts: opts, logger: logger, now: time.Now}
}

// Run sweeps once immediately and then every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("reconciliation started", zap.Duration("interval", s.opts.Interval))
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reconciliation sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep checks one batch of stale payments. Errors on individual payments are counted, not returned.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	now := s.now()
	stale, err := s.store.ListStale(ctx, now.Add(-s.opts.StaleAfter), s.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	for i := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		s.reconcile(ctx, &stale[i], now, report)
	}
	if report.Checked > 0 {
		s.logger.Info("reconciliation sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Int("abandoned", report.Abandoned),
			zap.Int("errors", report.Errors),
		)
	}
	return report, nil
}

func (s *Sweeper) reconcile(ctx context.Context, p *models.Payment, now time.Time, report *Report) {
	log := s.logger.With(zap.String("payment_id", p.ID.String()), zap.String("transaction_id", p.OrderReference()))
	expired := now.Sub(p.CreatedAt) >= s.opts.AbandonAfter

	if p.OrderReference() == "" {
		// The gateway never issued an order, so there is nothing to ask it.
		s.abandon(ctx, p, log, report)
		return
	}

	status, err := s.gateway.FetchOrder(ctx, p.OrderReference())
	if err != nil {
		log.Warn("gateway order lookup failed", zap.Error(err))
		report.Errors++
		return
	}

	switch status.State {
	case gateway.OrderPaid:
		t := payments.Transition{
			TransactionID:    p.OrderReference(),
			To:               models.PaymentStatusCompleted,
			GatewayPaymentID: optional(status.PaymentID),
			Method:           optional(status.Method),
			Response:         snapshot(status.Raw, now),
		}
		if _, err := s.settler.Apply(ctx, t); err != nil {
			log.Error("reconcile completion failed", zap.Error(err))
			report.Errors++
			return
		}
		log.Info("payment completed by reconciliation")
		report.Completed++
	case gateway.OrderClosed:
		reason := "gateway order closed without payment"
		if _, err := s.settler.Apply(ctx, payments.Transition{
			TransactionID: p.OrderReference(),
			To:            models.PaymentStatusFailed,
			FailureReason: &reason,
			Response:      snapshot(status.Raw, now),
		}); err != nil {
			log.Error("reconcile failure failed", zap.Error(err))
			report.Errors++
			return
		}
		report.Failed++
	default:
		if expired {
			s.abandon(ctx, p, log, report)
			return
		}
		report.Pending++
	}
}

func (s *Sweeper) abandon(ctx context.Context, p *models.Payment, log *zap.Logger, report *Report) {
	if _, err := s.settler.Abandon(ctx, p, payments.ReasonAbandoned); err != nil {
		log.Error("abandon payment failed", zap.Error(err))
		report.Errors++
		return
	}
	log.Info("payment abandoned by reconciliation")
	report.Abandoned++
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// snapshot wraps the gateway's order view for the stored gateway response.
func snapshot(raw json.RawMessage, at time.Time) json.RawMessage {
	body := map[string]any{"checked_at": at.UTC()}
	if len(raw) > 0 {
		body["order"] = raw
	}
	b, _ := json.Marshal(map[string]any{"reconciliation": body})
	return b
}
