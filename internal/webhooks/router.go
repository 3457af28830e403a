package webhooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/payments"
)

// Settler applies payment transitions.
type Settler interface {
	Apply(ctx context.Context, t payments.Transition) (*payments.Outcome, error)
}

// Result is the outcome of routing one event. Error is set only when Success is false.
type Result struct {
	Success       bool
	Message       string
	Error         string
	TransactionID string
}

func ok(message, transactionID string) Result {
	return Result{Success: true, Message: message, TransactionID: transactionID}
}

func fail(err, transactionID string) Result {
	return Result{Success: false, Error: err, TransactionID: transactionID}
}

// Router dispatches verified events to their handlers.
type Router struct {
	settler Settler
	logger  *zap.Logger
}

// NewRouter creates an event router.
func NewRouter(settler Settler, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{settler: settler, logger: logger}
}

// Route handles one verified event. It never panics: a handler panic becomes a failed Result.
func (r *Router) Route(ctx context.Context, env *Envelope) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("webhook handler panicked",
				zap.String("event", env.Event),
				zap.Any("panic", rec),
			)
			res = fail(fmt.Sprintf("internal error handling %s", env.Event), env.OrderID())
		}
	}()

	switch env.Event {
	case EventPaymentCaptured:
		return r.paymentCaptured(ctx, env)
	case EventPaymentFailed:
		return r.paymentFailed(ctx, env)
	case EventPaymentAuthorized:
		return r.paymentAuthorized(ctx, env)
	case EventOrderPaid:
		return r.orderPaid(ctx, env)
	default:
		r.logger.Info("webhook event ignored", zap.String("event", env.Event))
		return ok("Event "+env.Event+" acknowledged", "")
	}
}
