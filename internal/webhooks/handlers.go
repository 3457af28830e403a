package webhooks

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/pkg/apperr"
)

// defaultFailureReason is stored when the gateway gives no description.
const defaultFailureReason = "Payment failed"

func (r *Router) paymentCaptured(ctx context.Context, env *Envelope) Result {
	p := env.PaymentEntity()
	if p == nil || p.OrderID == "" {
		return fail("payment entity with order_id is required", "")
	}
	return r.apply(ctx, env, payments.Transition{
		TransactionID:    p.OrderID,
		To:               models.PaymentStatusPaid,
		GatewayPaymentID: optional(p.ID),
		Method:           optional(p.Method),
		Response:         patch("payment", p.Raw),
		At:               env.PaymentAt(),
	}, "Payment captured")
}

func (r *Router) paymentFailed(ctx context.Context, env *Envelope) Result {
	p := env.PaymentEntity()
	if p == nil || p.OrderID == "" {
		return fail("payment entity with order_id is required", "")
	}
	reason := p.ErrorDescription
	if reason == "" {
		reason = defaultFailureReason
	}
	return r.apply(ctx, env, payments.Transition{
		TransactionID:    p.OrderID,
		To:               models.PaymentStatusFailed,
		GatewayPaymentID: optional(p.ID),
		Method:           optional(p.Method),
		FailureReason:    &reason,
		Response:         patch("payment", p.Raw),
		At:               env.PaymentAt(),
	}, "Payment failure recorded")
}

func (r *Router) paymentAuthorized(ctx context.Context, env *Envelope) Result {
	p := env.PaymentEntity()
	if p == nil || p.OrderID == "" {
		return fail("payment entity with order_id is required", "")
	}
	return r.apply(ctx, env, payments.Transition{
		TransactionID:    p.OrderID,
		To:               models.PaymentStatusAuthorized,
		GatewayPaymentID: optional(p.ID),
		Method:           optional(p.Method),
		Response:         patch("payment", p.Raw),
		At:               env.PaymentAt(),
	}, "Payment authorized")
}

func (r *Router) orderPaid(ctx context.Context, env *Envelope) Result {
	orderID := env.OrderID()
	if orderID == "" {
		return fail("order entity with id is required", "")
	}
	t := payments.Transition{
		TransactionID: orderID,
		To:            models.PaymentStatusCompleted,
		At:            env.OccurredAt(),
	}
	fields := map[string]json.RawMessage{}
	if o := env.OrderEntity(); o != nil && len(o.Raw) > 0 {
		fields["order"] = o.Raw
	}
	if p := env.PaymentEntity(); p != nil {
		t.GatewayPaymentID = optional(p.ID)
		t.Method = optional(p.Method)
		if len(p.Raw) > 0 {
			fields["payment"] = p.Raw
		}
	}
	if len(fields) > 0 {
		t.Response, _ = json.Marshal(fields)
	}
	return r.apply(ctx, env, t, "Order paid")
}

// apply runs the transition through the settler and turns its outcome into a Result.
func (r *Router) apply(ctx context.Context, env *Envelope, t payments.Transition, applied string) Result {
	out, err := r.settler.Apply(ctx, t)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			r.logger.Error("webhook transition failed",
				zap.Error(err),
				zap.String("event", env.Event),
				zap.String("transaction_id", t.TransactionID),
			)
		}
		return fail(apperr.Message(err), t.TransactionID)
	}
	if !out.Applied {
		return ok("Payment already "+string(out.Payment.Status), t.TransactionID)
	}
	return ok(applied, t.TransactionID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func patch(key string, raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	b, _ := json.Marshal(map[string]json.RawMessage{key: raw})
	return b
}
