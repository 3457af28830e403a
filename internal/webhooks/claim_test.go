package webhooks_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/internal/signature"
	"github.com/hackportal/backend/internal/webhooks"
)

const claimKey = "webhook:event:evt_1"

type settlerFunc func(ctx context.Context, t payments.Transition) (*payments.Outcome, error)

func (f settlerFunc) Apply(ctx context.Context, t payments.Transition) (*payments.Outcome, error) {
	return f(ctx, t)
}

// ctxLog records only while its context is live, like a database write would.
type ctxLog struct {
	mu     sync.Mutex
	events []models.WebhookEvent
}

func (l *ctxLog) Record(ctx context.Context, e *models.WebhookEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *e)
	return nil
}

type claimEnv struct {
	mr     *miniredis.Miniredis
	log    *ctxLog
	router *gin.Engine
}

func newClaimEnv(t *testing.T, settler webhooks.Settler) *claimEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	dedupe := webhooks.NewRedisDeduper(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour).WithClaimTTL(time.Minute)
	e := &claimEnv{mr: mr, log: &ctxLog{}}
	h := webhooks.NewHandler(webhooks.NewRouter(settler, nil), webhooks.Options{Secret: secret, Dedupe: dedupe, Events: e.log}, nil)
	e.router = gin.New()
	e.router.POST("/webhooks/payments", h.Receive)
	return e
}

func (e *claimEnv) deliver(ctx context.Context) *httptest.ResponseRecorder {
	body := captured("order_123", "pay_1")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body)).WithContext(ctx)
	req.Header.Set(webhooks.HeaderSignature, signature.Sign([]byte(body), secret))
	req.Header.Set(webhooks.HeaderEventID, "evt_1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func paidOutcome() *payments.Outcome {
	return &payments.Outcome{Payment: &models.Payment{Status: models.PaymentStatusPaid}, Applied: true}
}

func TestClaimReleasedWhenGatewayDisconnectsDuringFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newClaimEnv(t, settlerFunc(func(context.Context, payments.Transition) (*payments.Outcome, error) {
		cancel()
		return nil, errors.New("connection reset")
	}))

	w := e.deliver(ctx)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, e.mr.Exists(claimKey), "a failed delivery must not block the retry")
	require.Len(t, e.log.events, 1)
	assert.False(t, e.log.events[0].Success)
}

func TestCompletedEventSurvivesGatewayDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var settleCtxErr error
	e := newClaimEnv(t, settlerFunc(func(ctx context.Context, _ payments.Transition) (*payments.Outcome, error) {
		cancel()
		settleCtxErr = ctx.Err()
		return paidOutcome(), nil
	}))

	e.deliver(ctx)
	assert.NoError(t, settleCtxErr)
	val, err := e.mr.Get(claimKey)
	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, time.Hour, e.mr.TTL(claimKey))
	require.Len(t, e.log.events, 1)
	assert.True(t, e.log.events[0].Success)
}

func TestConcurrentDeliveryAskedToRetry(t *testing.T) {
	calls := 0
	e := newClaimEnv(t, settlerFunc(func(context.Context, payments.Transition) (*payments.Outcome, error) {
		calls++
		return paidOutcome(), nil
	}))
	require.NoError(t, e.mr.Set(claimKey, "processing"))

	w := e.deliver(context.Background())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, calls)
	assert.Empty(t, e.log.events)
}

func TestStaleProcessingLeaseExpires(t *testing.T) {
	calls := 0
	e := newClaimEnv(t, settlerFunc(func(context.Context, payments.Transition) (*payments.Outcome, error) {
		calls++
		return paidOutcome(), nil
	}))

	// a delivery that crashed after claiming
	require.NoError(t, e.mr.Set(claimKey, "processing"))
	e.mr.SetTTL(claimKey, time.Minute)
	assert.Equal(t, http.StatusConflict, e.deliver(context.Background()).Code)

	e.mr.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusOK, e.deliver(context.Background()).Code)
	assert.Equal(t, 1, calls)

	w := e.deliver(context.Background())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Duplicate event ignored", decode(t, w)["message"])
	assert.Equal(t, 1, calls)
}
