package webhooks_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/internal/payments/paymentstest"
	"github.com/hackportal/backend/internal/signature"
	"github.com/hackportal/backend/internal/teams"
	"github.com/hackportal/backend/internal/webhooks"
)

const secret = "whsec_test"

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryLog struct {
	mu     sync.Mutex
	events []models.WebhookEvent
}

func (l *memoryLog) Record(_ context.Context, e *models.WebhookEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *e)
	return nil
}

type env struct {
	store    *paymentstest.Store
	teams    *paymentstest.Teams
	gw       *paymentstest.Gateway
	notifier *paymentstest.Notifier
	svc      *payments.Service
	log      *memoryLog
	router   *gin.Engine
	leader   uuid.UUID
	team     *models.Team
}

func newEnv(t *testing.T, dedupe webhooks.Deduper) *env {
	t.Helper()
	e := &env{
		store:    paymentstest.NewStore(),
		teams:    paymentstest.NewTeams(),
		gw:       paymentstest.NewGateway(),
		notifier: paymentstest.NewNotifier(),
		log:      &memoryLog{},
		leader:   uuid.New(),
	}
	e.team = e.teams.Add(models.Team{EventID: uuid.New(), LeaderID: e.leader, Name: "T1"})
	settler := payments.NewSettler(e.store, teams.NewProjector(e.teams, nil), e.notifier, nil)
	e.svc = payments.NewService(e.store, e.teams, e.gw, settler, payments.Options{ReuseWindow: time.Hour}, nil)

	h := webhooks.NewHandler(webhooks.NewRouter(settler, nil), webhooks.Options{
		Secret: secret,
		Dedupe: dedupe,
		Events: e.log,
	}, nil)
	e.router = gin.New()
	e.router.Any("/webhooks/payments", h.Receive)
	return e
}

func (e *env) createOrder(t *testing.T, orderID string) *models.Payment {
	t.Helper()
	e.gw.NextOrderID = orderID
	res, err := e.svc.CreateOrder(context.Background(), payments.Caller{UserID: e.leader}, payments.CreateOrderInput{
		TeamID:   e.team.ID.String(),
		EventID:  e.team.EventID.String(),
		Amount:   decimal.NewFromInt(400),
		Currency: "INR",
	})
	require.NoError(t, err)
	return res.Payment
}

func (e *env) deliver(body string) *httptest.ResponseRecorder {
	return e.deliverSigned(body, signature.Sign([]byte(body), secret))
}

func (e *env) deliverSigned(body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(webhooks.HeaderSignature, sig)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func captured(orderID, paymentID string) string {
	return `{"entity":"event","event":"payment.captured","payload":{"payment":{"entity":{"id":"` + paymentID +
		`","order_id":"` + orderID + `","amount":40000,"currency":"INR","status":"captured","method":"upi","created_at":1700000000}}},"created_at":1700000001}`
}

func TestCapturedWebhookSettlesPaymentAndTeam(t *testing.T) {
	e := newEnv(t, nil)
	p := e.createOrder(t, "order_123")
	assert.Equal(t, "order_123", p.OrderReference())

	w := e.deliver(captured("order_123", "pay_1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "payment.captured", body["event"])

	stored := e.store.Get(p.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.Status)
	assert.Equal(t, "pay_1", *stored.GatewayPaymentID)
	assert.Equal(t, "upi", *stored.PaymentMethod)
	assert.Equal(t, "order_123", stored.OrderReference())
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, int64(1700000000), stored.PaidAt.Unix(), "paid_at comes from the payment entity")
	assert.Contains(t, string(stored.GatewayResponse), `"payment":{"id":"pay_1"`)

	team := e.teams.Team(e.team.ID)
	assert.Equal(t, models.TeamStatusApproved, team.Status)
	assert.Equal(t, models.TeamPaymentPaid, team.PaymentStatus)

	// second identical delivery converges on the same state
	w = e.deliver(captured("order_123", "pay_1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Payment already paid", decode(t, w)["message"])
	assert.Equal(t, models.PaymentStatusPaid, e.store.Get(p.ID).Status)
	assert.Equal(t, 1, e.store.Count())
	assert.Equal(t, 1, e.notifier.Calls[p.ID])
	assert.Equal(t, 1, e.teams.Writes)
}

func TestWebhookAndClientVerificationConverge(t *testing.T) {
	verify := func(e *env) {
		_, err := e.svc.VerifyPayment(context.Background(), payments.Caller{UserID: e.leader}, payments.VerifyInput{
			PaymentID: "pay_1", OrderID: "order_123", Signature: "sig",
		})
		require.NoError(t, err)
	}
	webhook := func(e *env) {
		require.Equal(t, http.StatusOK, e.deliver(captured("order_123", "pay_1")).Code)
	}

	for name, steps := range map[string][]func(*env){
		"webhook first": {webhook, verify},
		"verify first":  {verify, webhook},
	} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, nil)
			p := e.createOrder(t, "order_123")
			for _, step := range steps {
				step(e)
			}
			assert.True(t, e.store.Get(p.ID).Status.IsSettled())
			team := e.teams.Team(e.team.ID)
			assert.Equal(t, models.TeamStatusApproved, team.Status)
			assert.Equal(t, models.TeamPaymentPaid, team.PaymentStatus)
			assert.Equal(t, 1, e.notifier.Total())
		})
	}
}

func TestLateAuthorizedDoesNotDowngrade(t *testing.T) {
	e := newEnv(t, nil)
	p := e.createOrder(t, "order_123")
	require.Equal(t, http.StatusOK, e.deliver(captured("order_123", "pay_1")).Code)

	authorized := strings.Replace(captured("order_123", "pay_1"), "payment.captured", "payment.authorized", 1)
	w := e.deliver(authorized)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PaymentStatusPaid, e.store.Get(p.ID).Status)
}

func TestOrderPaidCompletesPayment(t *testing.T) {
	e := newEnv(t, nil)
	p := e.createOrder(t, "order_123")
	require.Equal(t, http.StatusOK, e.deliver(captured("order_123", "pay_1")).Code)

	orderPaid := `{"event":"order.paid","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_123"}},` +
		`"order":{"entity":{"id":"order_123","amount":40000,"amount_paid":40000,"status":"paid"}}},"created_at":1700000002}`
	w := e.deliver(orderPaid)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored := e.store.Get(p.ID)
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	assert.Contains(t, string(stored.GatewayResponse), `"amount_paid":40000`)
	assert.Equal(t, 1, e.notifier.Total(), "order.paid after capture does not notify again")
}

func TestUnknownEventAcknowledgedWithoutWrites(t *testing.T) {
	e := newEnv(t, nil)
	e.createOrder(t, "order_123")
	writes := e.store.Writes

	w := e.deliver(`{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_1"}}},"created_at":1700000000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", decode(t, w)["status"])
	assert.Equal(t, writes, e.store.Writes)
	assert.Zero(t, e.teams.Writes)
}

func TestFailedWebhookForUnknownOrder(t *testing.T) {
	e := newEnv(t, nil)
	w := e.deliver(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_missing",` +
		`"error_description":"Insufficient funds"}}},"created_at":1700000000}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Payment record not found", decode(t, w)["error"])
	assert.Zero(t, e.teams.Writes)
	require.Len(t, e.log.events, 1)
	assert.False(t, e.log.events[0].Success)
}

func TestFailedWebhookStoresReason(t *testing.T) {
	e := newEnv(t, nil)
	p := e.createOrder(t, "order_123")
	w := e.deliver(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_123",` +
		`"error_description":"Insufficient funds"}}},"created_at":1700000000}`)
	require.Equal(t, http.StatusOK, w.Code)

	stored := e.store.Get(p.ID)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)
	assert.Equal(t, "Insufficient funds", *stored.FailureReason)
	team := e.teams.Team(e.team.ID)
	assert.Equal(t, models.TeamPaymentFailed, team.PaymentStatus)
	assert.Equal(t, models.TeamStatusPending, team.Status)
}

func TestSignatureRejectedBeforeAnyWrite(t *testing.T) {
	e := newEnv(t, nil)
	p := e.createOrder(t, "order_123")
	body := captured("order_123", "pay_1")

	for _, sig := range []string{"", "deadbeef", signature.Sign([]byte(body), "other-secret"), signature.Sign([]byte(body+" "), secret)} {
		w := e.deliverSigned(body, sig)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid signature", decode(t, w)["error"])
	}
	assert.Equal(t, models.PaymentStatusPending, e.store.Get(p.ID).Status)
	assert.Empty(t, e.log.events)
}

func TestMissingSecretFailsClosed(t *testing.T) {
	e := newEnv(t, nil)
	settler := payments.NewSettler(e.store, teams.NewProjector(e.teams, nil), e.notifier, nil)
	h := webhooks.NewHandler(webhooks.NewRouter(settler, nil), webhooks.Options{}, nil)
	e.router = gin.New()
	e.router.POST("/webhooks/payments", h.Receive)

	body := captured("order_123", "pay_1")
	w := e.deliverSigned(body, signature.Sign([]byte(body), ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidJSONAfterValidSignature(t *testing.T) {
	e := newEnv(t, nil)
	w := e.deliver(`{"event":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid payload", decode(t, w)["error"])
}

func TestMethods(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/webhooks/payments", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/webhooks/payments", nil)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDuplicateDeliveryIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	e := newEnv(t, webhooks.NewRedisDeduper(client, time.Hour))
	p := e.createOrder(t, "order_123")

	body := captured("order_123", "pay_1")
	require.Equal(t, http.StatusOK, e.deliver(body).Code)
	writes := e.store.Writes

	w := e.deliver(body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Duplicate event ignored", decode(t, w)["message"])
	assert.Equal(t, writes, e.store.Writes)
	assert.Equal(t, 1, e.notifier.Calls[p.ID])
	assert.Len(t, e.log.events, 1)
}

func TestFailedProcessingReleasesClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	e := newEnv(t, webhooks.NewRedisDeduper(client, time.Hour))

	body := captured("order_123", "pay_1")
	require.Equal(t, http.StatusInternalServerError, e.deliver(body).Code)
	assert.Empty(t, mr.Keys())

	// the payment row appears (e.g. replication lag) and the gateway retry succeeds
	p := e.createOrder(t, "order_123")
	require.Equal(t, http.StatusOK, e.deliver(body).Code)
	assert.Equal(t, models.PaymentStatusPaid, e.store.Get(p.ID).Status)
	assert.Len(t, mr.Keys(), 1)
}

func TestDedupeUnavailableStillProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	e := newEnv(t, webhooks.NewRedisDeduper(client, time.Hour))
	p := e.createOrder(t, "order_123")
	mr.Close()

	require.Equal(t, http.StatusOK, e.deliver(captured("order_123", "pay_1")).Code)
	assert.Equal(t, models.PaymentStatusPaid, e.store.Get(p.ID).Status)
}

type memoryArchive struct {
	mu     sync.Mutex
	bodies map[string]string
	err    error
}

func (a *memoryArchive) PutWebhook(_ context.Context, eventID string, _ time.Time, body []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bodies == nil {
		a.bodies = map[string]string{}
	}
	a.bodies[eventID] = string(body)
	return "webhooks/" + eventID + ".json", nil
}

func archivingRouter(archive webhooks.Archiver, log *memoryLog) *gin.Engine {
	settler := payments.NewSettler(paymentstest.NewStore(), teams.NewProjector(paymentstest.NewTeams(), nil), paymentstest.NewNotifier(), nil)
	h := webhooks.NewHandler(webhooks.NewRouter(settler, nil), webhooks.Options{Secret: secret, Archive: archive, Events: log}, nil)
	r := gin.New()
	r.POST("/webhooks/payments", h.Receive)
	return r
}

func postWithID(r *gin.Engine, body, eventID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set(webhooks.HeaderSignature, signature.Sign([]byte(body), secret))
	req.Header.Set(webhooks.HeaderEventID, eventID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerifiedBodyIsArchivedAndLogged(t *testing.T) {
	archive := &memoryArchive{}
	log := &memoryLog{}
	body := `{"event":"refund.created","payload":{}}`

	w := postWithID(archivingRouter(archive, log), body, "evt_1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, body, archive.bodies["evt_1"])
	require.Len(t, log.events, 1)
	assert.Equal(t, "evt_1", log.events[0].EventID)
	assert.Equal(t, "refund.created", log.events[0].EventType)
	assert.Equal(t, "webhooks/evt_1.json", log.events[0].ArchiveKey)
	assert.True(t, log.events[0].Success)
}

func TestArchiveFailureDoesNotBlockProcessing(t *testing.T) {
	archive := &memoryArchive{err: assert.AnError}
	log := &memoryLog{}

	w := postWithID(archivingRouter(archive, log), `{"event":"refund.created","payload":{}}`, "evt_2")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, log.events, 1)
	assert.Empty(t, log.events[0].ArchiveKey)
}
