package payments_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackportal/backend/internal/middleware"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/pkg/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
}

func newRouter(f *fixture, userID uuid.UUID) *gin.Engine {
	h := payments.NewHandler(f.svc, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserRole, "participant")
		c.Next()
	})
	r.POST("/payments/orders", h.CreateOrder)
	r.POST("/payments/orders/:orderId/session", h.CreateSession)
	r.POST("/payments/verify", h.Verify)
	r.GET("/payments/:id", h.Get)
	r.GET("/teams/:id/payments", h.ListByTeam)
	return r
}

func do(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHandlerCreateOrderThenReuse(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.leader)
	body := `{"teamId":"` + f.team.ID.String() + `","eventId":"` + f.team.EventID.String() + `","amount":"400.00","currency":"INR"}`

	w, env := do(r, http.MethodPost, "/payments/orders", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)

	var res payments.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "order_1", res.Order.ID)
	assert.Equal(t, "fake", res.Order.Provider)

	w, _ = do(r, http.MethodPost, "/payments/orders", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerCreateOrderErrors(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.leader)

	w, env := do(r, http.MethodPost, "/payments/orders", `{"teamId":"","eventId":"","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, apperr.KindValidation.String(), env.Kind)

	w, _ = do(r, http.MethodPost, "/payments/orders", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stranger := newRouter(f, uuid.New())
	body := `{"teamId":"` + f.team.ID.String() + `","eventId":"` + f.team.EventID.String() + `","amount":"400"}`
	w, env = do(stranger, http.MethodPost, "/payments/orders", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", env.Kind)
}

func TestHandlerGatewayFailureIs502(t *testing.T) {
	f := newFixture(t)
	f.gw.OrderErr = assert.AnError
	r := newRouter(f, f.leader)
	body := `{"teamId":"` + f.team.ID.String() + `","eventId":"` + f.team.EventID.String() + `","amount":"400"}`

	w, env := do(r, http.MethodPost, "/payments/orders", body)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "gateway", env.Kind)
	assert.Equal(t, "failed to create gateway order", env.Error)
}

func TestHandlerSessionAndVerify(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.leader)
	body := `{"teamId":"` + f.team.ID.String() + `","eventId":"` + f.team.EventID.String() + `","amount":"400"}`
	w, _ := do(r, http.MethodPost, "/payments/orders", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := do(r, http.MethodPost, "/payments/orders/order_1/session", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), "session_order_1")

	w, env = do(r, http.MethodPost, "/payments/verify", `{"paymentId":"pay_1","orderId":"order_1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", env.Kind)

	w, env = do(r, http.MethodPost, "/payments/verify", `{"paymentId":"pay_1","orderId":"order_1","signature":"abc"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res payments.VerifyResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "paid", string(res.Payment.Status))
}

func TestHandlerGetAndList(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.leader)

	w, _ := do(r, http.MethodGet, "/payments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(r, http.MethodGet, "/payments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := do(r, http.MethodGet, "/teams/"+f.team.ID.String()+"/payments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}
