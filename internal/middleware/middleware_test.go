package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackportal/backend/internal/auth"
	"github.com/hackportal/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwtSvc *auth.JWTService, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(jwtSvc)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c).String(), "role": UserRole(c), "admin": IsAdmin(c)})
	})
	r.GET("/me", handlers...)
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTSetsCaller(t *testing.T) {
	svc := auth.NewJWTService("secret", 1, "authenticated")
	userID := uuid.New()
	token, err := svc.Generate(userID, "a@example.com", string(models.RoleAdmin))
	require.NoError(t, err)

	w := get(newRouter(svc), token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), `"admin":true`)
}

func TestJWTRejectsMissingAndInvalid(t *testing.T) {
	svc := auth.NewJWTService("secret", 1, "authenticated")
	r := newRouter(svc)
	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "not-a-token").Code)
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1, "authenticated")
	r := newRouter(svc, RequireRole(models.RoleAdmin))

	participant, err := svc.Generate(uuid.New(), "", string(models.RoleParticipant))
	require.NoError(t, err)
	admin, err := svc.Generate(uuid.New(), "", string(models.RoleAdmin))
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, get(r, participant).Code)
	assert.Equal(t, http.StatusOK, get(r, admin).Code)
}

func TestRateLimitPerUser(t *testing.T) {
	svc := auth.NewJWTService("secret", 1, "authenticated")
	r := newRouter(svc, RateLimit(NewRateLimiter(1, 2)))

	alice, err := svc.Generate(uuid.New(), "", "participant")
	require.NoError(t, err)
	bob, err := svc.Generate(uuid.New(), "", "participant")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(r, alice).Code)
	assert.Equal(t, http.StatusOK, get(r, alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, alice).Code)
	assert.Equal(t, http.StatusOK, get(r, bob).Code, "buckets are per user")
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS("https://portal.example.com"))
	r.POST("/payments/orders", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/payments/orders", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://portal.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSSkipsExceptedPrefixes(t *testing.T) {
	r := gin.New()
	r.Use(CORS("*", "/webhooks/"))
	r.Any("/webhooks/payments", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/webhooks/payments", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerSetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
