package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYMENT_GATEWAY", "")
	t.Setenv("RECONCILE_STALE_AFTER", "")
	t.Setenv("RECONCILE_ABANDON_AFTER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, GatewayRazorpay, cfg.Payments.Gateway)
	assert.Equal(t, "INR", cfg.Payments.DefaultCurrency)
	assert.Equal(t, 72*time.Hour, cfg.Webhook.DedupeTTL)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.ClaimTTL)
	assert.Equal(t, 2*time.Hour, cfg.Reconcile.StaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Reconcile.AbandonAfter)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAYMENT_GATEWAY", "Cashfree")
	t.Setenv("RECONCILE_STALE_AFTER", "3h")
	t.Setenv("RECONCILE_ABANDON_AFTER", "6h")
	t.Setenv("WEBHOOK_ARCHIVE", "true")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, GatewayCashfree, cfg.Payments.Gateway)
	assert.Equal(t, 3*time.Hour, cfg.Reconcile.StaleAfter)
	assert.True(t, cfg.Webhook.Archive)
	assert.Equal(t, "whsec", cfg.WebhookSecret())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("unknown gateway", func(t *testing.T) {
		t.Setenv("PAYMENT_GATEWAY", "paypal")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("abandon shorter than stale", func(t *testing.T) {
		t.Setenv("PAYMENT_GATEWAY", "razorpay")
		t.Setenv("RECONCILE_STALE_AFTER", "5h")
		t.Setenv("RECONCILE_ABANDON_AFTER", "1h")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
	c.URL = "postgres://elsewhere/db"
	assert.Equal(t, "postgres://elsewhere/db", c.DSN())
}
