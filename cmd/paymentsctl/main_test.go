package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackportal/backend/internal/auth"
	"github.com/hackportal/backend/internal/signature"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestSignStdin(t *testing.T) {
	body := `{"event":"payment.captured"}`
	out, err := run(t, body, "sign", "--secret", "whsec")
	require.NoError(t, err)
	assert.Equal(t, signature.Sign([]byte(body), "whsec"), out)
	assert.True(t, signature.Verify([]byte(body), out, "whsec"))
}

func TestSignRequiresSecret(t *testing.T) {
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "")
	_, err := run(t, "{}", "sign")
	assert.Error(t, err)
}

func TestTokenValidates(t *testing.T) {
	userID := uuid.New()
	out, err := run(t, "", "token", userID.String(), "--secret", "jwt-secret", "--role", "admin")
	require.NoError(t, err)

	claims, err := auth.NewJWTService("jwt-secret", 1, "authenticated").Validate(out)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, id)
	assert.Equal(t, "admin", claims.AppRole())
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	_, err := run(t, "", "token", uuid.NewString(), "--secret", "s", "--role", "root")
	assert.Error(t, err)
}
