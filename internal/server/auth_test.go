package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTServiceRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	token, err := svc.GenerateToken("agent-1", "controller")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.Subject)
	assert.Equal(t, "controller", claims.Role)
	assert.Equal(t, "screenreel", claims.Issuer)
}

func TestJWTServiceRejectsForeignSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).GenerateToken("agent-1", "controller")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", time.Hour).VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	// Negative expiration is normalized to the default at construction, so
	// build the short-lived token through a dedicated service instance.
	short := &JWTService{secretKey: []byte("test-secret"), expiration: -time.Minute}

	token, err := short.GenerateToken("agent-1", "controller")
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTServiceRejectsGarbage(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	_, err := svc.VerifyToken("not.a.token")
	assert.Error(t, err)
}
