package auth

import (
	"chat-relay/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "my_strong_and_long_secret_key_2026"

func TestVerifyAccessToken(t *testing.T) {
	req := require.New(t)
	verifier := NewTokenVerifier(testSecret)

	// Given a freshly signed access token
	token, err := GenerateToken(testSecret, "user-42", "user42@example.com", TokenTypeAccess, time.Hour)
	req.NoError(err)

	// When verifying it
	identity, err := verifier.VerifyAccessToken(token)

	// Then the identity is extracted
	req.NoError(err)
	req.Equal("user-42", identity.UserID)
	req.Equal("user42@example.com", identity.Email)
}

func TestVerifyAccessToken_Failures(t *testing.T) {
	verifier := NewTokenVerifier(testSecret)

	expired, err := GenerateToken(testSecret, "user-42", "", TokenTypeAccess, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := GenerateToken("another_secret_entirely_123456", "user-42", "", TokenTypeAccess, time.Hour)
	require.NoError(t, err)
	refresh, err := GenerateToken(testSecret, "user-42", "", TokenTypeRefresh, time.Hour)
	require.NoError(t, err)
	noSubject, err := GenerateToken(testSecret, "", "", TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"Expired token", expired},
		{"Bad signature", wrongKey},
		{"Refresh token rejected", refresh},
		{"Missing subject", noSubject},
		{"Malformed token", "not.a.jwt"},
		{"Empty token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := verifier.VerifyAccessToken(tt.token)
			req.Error(err)
			req.ErrorIs(err, errors.ErrInvalidToken)
			req.Equal(errors.CodeUnauthorized, errors.CodeOf(err))
		})
	}
}

func TestVerifyAccessToken_MissingSecret(t *testing.T) {
	req := require.New(t)

	// Given a verifier built without a signing secret
	verifier := NewTokenVerifier("")
	token, err := GenerateToken(testSecret, "user-42", "", TokenTypeAccess, time.Hour)
	req.NoError(err)

	// When verifying any token
	_, err = verifier.VerifyAccessToken(token)

	// Then the failure is a server misconfiguration, not an invalid token
	req.ErrorIs(err, errors.ErrServerMisconfigured)
	req.NotErrorIs(err, errors.ErrInvalidToken)
	req.Equal(errors.CodeMisconfigured, errors.CodeOf(err))
}
