package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// CustomClaims mirrors what the account service signs: the user id in the
// registered "sub" claim, plus an optional email and the token type.
type CustomClaims struct {
	Email     string `json:"email,omitempty"`
	TokenType string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier is the connection authenticator. It validates bearer
// access tokens against the configured HS256 secret.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// VerifyAccessToken checks signature and expiry and requires the token
// type to be "access" (a refresh token must never open a session).
// A missing server-side secret is reported as ErrServerMisconfigured,
// distinct from ErrInvalidToken, so operators can tell an outage cause
// from a client error.
func (v *TokenVerifier) VerifyAccessToken(tokenString string) (domain.Identity, error) {
	if len(v.secret) == 0 {
		return domain.Identity{}, errors.ErrServerMisconfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return domain.Identity{}, errors.ErrInvalidToken
	}
	if claims.TokenType != "" && claims.TokenType != TokenTypeAccess {
		return domain.Identity{}, fmt.Errorf("%w: wrong token type %q", errors.ErrInvalidToken, claims.TokenType)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", errors.ErrInvalidToken)
	}

	return domain.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// GenerateToken creates a signed JWT for a specific user. Token issuance
// lives in the account service; this exists for tests and the dev token CLI.
func GenerateToken(secret, userID, email, tokenType string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		Email:     email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chat-relay",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
