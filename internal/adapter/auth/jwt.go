// Package auth verifies operator bearer tokens issued by the external auth
// service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const leeway = 5 * time.Second

// Claims is the token body the auth service signs.
type Claims struct {
	UserID int64       `json:"userId"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 signatures and expiry against a shared secret.
type JWTVerifier struct {
	secret []byte
	clock  clockwork.Clock
	parser *jwt.Parser
}

var _ domain.Authenticator = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string, clock clockwork.Clock) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		clock:  clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(clock.Now),
			jwt.WithLeeway(leeway),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify accepts a raw token or an "Authorization: Bearer" header value.
// Every failure wraps domain.ErrUnauthorized.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*domain.Operator, error) {
	token = strings.TrimSpace(token)
	if scheme, rest, _ := strings.Cut(token, " "); strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}

	var claims Claims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.key); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, reason(err))
	}

	switch claims.Role {
	case domain.RoleAdmin, domain.RoleManager:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, claims.Role)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user id", domain.ErrUnauthorized)
	}

	return &domain.Operator{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

func (v *JWTVerifier) key(*jwt.Token) (any, error) {
	return v.secret, nil
}

// Sign issues a token for op. The coordinator never issues operator tokens
// in production; this backs the dev token command and tests.
func (v *JWTVerifier) Sign(op domain.Operator, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		UserID: op.UserID,
		Email:  op.Email,
		Role:   op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(op.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// reason keeps parser internals out of client-facing messages.
func reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token not valid yet"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "invalid signature"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token missing expiry"
	default:
		return "malformed token"
	}
}
