// Package auth verifies the signed session tokens that tenant users present.
// Issuing tokens belongs to the login service; Sign exists for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"go.uber.org/fx"
)

const DefaultCookieName = "_sid"

var (
	ErrMissingToken  = errors.New("missing_token")
	ErrInvalidToken  = errors.New("invalid_token")
	ErrNotConfigured = errors.New("auth_not_configured")
)

var Module = fx.Module("auth.session",
	fx.Provide(NewVerifier),
)

// Claims is the session token body.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Session is a verified caller.
type Session struct {
	Subject  string
	TenantID snowflake.ID
	Role     string
	Expires  time.Time
}

type Verifier struct {
	secret []byte
	clock  clock.Clock
}

func NewVerifier(cfg config.Config, c clock.Clock) *Verifier {
	return &Verifier{secret: []byte(cfg.AuthJWTSecret), clock: c}
}

// Verify checks the HS256 signature and expiry and returns the session.
// A token without a tenant is accepted only for platform roles, which the
// caller decides.
func (v *Verifier) Verify(raw string) (Session, error) {
	if len(v.secret) == 0 {
		return Session{}, ErrNotConfigured
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	session := Session{
		Subject: claims.Subject,
		Role:    strings.TrimSpace(claims.Role),
	}
	if claims.ExpiresAt != nil {
		session.Expires = claims.ExpiresAt.Time
	}
	if tenant := strings.TrimSpace(claims.TenantID); tenant != "" {
		id, err := snowflake.ParseString(tenant)
		if err != nil || id == 0 {
			return Session{}, fmt.Errorf("%w: tenant_id", ErrInvalidToken)
		}
		session.TenantID = id
	}
	return session, nil
}

// Sign issues a token for s valid for ttl.
func (v *Verifier) Sign(s Session, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := v.clock.Now()
	claims := Claims{
		Role: s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.TenantID != 0 {
		claims.TenantID = s.TenantID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ReadToken takes the bearer token from the Authorization header, falling
// back to the session cookie.
func ReadToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		if token := strings.TrimSpace(header[7:]); token != "" {
			return token, true
		}
	}
	token, err := c.Cookie(DefaultCookieName)
	if err != nil || strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}
