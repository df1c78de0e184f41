package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(secret string) (*Verifier, *clock.FakeClock) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewVerifier(config.Config{AuthJWTSecret: secret}, fc), fc
}

func TestSignAndVerify(t *testing.T) {
	v, fc := newVerifier("test-secret")

	token, err := v.Sign(Session{Subject: "user-9", TenantID: snowflake.ID(77), Role: "admin"}, time.Hour)
	require.NoError(t, err)

	session, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", session.Subject)
	assert.Equal(t, snowflake.ID(77), session.TenantID)
	assert.Equal(t, "admin", session.Role)

	fc.Advance(2 * time.Hour)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejects(t *testing.T) {
	v, _ := newVerifier("test-secret")
	other, _ := newVerifier("other-secret")

	foreign, err := other.Sign(Session{Subject: "x", TenantID: 1}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: "1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{TenantID: "1"})
	raw, err := noExpiry.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unconfigured, _ := newVerifier("")
	_, err = unconfigured.Verify(foreign)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		header string
		cookie string
		want   string
		ok     bool
	}{
		{name: "bearer", header: "Bearer abc", want: "abc", ok: true},
		{name: "lowercase scheme", header: "bearer abc", want: "abc", ok: true},
		{name: "cookie", cookie: "from-cookie", want: "from-cookie", ok: true},
		{name: "basic is ignored", header: "Basic Zm9vOmJhcg=="},
		{name: "nothing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tc.cookie})
			}
			c.Request = req

			got, ok := ReadToken(c)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
