package integration

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token mints an HS256 operator token signed with the harness's shared
// secret, matching what a rig's login shim would hand out.
func (h *TestHarness) Token(operator string) string {
	h.t.Helper()
	return h.TokenWithClaims(jwt.MapClaims{
		"sub": operator,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
}

// ExpiredToken mints a token whose expiry is in the past.
func (h *TestHarness) ExpiredToken(operator string) string {
	h.t.Helper()
	return h.TokenWithClaims(jwt.MapClaims{
		"sub": operator,
		"exp": time.Now().Add(-time.Hour).Unix(),
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
	})
}

// TokenWithClaims signs an arbitrary claim set with the shared secret.
func (h *TestHarness) TokenWithClaims(claims jwt.MapClaims) string {
	h.t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.cfg.Auth.Secret))
	if err != nil {
		h.t.Fatalf("sign token: %v", err)
	}
	return signed
}
