package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

func TestUpstreamTokenSchemes(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "token abc", want: "abc"},
		{header: "JWT a.b.c", want: "a.b.c"},
		{header: "  Bearer   abc  ", want: "abc"},
		{header: "Basic abc", err: errBadAuthorization},
		{header: "Bearer a b", err: errBadAuthorization},
		{header: "Bearer", err: errBadAuthorization},
	}
	for _, tt := range tests {
		header := make(http.Header)
		header.Set(echo.HeaderAuthorization, tt.header)
		got, err := upstreamToken(header, "")
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Fatalf("%q: expected %v, got %v", tt.header, tt.err, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: got %q, %v", tt.header, got, err)
		}
	}
}

func TestUpstreamTokenFallback(t *testing.T) {
	header := make(http.Header)
	if _, err := upstreamToken(header, ""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing header error, got %v", err)
	}
	got, err := upstreamToken(header, "server")
	if err != nil || got != "server" {
		t.Fatalf("expected fallback token, got %q, %v", got, err)
	}
	header.Set(echo.HeaderAuthorization, "Token client")
	if got, _ := upstreamToken(header, "server"); got != "client" {
		t.Fatalf("client token should win over fallback, got %q", got)
	}
}

func TestJWTFromStringManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := jwtFromString(header); !errors.Is(err, errBadAuthorization) {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if tok, err := jwtFromString("h.p.s"); err != nil || tok != "h.p.s" {
		t.Fatalf("bare jwt should be accepted, got %q, %v", tok, err)
	}
}

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func testAuth(secret []byte) *Auth {
	return &Auth{
		Audience:   "api://aud",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: secret,
		parser:     newTokenParser("HS256"),
	}
}

func TestUserIDFromTokenHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})

	auth := testAuth(secret)
	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := testAuth(secret)
	valid := jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	with := func(k string, v any) jwt.MapClaims {
		c := jwt.MapClaims{}
		for kk, vv := range valid {
			c[kk] = vv
		}
		if v == nil {
			delete(c, k)
		} else {
			c[k] = v
		}
		return c
	}

	cases := map[string]string{
		"wrong secret": signHS256(t, []byte("other"), valid),
		"expired":      signHS256(t, secret, with("exp", time.Now().Add(-time.Hour).Unix())),
		"audience":     signHS256(t, secret, with("aud", "api://other")),
		"issuer":       signHS256(t, secret, with("iss", "https://evil/")),
		"no subject":   signHS256(t, secret, with("sub", nil)),
		"not before":   signHS256(t, secret, with("nbf", time.Now().Add(time.Hour).Unix())),
		"no expiry":    signHS256(t, secret, with("exp", nil)),
	}
	for name, tok := range cases {
		if _, err := auth.UserIDFromToken(tok); !errors.Is(err, errUnauthorized) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestUserIDFromTokenToleratesClockSkew(t *testing.T) {
	secret := []byte("test-secret")
	auth := testAuth(secret)
	for name, exp := range map[string]time.Duration{
		"expiring soon":      10 * time.Second,
		"just expired":       -30 * time.Second,
		"nbf slightly ahead": time.Hour,
	} {
		claims := jwt.MapClaims{
			"sub": "user-1", "aud": "api://aud", "iss": "https://issuer/",
			"exp": time.Now().Add(exp).Unix(),
		}
		if name == "nbf slightly ahead" {
			claims["nbf"] = time.Now().Add(20 * time.Second).Unix()
		}
		if sub, err := auth.UserIDFromToken(signHS256(t, secret, claims)); err != nil || sub != "user-1" {
			t.Fatalf("%s: expected token accepted, got %q, %v", name, sub, err)
		}
	}
}

func TestNewAuthTestModeRequiresSecret(t *testing.T) {
	t.Setenv(envAuth0TestMode, "1")
	t.Setenv(envTestJWTSecret, "")
	if _, err := NewAuth(nil, "aud", "iss"); err == nil {
		t.Fatal("expected error without TEST_JWT_SECRET")
	}
	t.Setenv(envTestJWTSecret, "s3cret")
	a, err := NewAuth(nil, "aud", "iss")
	if err != nil || !a.TestMode {
		t.Fatalf("expected test mode auth, got %v, %v", a, err)
	}
}

func TestProfileUsesUserTokenWhenAuthConfigured(t *testing.T) {
	secret := []byte("test-secret")
	env := newTestEnv(t, func(d *Deps) { d.Auth = testAuth(secret) })

	expectStatus(t, env.do(http.MethodGet, "/api/view-state", ""), http.StatusUnauthorized)

	tok := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-9", "aud": "api://aud", "iss": "https://issuer/",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	expectStatus(t, env.do(http.MethodGet, "/api/view-state", "", headerUserToken, tok), http.StatusOK)
}
