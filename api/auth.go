package api

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"gantt-proxy/storage"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuth0TestMode    = "AUTH0_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envLocalAuthMode    = "LOCAL_AUTH_MODE"
	envLocalAuthSecret  = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"

	clockSkew = time.Minute
)

var errUnauthorized = errors.New("unauthorized")

// Auth validates user tokens that scope preferences to a person rather than
// to a Baserow token.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. LOCAL_AUTH_MODE=hs256 or
// AUTH0_TEST_MODE=1 switch to shared-secret HS256 verification.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) (*Auth, error) {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	ttl, err := parseCacheTTL()
	if err != nil {
		return nil, err
	}
	a.keyCacheTTL = ttl

	if mode := strings.ToLower(os.Getenv(envLocalAuthMode)); mode != "" {
		if mode != "hs256" {
			return nil, errors.New("unsupported LOCAL_AUTH_MODE value")
		}
		secret := os.Getenv(envLocalAuthSecret)
		if secret == "" {
			return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	} else if os.Getenv(envAuth0TestMode) == "1" {
		secret := os.Getenv(envTestJWTSecret)
		if secret == "" {
			return nil, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}

	if a.TestMode {
		a.parser = newTokenParser("HS256")
	} else {
		a.parser = newTokenParser("RS256")
	}
	return a, nil
}

// newTokenParser leaves time-based claims to checkClaims so they get the
// clock skew allowance.
func newTokenParser(method string) *jwt.Parser {
	return jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation())
}

func parseCacheTTL() (time.Duration, error) {
	ttl := defaultJWKSCacheTTL
	if raw := os.Getenv(envJWKSCacheTTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return 0, errors.New("invalid JWKS_CACHE_TTL")
		}
		ttl = parsed
	}
	return ttl, nil
}

// UserIDFromAuthHeader extracts the user identifier from a user token header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := jwtFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(token)
}

// UserIDFromToken verifies the token and returns its subject.
func (a *Auth) UserIDFromToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(tokenStr, a.verificationKey)
	if err != nil {
		return "", errors.Join(errUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.Join(errUnauthorized, errors.New("invalid claims"))
	}
	if err := a.checkClaims(claims); err != nil {
		return "", errors.Join(errUnauthorized, err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.Join(errUnauthorized, errors.New("missing sub"))
	}
	return sub, nil
}

// checkClaims tolerates clockSkew past exp and before nbf/iat. Audience and
// issuer are only enforced when configured.
func (a *Auth) checkClaims(claims jwt.MapClaims) error {
	now := time.Now()
	switch {
	case !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true):
		return errors.New("token expired")
	case !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false):
		return errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false):
		return errors.New("token issued in the future")
	case a.Audience != "" && !claims.VerifyAudience(a.Audience, false):
		return errors.New("invalid audience")
	case a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false):
		return errors.New("invalid issuer")
	}
	return nil
}

// verificationKey returns the shared secret in test mode and otherwise the
// JWKS key for the token's kid, cached for keyCacheTTL.
func (a *Auth) verificationKey(token *jwt.Token) (any, error) {
	if a.TestMode {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}
	kid, _ := token.Header["kid"].(string)
	cacheable := kid != "" && a.keyCacheTTL > 0
	if cacheable {
		if v, ok := a.keyCache.Load(kid); ok {
			if entry := v.(cachedKey); time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if cacheable {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// profile resolves whose preferences a request touches. With user auth
// configured the user token's subject is required; otherwise the Baserow
// token's fingerprint stands in.
func (s *Server) profile(c echo.Context) (string, error) {
	if s.auth != nil {
		return s.auth.UserIDFromAuthHeader(c.Request().Header.Get(headerUserToken))
	}
	token, err := upstreamToken(c.Request().Header, s.defaultToken)
	if err != nil {
		return "", err
	}
	return storage.Fingerprint(token), nil
}
