package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// schemes accepted in front of a Baserow token
var tokenSchemes = [...]string{"Bearer ", "Token ", "JWT "}

// upstreamToken returns the Baserow token for the request: the Authorization
// header when present, otherwise fallback.
func upstreamToken(header http.Header, fallback string) (string, error) {
	raw := header.Get(echo.HeaderAuthorization)
	if strings.TrimSpace(raw) == "" {
		if fallback != "" {
			return fallback, nil
		}
		return "", errMissingAuthorization
	}
	return tokenFromString(raw)
}

func tokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	for _, scheme := range tokenSchemes {
		if len(trimmed) > len(scheme) && strings.EqualFold(trimmed[:len(scheme)], scheme) {
			token := strings.TrimLeft(trimmed[len(scheme):], " ")
			if token == "" || strings.ContainsAny(token, " \t") {
				return "", errBadAuthorization
			}
			return token, nil
		}
	}
	return "", errBadAuthorization
}

// jwtFromString accepts a bare or Bearer-prefixed token and requires the
// three-segment JWT shape.
func jwtFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	if len(trimmed) > len("Bearer ") && strings.EqualFold(trimmed[:len("Bearer ")], "Bearer ") {
		trimmed = strings.TrimLeft(trimmed[len("Bearer "):], " ")
	}
	if countByte(trimmed, '.') != 2 {
		return "", errBadAuthorization
	}
	return trimmed, nil
}

func countByte(s string, target byte) int {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == target {
			count++
		}
	}
	return count
}
