package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"gantt-proxy/baserow"
)

// inputError marks a client mistake; it maps to 400.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}

// notFoundError marks a missing local resource; it maps to 404.
type notFoundError struct {
	what string
}

func (e *notFoundError) Error() string { return e.what + " not found" }

func notFound(what string) error {
	return &notFoundError{what: what}
}

// statusFor maps an error to the HTTP status returned to the client.
// Upstream statuses pass through unchanged.
func statusFor(err error) int {
	var in *inputError
	var nf *notFoundError
	var apiErr *baserow.APIError
	switch {
	case errors.As(err, &in):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &apiErr):
		return apiErr.Status
	case errors.Is(err, errMissingAuthorization), errors.Is(err, errBadAuthorization),
		errors.Is(err, baserow.ErrMissingToken), errors.Is(err, errUnauthorized),
		errors.Is(err, errBadWebhookSecret):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respond writes a success body with the given fields.
func respond(c echo.Context, status int, fields envelope) error {
	body := envelope{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(status, body)
}

// fail logs err and writes a {success:false} body with the mapped status.
func fail(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	entry := logger.WithError(err).WithFields(log.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	return c.JSON(status, envelope{"success": false, "error": errorMessage(err)})
}

func errorMessage(err error) string {
	var apiErr *baserow.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
