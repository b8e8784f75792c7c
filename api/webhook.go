package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"gantt-proxy/domain"
)

var errBadWebhookSecret = errors.New("invalid webhook secret")

// postWebhook accepts Baserow change notifications. Redeliveries of an
// event_id already seen are acknowledged without being processed again.
func (s *Server) postWebhook(c echo.Context) error {
	if s.webhookSecret != "" {
		got := c.Request().Header.Get(headerWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) != 1 {
			metricsFrom(c).SetErrorStage("auth")
			s.log.WithField("remote", c.RealIP()).Warn("webhook rejected: bad secret")
			return c.JSON(http.StatusUnauthorized, webhookResponse{Error: errBadWebhookSecret.Error()})
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodySize+1))
	if err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, webhookResponse{Error: "unable to read body"})
	}
	if len(body) > maxWebhookBodySize {
		metricsFrom(c).SetErrorStage("decode")
		return c.JSON(http.StatusRequestEntityTooLarge, webhookResponse{Error: "body too large"})
	}
	var ev domain.WebhookEvent
	if err := sonic.Unmarshal(body, &ev); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, webhookResponse{Error: "invalid body"})
	}

	ctx := c.Request().Context()
	entry := s.log.WithFields(log.Fields{
		"event_id":   ev.EventID,
		"event_type": ev.EventType,
		"table":      ev.TableID,
		"items":      len(ev.Items),
	})

	scope := ev.TableKey()
	deduped := false
	if s.deduper != nil && ev.EventID != "" {
		added, err := s.deduper.Add(ctx, scope, ev.EventID)
		switch {
		case err != nil:
			entry.WithError(err).Warn("webhook dedupe unavailable")
		case !added:
			entry.Info("duplicate webhook ignored")
			return c.JSON(http.StatusOK, webhookResponse{Success: true, Duplicate: true})
		default:
			deduped = true
		}
	}
	entry.Info("webhook received")

	revalidated := false
	if ev.TableID > 0 {
		revalidated = s.revalidate(ctx, ev.TableID)
	}

	if s.publisher != nil {
		env := domain.EventEnvelope{ReceivedAt: nextTimestamp(), Event: ev}
		if err := s.publisher.Submit(ctx, env); err != nil {
			metricsFrom(c).SetErrorStage("publish")
			entry.WithError(err).Error("webhook publish failed")
			if deduped {
				if rerr := s.deduper.Remove(ctx, scope, ev.EventID); rerr != nil {
					entry.WithError(rerr).Warn("unable to forget webhook id")
				}
			}
			return c.JSON(http.StatusInternalServerError, webhookResponse{Revalidated: revalidated, Error: "publish failed"})
		}
	}

	return c.JSON(http.StatusOK, webhookResponse{Success: true, Revalidated: revalidated})
}
