package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"gantt-proxy/domain"
	"gantt-proxy/storage"
)

// Deps are the collaborators handlers need. Only Upstream and Logger are
// required.
type Deps struct {
	Upstream      Upstream
	Rows          RowLister
	Invalidator   RowInvalidator
	Preferences   *storage.Preferences
	Auth          Authenticator
	Deduper       Deduper
	Events        EventSink
	Announcer     Announcer
	Publisher     PublisherConfig
	DefaultToken  string
	WebhookSecret string
	Logger        *log.Logger
}

// Server holds the handlers' shared state.
type Server struct {
	upstream      Upstream
	rows          RowLister
	invalidator   RowInvalidator
	prefs         *storage.Preferences
	auth          Authenticator
	deduper       Deduper
	announcer     Announcer
	publisher     *eventPublisher
	broker        *updateBroker
	defaultToken  string
	webhookSecret string
	log           *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) *Server {
	if d.Upstream == nil {
		panic("api.Register: upstream is required")
	}
	if d.Logger == nil {
		panic("api.Register: logger is required")
	}
	s := &Server{
		upstream:      d.Upstream,
		rows:          d.Rows,
		invalidator:   d.Invalidator,
		prefs:         d.Preferences,
		auth:          d.Auth,
		deduper:       d.Deduper,
		announcer:     d.Announcer,
		broker:        newUpdateBroker(),
		defaultToken:  d.DefaultToken,
		webhookSecret: d.WebhookSecret,
		log:           d.Logger,
	}
	if s.rows == nil {
		if rl, ok := d.Upstream.(RowLister); ok {
			s.rows = rl
		} else {
			panic("api.Register: no row lister available")
		}
	}
	if d.Events != nil {
		s.publisher = newEventPublisher(d.Events, d.Publisher, d.Logger)
	}

	g := e.Group("/api", metricsMiddleware(d.Logger), decompressRequests())
	g.GET("/config/workspaces", s.getWorkspaces)
	g.GET("/config/tables", s.getTables)
	g.GET("/config/field-mapping", s.getFields)
	g.POST("/config/field-mapping", s.postFieldMapping)

	g.GET("/tasks", s.getTasks)
	g.POST("/tasks", s.postTask)
	g.GET("/tasks/:id", s.getTask)
	g.PATCH("/tasks/:id", s.patchTask)
	g.PUT("/tasks/:id", s.patchTask)
	g.DELETE("/tasks/:id", s.deleteTask)

	g.POST("/webhooks/baserow", s.postWebhook)
	g.GET("/stream", s.stream)

	g.GET("/preferences/:key", s.getPreference)
	g.PUT("/preferences/:key", s.putPreference)
	g.DELETE("/preferences/:key", s.deletePreference)
	g.POST("/preferences/presets", s.postPreset)
	g.DELETE("/preferences/presets/:id", s.deletePreset)
	g.POST("/preferences/presets/:id/apply", s.applyPreset)

	g.GET("/view-state", s.getViewState)
	g.PUT("/view-state", s.putViewState)
	g.PATCH("/view-state", s.patchViewState)

	e.GET("/healthz", s.healthz)
	return s
}

// Close drains background publishing.
func (s *Server) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	s.broker.closeAll()
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope{
		"success":     true,
		"preferences": s.prefs.Available(),
	})
}

// token resolves the Baserow token and records auth timing.
func (s *Server) token(c echo.Context) (string, error) {
	start := time.Now()
	tok, err := upstreamToken(c.Request().Header, s.defaultToken)
	metricsFrom(c).ObserveAuth(time.Since(start))
	if err != nil {
		metricsFrom(c).SetErrorStage("auth")
	}
	return tok, err
}

// upstreamCall times fn as upstream work.
func upstreamCall[T any](c echo.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(c.Request().Context())
	m := metricsFrom(c)
	m.ObserveUpstream(time.Since(start))
	if err != nil {
		m.SetErrorStage("upstream")
	}
	return v, err
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxJSONBodySize)
	if err := sonic.ConfigStd.NewDecoder(lr).Decode(v); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return badRequest("invalid body")
	}
	return nil
}

func requireID(raw, name string) (int, error) {
	if raw == "" {
		return 0, badRequest("%s is required", name)
	}
	id, ok := parseID(raw)
	if !ok {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}

func (s *Server) getWorkspaces(c echo.Context) error {
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	workspaces, err := upstreamCall(c, func(ctx context.Context) ([]domain.Workspace, error) {
		return s.upstream.ListWorkspaces(ctx, token)
	})
	if err != nil {
		return fail(c, s.log, err)
	}
	metricsFrom(c).SetItemsReturned(len(workspaces))
	return respond(c, http.StatusOK, envelope{"workspaces": workspaces})
}

func (s *Server) getTables(c echo.Context) error {
	workspaceID, err := requireID(c.QueryParam("workspaceId"), "workspaceId")
	if err != nil {
		return fail(c, s.log, err)
	}
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	tables, err := upstreamCall(c, func(ctx context.Context) ([]domain.Table, error) {
		return s.upstream.ListTables(ctx, token, workspaceID)
	})
	if err != nil {
		return fail(c, s.log, err)
	}
	metricsFrom(c).SetItemsReturned(len(tables))
	return respond(c, http.StatusOK, envelope{"tables": tables})
}

func (s *Server) getFields(c echo.Context) error {
	tableID, err := requireID(c.QueryParam("tableId"), "tableId")
	if err != nil {
		return fail(c, s.log, err)
	}
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	fields, err := upstreamCall(c, func(ctx context.Context) ([]domain.Field, error) {
		return s.upstream.ListFields(ctx, token, tableID)
	})
	if err != nil {
		return fail(c, s.log, err)
	}
	metricsFrom(c).SetItemsReturned(len(fields))
	body := envelope{"fields": fields}
	if profile, perr := s.profile(c); perr == nil {
		if saved, ok := s.prefs.FieldMapping(c.Request().Context(), profile, strconv.Itoa(tableID)); ok {
			body["mapping"] = saved
		}
	}
	return respond(c, http.StatusOK, body)
}

type fieldMappingRequest struct {
	TableID  int                  `json:"tableId"`
	Mapping  *domain.FieldMapping `json:"mapping"`
	Validate *bool                `json:"validateFields,omitempty"`
}

func (s *Server) postFieldMapping(c echo.Context) error {
	var req fieldMappingRequest
	if err := decodeBody(c, &req); err != nil {
		return fail(c, s.log, err)
	}
	if req.TableID <= 0 {
		return fail(c, s.log, badRequest("tableId is required"))
	}
	if req.Mapping == nil {
		return fail(c, s.log, badRequest("mapping is required"))
	}
	if missing := req.Mapping.Validate(); len(missing) > 0 {
		metricsFrom(c).SetErrorStage("validate")
		return c.JSON(http.StatusBadRequest, envelope{
			"success": false,
			"valid":   false,
			"missing": missing,
			"error":   "required fields are not mapped",
		})
	}

	unknown := []string{}
	if req.Validate == nil || *req.Validate {
		token, err := s.token(c)
		if err != nil {
			return fail(c, s.log, err)
		}
		fields, err := upstreamCall(c, func(ctx context.Context) ([]domain.Field, error) {
			return s.upstream.ListFields(ctx, token, req.TableID)
		})
		if err != nil {
			return fail(c, s.log, err)
		}
		if u := req.Mapping.Check(fields); u != nil {
			unknown = u
		}
	}
	valid := len(unknown) == 0

	saved := false
	if valid {
		if profile, err := s.profile(c); err == nil {
			saved = s.prefs.SaveFieldMapping(c.Request().Context(), profile, strconv.Itoa(req.TableID), *req.Mapping)
		}
	}
	return respond(c, http.StatusOK, envelope{
		"valid":   valid,
		"missing": []string{},
		"unknown": unknown,
		"saved":   saved,
	})
}
