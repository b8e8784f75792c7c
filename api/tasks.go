package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"gantt-proxy/domain"
	"gantt-proxy/viewstate"
)

type taskView struct {
	domain.Task
	Label string `json:"label,omitempty"`
}

type taskWriteRequest struct {
	TableID int                  `json:"tableId"`
	Mapping *domain.FieldMapping `json:"mapping,omitempty"`
	Task    *domain.TaskInput    `json:"task"`
}

// mappingFor resolves the field mapping for a table: an explicit one from the
// request, then the profile's saved mapping, then the active preset's.
func (s *Server) mappingFor(c echo.Context, tableID int, explicit *domain.FieldMapping) (domain.FieldMapping, error) {
	if explicit == nil {
		if raw := c.QueryParam("mapping"); raw != "" {
			var m domain.FieldMapping
			if err := sonic.UnmarshalString(raw, &m); err != nil {
				return domain.FieldMapping{}, badRequest("invalid mapping")
			}
			explicit = &m
		}
	}
	if explicit != nil {
		if missing := explicit.Validate(); len(missing) > 0 {
			return domain.FieldMapping{}, badRequest("mapping is missing %v", missing)
		}
		return *explicit, nil
	}

	profile, err := s.profile(c)
	if err == nil {
		ctx := c.Request().Context()
		table := strconv.Itoa(tableID)
		if m, ok := s.prefs.FieldMapping(ctx, profile, table); ok {
			return m, nil
		}
		if p, ok := s.activePreset(ctx, profile); ok && (p.TableID == "" || p.TableID == table) {
			return p.FieldMapping, nil
		}
	}
	return domain.FieldMapping{}, badRequest("no field mapping configured for table %d", tableID)
}

func (s *Server) activePreset(ctx context.Context, profile string) (domain.Preset, bool) {
	id := s.prefs.ActivePreset(ctx, profile)
	if id == "" {
		return domain.Preset{}, false
	}
	for _, p := range s.prefs.Presets(ctx, profile) {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Preset{}, false
}

// filterFromQuery builds task filters from query parameters. filter=saved
// uses the profile's persisted view-state filter instead.
func (s *Server) filterFromQuery(c echo.Context) viewstate.Filter {
	if c.QueryParam("filter") == "saved" {
		if profile, err := s.profile(c); err == nil {
			if vs, ok := s.prefs.ViewState(c.Request().Context(), profile); ok {
				return vs.Filter
			}
		}
		return viewstate.Filter{}
	}
	return viewstate.Filter{
		Search:    c.QueryParam("search"),
		Statuses:  splitList(c.QueryParam("status")),
		Assignees: splitList(c.QueryParam("assignee")),
		Groups:    splitList(c.QueryParam("group")),
		From:      c.QueryParam("from"),
		To:        c.QueryParam("to"),
	}
}

// decorate applies the profile's colour rules and active label template.
func (s *Server) decorate(c echo.Context, tasks []domain.Task) []taskView {
	out := make([]taskView, len(tasks))
	for i, t := range tasks {
		out[i] = taskView{Task: t}
	}
	if c.QueryParam("decorate") != "true" {
		return out
	}
	profile, err := s.profile(c)
	if err != nil {
		return out
	}
	ctx := c.Request().Context()
	rules := s.prefs.ColorRules(ctx, profile)
	var tmpl *domain.TextTemplate
	if p, ok := s.activePreset(ctx, profile); ok {
		if len(p.ColorRules) > 0 {
			rules = p.ColorRules
		}
		for _, tt := range s.prefs.TextTemplates(ctx, profile) {
			if tt.ID == p.TextTemplateID {
				tt := tt
				tmpl = &tt
				break
			}
		}
	}
	for i := range out {
		out[i].Color = domain.ColorFor(out[i].Task, rules)
		if tmpl != nil {
			out[i].Label = tmpl.Render(out[i].Task)
		}
	}
	return out
}

func (s *Server) getTasks(c echo.Context) error {
	tableID, err := requireID(c.QueryParam("tableId"), "tableId")
	if err != nil {
		return fail(c, s.log, err)
	}
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	mapping, err := s.mappingFor(c, tableID, nil)
	if err != nil {
		return fail(c, s.log, err)
	}

	m := metricsFrom(c)
	m.SetCacheUsed(s.invalidator != nil)
	rows, err := upstreamCall(c, func(ctx context.Context) ([]domain.Row, error) {
		return s.rows.ListRows(ctx, token, tableID)
	})
	if err != nil {
		return fail(c, s.log, err)
	}

	tasks := s.filterFromQuery(c).Apply(domain.TasksFromRows(rows, mapping))
	views := s.decorate(c, tasks)
	m.SetItemsReturned(len(views))

	encodeStart := time.Now()
	err = respond(c, http.StatusOK, envelope{"tasks": views})
	m.ObserveEncode(time.Since(encodeStart))
	return err
}

func (s *Server) getTask(c echo.Context) error {
	rowID, err := requireID(c.Param("id"), "id")
	if err != nil {
		return fail(c, s.log, err)
	}
	tableID, err := requireID(c.QueryParam("tableId"), "tableId")
	if err != nil {
		return fail(c, s.log, err)
	}
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	mapping, err := s.mappingFor(c, tableID, nil)
	if err != nil {
		return fail(c, s.log, err)
	}
	row, err := upstreamCall(c, func(ctx context.Context) (domain.Row, error) {
		return s.upstream.GetRow(ctx, token, tableID, rowID)
	})
	if err != nil {
		return fail(c, s.log, err)
	}
	return respond(c, http.StatusOK, envelope{"task": domain.TaskFromRow(row, mapping)})
}

func (s *Server) postTask(c echo.Context) error {
	var req taskWriteRequest
	if err := decodeBody(c, &req); err != nil {
		return fail(c, s.log, err)
	}
	if req.TableID <= 0 {
		return fail(c, s.log, badRequest("tableId is required"))
	}
	if req.Task == nil {
		return fail(c, s.log, badRequest("task is required"))
	}
	if err := req.Task.ValidateCreate(); err != nil {
		metricsFrom(c).SetErrorStage("validate")
		return fail(c, s.log, badRequest("%v", err))
	}
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	mapping, err := s.mappingFor(c, req.TableID, req.Mapping)
	if err != nil {
		return fail(c, s.log, err)
	}

	created, err := upstreamCall(c, func(ctx context.Context) (domain.Row, error) {
		return s.upstream.CreateRow(ctx, token, req.TableID, req.Task.ToRow(mapping))
	})
	if err != nil {
		return fail(c, s.log, err)
	}
	s.revalidate(c.Request().Context(), req.TableID)
	return respond(c, http.StatusCreated, envelope{"task": domain.TaskFromRow(created, mapping)})
}

func (s *Server) patchTask(c echo.Context) error {
	rowID, err := requireID(c.Param("id"), "id")
	if err != nil {
		return fail(c, s.log, err)
	}
	var req taskWriteRequest
	if err := decodeBody(c, &req); err != nil {
		return fail(c, s.log, err)
	}
	if req.TableID <= 0 {
		return fail(c, s.log, badRequest("tableId is required"))
	}
	if req.Task == nil {
		return fail(c, s.log, badRequest("task is required"))
	}
	if err := req.Task.Validate(); err != nil {
		metricsFrom(c).SetErrorStage("validate")
		return fail(c, s.log, badRequest("%v", err))
	}
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	mapping, err := s.mappingFor(c, req.TableID, req.Mapping)
	if err != nil {
		return fail(c, s.log, err)
	}
	row := req.Task.ToRow(mapping)
	if len(row) == 0 {
		return fail(c, s.log, badRequest("no mapped fields to update"))
	}

	updated, err := upstreamCall(c, func(ctx context.Context) (domain.Row, error) {
		return s.upstream.UpdateRow(ctx, token, req.TableID, rowID, row)
	})
	if err != nil {
		return fail(c, s.log, err)
	}
	s.revalidate(c.Request().Context(), req.TableID)
	return respond(c, http.StatusOK, envelope{"task": domain.TaskFromRow(updated, mapping)})
}

func (s *Server) deleteTask(c echo.Context) error {
	rowID, err := requireID(c.Param("id"), "id")
	if err != nil {
		return fail(c, s.log, err)
	}
	tableID, err := requireID(c.QueryParam("tableId"), "tableId")
	if err != nil {
		return fail(c, s.log, err)
	}
	token, err := s.token(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	_, err = upstreamCall(c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.upstream.DeleteRow(ctx, token, tableID, rowID)
	})
	if err != nil {
		return fail(c, s.log, err)
	}
	s.revalidate(c.Request().Context(), tableID)
	return respond(c, http.StatusOK, nil)
}

// revalidate evicts cached rows and tells stream subscribers to refetch. It
// reports whether the cache eviction succeeded.
func (s *Server) revalidate(ctx context.Context, tableID int) bool {
	ok := true
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, tableID); err != nil {
			s.log.WithError(err).WithField("table", tableID).Warn("row cache invalidation failed")
			ok = false
		}
	}
	if s.announcer != nil {
		err := s.announcer.Announce(ctx, tableID)
		if err == nil {
			return ok
		}
		s.log.WithError(err).WithField("table", tableID).Warn("revalidation announce failed")
	}
	s.broker.notify(tableID)
	return ok
}
