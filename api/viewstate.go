package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"gantt-proxy/viewstate"
)

// viewStatePut tells an explicit zoom, which is clamped, from an absent one.
type viewStatePut struct {
	viewstate.Persisted
	Zoom *float64 `json:"zoom"`
}

type viewStatePatch struct {
	Actions []viewstate.Action `json:"actions"`
}

// loadViewState hydrates a fresh container from the profile's saved slice.
func (s *Server) loadViewState(ctx context.Context, profile string) *viewstate.State {
	vs := viewstate.New()
	if p, ok := s.prefs.ViewState(ctx, profile); ok {
		vs.Hydrate(p)
	}
	return vs
}

func (s *Server) getViewState(c echo.Context) error {
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	vs := s.loadViewState(c.Request().Context(), profile)
	return respond(c, http.StatusOK, envelope{"state": vs.Snapshot()})
}

// putViewState replaces the persisted slice. Zoom is clamped on the way in.
func (s *Server) putViewState(c echo.Context) error {
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	var body viewStatePut
	if err := decodeBody(c, &body); err != nil {
		return fail(c, s.log, err)
	}
	p := body.Persisted
	if body.Zoom != nil {
		p.Zoom = viewstate.ClampZoom(*body.Zoom)
	}
	if p.Scale != "" && !p.Scale.Valid() {
		return fail(c, s.log, badRequest("%v: %q", viewstate.ErrUnknownScale, p.Scale))
	}
	vs := viewstate.New()
	vs.Hydrate(p)
	ctx := c.Request().Context()
	saved := s.prefs.SaveViewState(ctx, profile, vs.Persisted())
	if id := vs.Persisted().ActivePresetID; id != s.prefs.ActivePreset(ctx, profile) {
		saved = s.storeActivePresetKey(ctx, profile, id) && saved
	}
	return respond(c, http.StatusOK, envelope{"state": vs.Snapshot(), "saved": saved})
}

// patchViewState applies actions in order to the saved state. Either every
// action applies or nothing is saved.
func (s *Server) patchViewState(c echo.Context) error {
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	var body viewStatePatch
	if err := decodeBody(c, &body); err != nil {
		return fail(c, s.log, err)
	}
	if len(body.Actions) == 0 {
		return fail(c, s.log, badRequest("actions are required"))
	}
	ctx := c.Request().Context()
	vs := s.loadViewState(ctx, profile)
	before := vs.Persisted().ActivePresetID
	if err := vs.Apply(body.Actions...); err != nil {
		metricsFrom(c).SetErrorStage("validate")
		return fail(c, s.log, badRequest("%v", err))
	}
	saved := s.prefs.SaveViewState(ctx, profile, vs.Persisted())
	if after := vs.Persisted().ActivePresetID; after != before {
		saved = s.storeActivePresetKey(ctx, profile, after) && saved
	}
	return respond(c, http.StatusOK, envelope{"state": vs.Snapshot(), "saved": saved})
}
