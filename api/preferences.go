package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"gantt-proxy/domain"
	"gantt-proxy/storage"
)

// preference URL keys and their storage keys
var preferenceKeys = map[string]string{
	"field-mappings": storage.KeyFieldMappings,
	"color-rules":    storage.KeyColorRules,
	"text-templates": storage.KeyTextTemplates,
	"active-preset":  storage.KeyActivePreset,
	"presets":        storage.KeyPresets,
}

type activePresetBody struct {
	ID string `json:"id"`
}

// checkSize turns an oversized preference into a 400.
func checkSize(v any) error {
	if err := storage.CheckSize(v); err != nil {
		if errors.Is(err, storage.ErrValueTooLarge) {
			return badRequest("%v", err)
		}
		return err
	}
	return nil
}

func preferenceKey(c echo.Context) (string, error) {
	name := c.Param("key")
	key, ok := preferenceKeys[name]
	if !ok {
		return "", notFound("preference " + name)
	}
	return key, nil
}

// loadPreference returns the typed value stored under key, empty when absent.
func (s *Server) loadPreference(ctx context.Context, profile, key string) any {
	switch key {
	case storage.KeyFieldMappings:
		return s.prefs.FieldMappings(ctx, profile)
	case storage.KeyColorRules:
		return s.prefs.ColorRules(ctx, profile)
	case storage.KeyTextTemplates:
		return s.prefs.TextTemplates(ctx, profile)
	case storage.KeyActivePreset:
		return activePresetBody{ID: s.prefs.ActivePreset(ctx, profile)}
	case storage.KeyPresets:
		return s.prefs.Presets(ctx, profile)
	}
	return nil
}

func (s *Server) getPreference(c echo.Context) error {
	key, err := preferenceKey(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	return respond(c, http.StatusOK, envelope{
		"available": s.prefs.Available(),
		"value":     s.loadPreference(c.Request().Context(), profile, key),
	})
}

func (s *Server) putPreference(c echo.Context) error {
	key, err := preferenceKey(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	ctx := c.Request().Context()

	var saved bool
	switch key {
	case storage.KeyFieldMappings:
		var body struct {
			Value domain.TableMappings `json:"value"`
		}
		if err := decodeBody(c, &body); err != nil {
			return fail(c, s.log, err)
		}
		for table, m := range body.Value {
			if missing := m.Validate(); len(missing) > 0 {
				return fail(c, s.log, badRequest("mapping for table %s is missing %v", table, missing))
			}
		}
		if err := checkSize(body.Value); err != nil {
			return fail(c, s.log, err)
		}
		saved = s.prefs.SaveFieldMappings(ctx, profile, body.Value)
	case storage.KeyColorRules:
		var body struct {
			Value []domain.ColorRule `json:"value"`
		}
		if err := decodeBody(c, &body); err != nil {
			return fail(c, s.log, err)
		}
		if err := normalizeColorRules(body.Value); err != nil {
			return fail(c, s.log, err)
		}
		if err := checkSize(body.Value); err != nil {
			return fail(c, s.log, err)
		}
		saved = s.prefs.SaveColorRules(ctx, profile, body.Value)
	case storage.KeyTextTemplates:
		var body struct {
			Value []domain.TextTemplate `json:"value"`
		}
		if err := decodeBody(c, &body); err != nil {
			return fail(c, s.log, err)
		}
		for i := range body.Value {
			if strings.TrimSpace(body.Value[i].Template) == "" {
				return fail(c, s.log, badRequest("template %d is empty", i))
			}
			if body.Value[i].ID == "" {
				body.Value[i].ID = uuid.NewString()
			}
		}
		if err := checkSize(body.Value); err != nil {
			return fail(c, s.log, err)
		}
		saved = s.prefs.SaveTextTemplates(ctx, profile, body.Value)
	case storage.KeyActivePreset:
		var body activePresetBody
		if err := decodeBody(c, &body); err != nil {
			return fail(c, s.log, err)
		}
		saved = s.saveActivePreset(ctx, profile, body.ID)
	case storage.KeyPresets:
		var body struct {
			Value []domain.Preset `json:"value"`
		}
		if err := decodeBody(c, &body); err != nil {
			return fail(c, s.log, err)
		}
		for i := range body.Value {
			if err := normalizePreset(&body.Value[i]); err != nil {
				return fail(c, s.log, err)
			}
		}
		if err := checkSize(body.Value); err != nil {
			return fail(c, s.log, err)
		}
		saved = s.prefs.SavePresets(ctx, profile, body.Value)
	}

	return respond(c, http.StatusOK, envelope{
		"saved": saved,
		"value": s.loadPreference(ctx, profile, key),
	})
}

func (s *Server) deletePreference(c echo.Context) error {
	key, err := preferenceKey(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	ctx := c.Request().Context()
	var removed bool
	if key == storage.KeyActivePreset {
		removed = s.saveActivePreset(ctx, profile, "")
	} else {
		removed = s.prefs.Remove(ctx, profile, key)
	}
	return respond(c, http.StatusOK, envelope{"saved": removed})
}

func normalizeColorRules(rules []domain.ColorRule) error {
	for i := range rules {
		r := &rules[i]
		if !domain.ValidOperator(r.Operator) {
			return badRequest("rule %d: unknown operator %q", i, r.Operator)
		}
		if r.Field == "" || r.Color == "" {
			return badRequest("rule %d: field and color are required", i)
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
	}
	return nil
}

// normalizePreset validates p and fills in its id and creation time.
func normalizePreset(p *domain.Preset) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return badRequest("preset name is required")
	}
	if missing := p.FieldMapping.Validate(); len(missing) > 0 {
		return badRequest("preset mapping is missing %v", missing)
	}
	if err := normalizeColorRules(p.ColorRules); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Server) postPreset(c echo.Context) error {
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	var p domain.Preset
	if err := decodeBody(c, &p); err != nil {
		return fail(c, s.log, err)
	}
	p.ID = ""
	p.CreatedAt = time.Time{}
	if err := normalizePreset(&p); err != nil {
		return fail(c, s.log, err)
	}

	ctx := c.Request().Context()
	presets := append(s.prefs.Presets(ctx, profile), p)
	if err := checkSize(presets); err != nil {
		return fail(c, s.log, err)
	}
	saved := s.prefs.SavePresets(ctx, profile, presets)
	return respond(c, http.StatusCreated, envelope{"preset": p, "saved": saved})
}

func (s *Server) deletePreset(c echo.Context) error {
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	id := c.Param("id")
	ctx := c.Request().Context()
	presets := s.prefs.Presets(ctx, profile)
	kept := presets[:0]
	for _, p := range presets {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(presets) {
		return fail(c, s.log, notFound("preset "+id))
	}
	saved := s.prefs.SavePresets(ctx, profile, kept)
	if s.prefs.ActivePreset(ctx, profile) == id || s.loadViewState(ctx, profile).Persisted().ActivePresetID == id {
		saved = s.saveActivePreset(ctx, profile, "") && saved
	}
	return respond(c, http.StatusOK, envelope{"saved": saved})
}

// storeActivePresetKey writes the active preset key; "" removes it.
func (s *Server) storeActivePresetKey(ctx context.Context, profile, id string) bool {
	if id == "" {
		return s.prefs.Remove(ctx, profile, storage.KeyActivePreset)
	}
	return s.prefs.SaveActivePreset(ctx, profile, id)
}

// saveActivePreset records id as the active preset both under its own key and
// in the persisted view state, which task reads and GET /view-state consult
// respectively. "" clears both.
func (s *Server) saveActivePreset(ctx context.Context, profile, id string) bool {
	saved := s.storeActivePresetKey(ctx, profile, id)
	vs := s.loadViewState(ctx, profile)
	if vs.Persisted().ActivePresetID != id {
		vs.SetActivePreset(id)
		saved = s.prefs.SaveViewState(ctx, profile, vs.Persisted()) && saved
	}
	return saved
}

// applyPreset makes a preset active, saves its mapping for its table and
// records it in the persisted view state.
func (s *Server) applyPreset(c echo.Context) error {
	profile, err := s.profile(c)
	if err != nil {
		return fail(c, s.log, err)
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	var preset *domain.Preset
	for _, p := range s.prefs.Presets(ctx, profile) {
		if p.ID == id {
			p := p
			preset = &p
			break
		}
	}
	if preset == nil {
		return fail(c, s.log, notFound("preset "+id))
	}

	saved := s.saveActivePreset(ctx, profile, preset.ID)
	if preset.TableID != "" {
		saved = s.prefs.SaveFieldMapping(ctx, profile, preset.TableID, preset.FieldMapping) && saved
	}

	return respond(c, http.StatusOK, envelope{"preset": preset, "saved": saved})
}
