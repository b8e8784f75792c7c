package api

import (
	"net/http"
	"strings"
	"testing"

	"gantt-proxy/storage"
)

func TestPreferenceUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodGet, "/api/preferences/secrets", ""), http.StatusNotFound)
}

func TestPreferencesWithoutStorageAreNoops(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Preferences = nil })

	body := expectStatus(t, env.do(http.MethodPut, "/api/preferences/color-rules",
		`{"value":[{"field":"status","operator":"equals","value":"done","color":"red"}]}`), http.StatusOK)
	if body["saved"] != false {
		t.Fatalf("expected saved=false without storage: %#v", body)
	}
	body = expectStatus(t, env.do(http.MethodGet, "/api/preferences/color-rules", ""), http.StatusOK)
	if body["available"] != false {
		t.Fatalf("expected available=false: %#v", body)
	}
	if rules, _ := body["value"].([]any); len(rules) != 0 {
		t.Fatalf("expected empty rules, got %#v", body["value"])
	}
	health := expectStatus(t, env.do(http.MethodGet, "/healthz", ""), http.StatusOK)
	if health["preferences"] != false {
		t.Fatalf("expected health to report missing preferences: %#v", health)
	}
}

func TestColorRulesValidated(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodPut, "/api/preferences/color-rules",
		`{"value":[{"field":"status","operator":"matches","color":"red"}]}`), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodPut, "/api/preferences/color-rules",
		`{"value":[{"field":"","operator":"empty","color":"red"}]}`), http.StatusBadRequest)

	body := expectStatus(t, env.do(http.MethodPut, "/api/preferences/color-rules",
		`{"value":[{"field":"assignee","operator":"empty","color":"grey"}]}`), http.StatusOK)
	rules, _ := body["value"].([]any)
	if len(rules) != 1 || rules[0].(map[string]any)["id"] == "" {
		t.Fatalf("expected rule with generated id: %#v", body["value"])
	}

	expectStatus(t, env.do(http.MethodDelete, "/api/preferences/color-rules", ""), http.StatusOK)
	body = expectStatus(t, env.do(http.MethodGet, "/api/preferences/color-rules", ""), http.StatusOK)
	if rules, _ := body["value"].([]any); len(rules) != 0 {
		t.Fatalf("expected rules removed: %#v", body["value"])
	}
}

func TestFieldMappingsPreference(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodPut, "/api/preferences/field-mappings",
		`{"value":{"7":{"name":"Title"}}}`), http.StatusBadRequest)

	body := expectStatus(t, env.do(http.MethodPut, "/api/preferences/field-mappings",
		`{"value":{"7":`+testMapping+`}}`), http.StatusOK)
	if body["saved"] != true {
		t.Fatalf("expected saved: %#v", body)
	}
	// the saved mapping now drives task reads
	expectStatus(t, env.do(http.MethodGet, "/api/tasks?tableId=7", ""), http.StatusOK)
}

func TestPresetLifecycle(t *testing.T) {
	env := newTestEnv(t)

	expectStatus(t, env.do(http.MethodPost, "/api/preferences/presets", `{"name":"  "}`), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodPost, "/api/preferences/presets",
		`{"name":"Bad","fieldMapping":{"name":"Title"}}`), http.StatusBadRequest)

	body := expectStatus(t, env.do(http.MethodPost, "/api/preferences/presets",
		`{"id":"client-chosen","name":"Sprint","tableId":"7","fieldMapping":`+testMapping+`}`), http.StatusCreated)
	preset, _ := body["preset"].(map[string]any)
	id, _ := preset["id"].(string)
	if id == "" || id == "client-chosen" {
		t.Fatalf("expected server generated id, got %q", id)
	}
	if preset["createdAt"] == "" || preset["createdAt"] == "0001-01-01T00:00:00Z" {
		t.Fatalf("expected createdAt to be set: %#v", preset)
	}

	expectStatus(t, env.do(http.MethodPost, "/api/preferences/presets/missing/apply", ""), http.StatusNotFound)
	body = expectStatus(t, env.do(http.MethodPost, "/api/preferences/presets/"+id+"/apply", ""), http.StatusOK)
	if body["saved"] != true {
		t.Fatalf("expected apply to persist: %#v", body)
	}

	body = expectStatus(t, env.do(http.MethodGet, "/api/preferences/active-preset", ""), http.StatusOK)
	if v, _ := body["value"].(map[string]any); v["id"] != id {
		t.Fatalf("expected active preset %q: %#v", id, body)
	}
	body = expectStatus(t, env.do(http.MethodGet, "/api/view-state", ""), http.StatusOK)
	if st, _ := body["state"].(map[string]any); st["activePresetId"] != id {
		t.Fatalf("expected view state to record preset: %#v", body)
	}
	body = expectStatus(t, env.do(http.MethodGet, "/api/preferences/field-mappings", ""), http.StatusOK)
	if m, _ := body["value"].(map[string]any); m["7"] == nil {
		t.Fatalf("expected mapping saved for table 7: %#v", body)
	}

	expectStatus(t, env.do(http.MethodDelete, "/api/preferences/presets/"+id, ""), http.StatusOK)
	expectStatus(t, env.do(http.MethodDelete, "/api/preferences/presets/"+id, ""), http.StatusNotFound)
	body = expectStatus(t, env.do(http.MethodGet, "/api/preferences/active-preset", ""), http.StatusOK)
	if v, _ := body["value"].(map[string]any); v["id"] != "" {
		t.Fatalf("deleting the active preset should clear it: %#v", body)
	}
}

func TestViewStatePutClampsAndPatchApplies(t *testing.T) {
	env := newTestEnv(t)

	expectStatus(t, env.do(http.MethodPut, "/api/view-state", `{"zoom":1,"scale":"year"}`), http.StatusBadRequest)

	body := expectStatus(t, env.do(http.MethodPut, "/api/view-state",
		`{"zoom":5,"scale":"day","expanded":["A"],"filter":{"statuses":["Done"]}}`), http.StatusOK)
	st, _ := body["state"].(map[string]any)
	if st["zoom"] != 2.0 || st["scale"] != "day" {
		t.Fatalf("expected clamped zoom and day scale: %#v", st)
	}

	body = expectStatus(t, env.do(http.MethodPatch, "/api/view-state",
		`{"actions":[{"type":"zoomOut"},{"type":"zoomOut"},{"type":"select","ids":[3,4]},{"type":"toggleGroup","group":"B"}]}`), http.StatusOK)
	st, _ = body["state"].(map[string]any)
	if st["zoom"] != 1.8 {
		t.Fatalf("expected zoom 1.8, got %#v", st["zoom"])
	}
	if sel, _ := st["selected"].([]any); len(sel) != 2 {
		t.Fatalf("expected selection in response: %#v", st["selected"])
	}

	body = expectStatus(t, env.do(http.MethodGet, "/api/view-state", ""), http.StatusOK)
	st, _ = body["state"].(map[string]any)
	if st["zoom"] != 1.8 {
		t.Fatalf("expected persisted zoom 1.8, got %#v", st["zoom"])
	}
	if sel, _ := st["selected"].([]any); len(sel) != 0 {
		t.Fatalf("selection must not persist: %#v", st["selected"])
	}
	if exp, _ := st["expanded"].([]any); len(exp) != 2 {
		t.Fatalf("expected two expanded groups: %#v", st["expanded"])
	}

	// saved filter feeds task reads
	body = expectStatus(t, env.do(http.MethodGet, tasksQuery(map[string][]string{"filter": {"saved"}}), ""), http.StatusOK)
	if tasks, _ := body["tasks"].([]any); len(tasks) != 1 {
		t.Fatalf("expected saved status filter to apply: %#v", body["tasks"])
	}
}

func TestViewStatePatchIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodPatch, "/api/view-state", `{"actions":[]}`), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodPatch, "/api/view-state",
		`{"actions":[{"type":"setZoom","zoom":1.5},{"type":"explode"}]}`), http.StatusBadRequest)

	body := expectStatus(t, env.do(http.MethodGet, "/api/view-state", ""), http.StatusOK)
	if st, _ := body["state"].(map[string]any); st["zoom"] != 1.0 {
		t.Fatalf("failed patch must not persist, zoom=%#v", st["zoom"])
	}
}

func activePresetIDs(t *testing.T, env *testEnv) (key, view string) {
	t.Helper()
	body := expectStatus(t, env.do(http.MethodGet, "/api/preferences/active-preset", ""), http.StatusOK)
	if v, _ := body["value"].(map[string]any); v != nil {
		key, _ = v["id"].(string)
	}
	body = expectStatus(t, env.do(http.MethodGet, "/api/view-state", ""), http.StatusOK)
	if st, _ := body["state"].(map[string]any); st != nil {
		view, _ = st["activePresetId"].(string)
	}
	return key, view
}

func createPreset(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	body := expectStatus(t, env.do(http.MethodPost, "/api/preferences/presets",
		`{"name":"`+name+`","fieldMapping":`+testMapping+`}`), http.StatusCreated)
	preset, _ := body["preset"].(map[string]any)
	id, _ := preset["id"].(string)
	return id
}

func TestActivePresetStaysInSync(t *testing.T) {
	env := newTestEnv(t)
	first := createPreset(t, env, "First")
	second := createPreset(t, env, "Second")

	expectStatus(t, env.do(http.MethodPost, "/api/preferences/presets/"+first+"/apply", ""), http.StatusOK)
	if key, view := activePresetIDs(t, env); key != first || view != first {
		t.Fatalf("after apply: key=%q view=%q, want %q", key, view, first)
	}

	expectStatus(t, env.do(http.MethodDelete, "/api/preferences/presets/"+first, ""), http.StatusOK)
	if key, view := activePresetIDs(t, env); key != "" || view != "" {
		t.Fatalf("after delete: key=%q view=%q, want both empty", key, view)
	}

	expectStatus(t, env.do(http.MethodPatch, "/api/view-state",
		`{"actions":[{"type":"setActivePreset","presetId":"`+second+`"}]}`), http.StatusOK)
	if key, view := activePresetIDs(t, env); key != second || view != second {
		t.Fatalf("after view-state patch: key=%q view=%q, want %q", key, view, second)
	}

	third := createPreset(t, env, "Third")
	expectStatus(t, env.do(http.MethodPut, "/api/preferences/active-preset", `{"id":"`+third+`"}`), http.StatusOK)
	if key, view := activePresetIDs(t, env); key != third || view != third {
		t.Fatalf("after preference put: key=%q view=%q, want %q", key, view, third)
	}

	expectStatus(t, env.do(http.MethodDelete, "/api/preferences/active-preset", ""), http.StatusOK)
	if key, view := activePresetIDs(t, env); key != "" || view != "" {
		t.Fatalf("after preference delete: key=%q view=%q, want both empty", key, view)
	}
}

func TestViewStatePutClampsExplicitZeroZoom(t *testing.T) {
	env := newTestEnv(t)
	body := expectStatus(t, env.do(http.MethodPut, "/api/view-state", `{"zoom":0,"scale":"week"}`), http.StatusOK)
	if st, _ := body["state"].(map[string]any); st["zoom"] != 0.5 {
		t.Fatalf("explicit zero zoom should clamp to 0.5, got %#v", st["zoom"])
	}
	body = expectStatus(t, env.do(http.MethodPut, "/api/view-state", `{"scale":"week"}`), http.StatusOK)
	if st, _ := body["state"].(map[string]any); st["zoom"] != 1.0 {
		t.Fatalf("absent zoom should default to 1, got %#v", st["zoom"])
	}
}

func TestOversizedPreferenceRejected(t *testing.T) {
	env := newTestEnv(t)
	huge := strings.Repeat("x", storage.MaxValueSize)
	expectStatus(t, env.do(http.MethodPut, "/api/preferences/color-rules",
		`{"value":[{"field":"name","operator":"contains","value":"`+huge+`","color":"red"}]}`), http.StatusBadRequest)

	body := expectStatus(t, env.do(http.MethodGet, "/api/preferences/color-rules", ""), http.StatusOK)
	if rules, _ := body["value"].([]any); len(rules) != 0 {
		t.Fatalf("rejected rules must not be stored: %d rules", len(rules))
	}
}
