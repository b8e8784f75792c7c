package baserow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"gantt-proxy/domain"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestAuthorizationHeader(t *testing.T) {
	if got := AuthorizationHeader("abc"); got != "Token abc" {
		t.Fatalf("unexpected header %q", got)
	}
	if got := AuthorizationHeader("a.b.c"); got != "JWT a.b.c" {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestListTablesFlattensDatabases(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/applications/workspace/5/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token tok" {
			t.Fatalf("unexpected authorization %q", got)
		}
		_, _ = io.WriteString(w, `[
			{"id": 1, "name": "Projects", "type": "database", "tables": [{"id": 10, "name": "Tasks"}, {"id": 11, "name": "People"}]},
			{"id": 2, "name": "Docs", "type": "builder"}
		]`)
	})

	tables, err := c.ListTables(context.Background(), "tok", 5)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %#v", tables)
	}
	if tables[0] != (domain.Table{ID: 10, Name: "Tasks", DatabaseID: 1, DatabaseName: "Projects"}) {
		t.Fatalf("unexpected first table %#v", tables[0])
	}
}

func TestListRowsFollowsPages(t *testing.T) {
	var calls int
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("user_field_names") != "true" {
			t.Fatalf("expected user_field_names=true, got %q", r.URL.RawQuery)
		}
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = io.WriteString(w, `{"count": 3, "next": "`+srvURL+`/next", "results": [{"id": 1}, {"id": 2}]}`)
		case "2":
			_, _ = io.WriteString(w, `{"count": 3, "next": null, "results": [{"id": 3}]}`)
		default:
			t.Fatalf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	rows, err := New(srv.URL).ListRows(context.Background(), "tok", 9)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(rows) != 3 || rows[2].ID() != 3 {
		t.Fatalf("unexpected rows %#v", rows)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestUpstreamStatusIsPreserved(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error": "ERROR_ROW_DOES_NOT_EXIST", "detail": "The row does not exist."}`)
	})

	_, err := c.GetRow(context.Background(), "tok", 1, 2)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", apiErr.Status)
	}
	if apiErr.Code != "ERROR_ROW_DOES_NOT_EXIST" || apiErr.Message != "The row does not exist." {
		t.Fatalf("unexpected error contents %#v", apiErr)
	}
}

func TestUpstreamErrorWithStructuredDetail(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": "ERROR_REQUEST_BODY_VALIDATION", "detail": {"Start": [{"error": "bad date"}]}}`)
	})

	_, err := c.CreateRow(context.Background(), "tok", 1, domain.Row{"Start": "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "bad date") {
		t.Fatalf("expected detail in message, got %q", apiErr.Message)
	}
}

func TestUpdateRowSendsPatchBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/database/rows/table/4/8/" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["Name"] != "Renamed" {
			t.Fatalf("unexpected body %#v", body)
		}
		_, _ = io.WriteString(w, `{"id": 8, "Name": "Renamed"}`)
	})

	row, err := c.UpdateRow(context.Background(), "a.b.c", 4, 8, domain.Row{"Name": "Renamed"})
	if err != nil {
		t.Fatalf("update row: %v", err)
	}
	if row.ID() != 8 {
		t.Fatalf("unexpected row %#v", row)
	}
}

func TestMissingToken(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if _, err := c.ListWorkspaces(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
