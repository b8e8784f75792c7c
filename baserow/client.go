// Package baserow is a minimal client for the hosted Baserow REST API.
package baserow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"gantt-proxy/domain"
)

// DefaultBaseURL is the hosted Baserow API.
const DefaultBaseURL = "https://api.baserow.io"

const (
	rowsPageSize   = 200
	maxErrorBody   = 16 * 1024
	defaultTimeout = 30 * time.Second
)

// ErrMissingToken is returned when a call is made without a token.
var ErrMissingToken = errors.New("missing baserow token")

// APIError is a non-2xx answer from Baserow. Status is passed through to
// callers unchanged.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("baserow: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("baserow: %d: %s", e.Status, e.Message)
}

// Client talks to one Baserow installation.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New creates a Client for baseURL, or DefaultBaseURL when empty.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AuthorizationHeader formats token for Baserow. JWTs (three dot-separated
// segments) use the JWT scheme; database tokens use the Token scheme.
func AuthorizationHeader(token string) string {
	if strings.Count(token, ".") == 2 {
		return "JWT " + token
	}
	return "Token " + token
}

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body, out any) error {
	if token == "" {
		return ErrMissingToken
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", AuthorizationHeader(token))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("baserow %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error  string `json:"error"`
		Detail any    `json:"detail"`
	}
	if err := sonic.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Error
		switch d := body.Detail.(type) {
		case string:
			apiErr.Message = d
		case nil:
		default:
			if b, err := sonic.Marshal(d); err == nil {
				apiErr.Message = string(b)
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// ListWorkspaces returns the workspaces the token can see.
func (c *Client) ListWorkspaces(ctx context.Context, token string) ([]domain.Workspace, error) {
	var raw []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/api/workspaces/", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.Workspace, 0, len(raw))
	for _, w := range raw {
		out = append(out, domain.Workspace{ID: w.ID, Name: w.Name})
	}
	return out, nil
}

// ListTables flattens the tables of every database application in the workspace.
func (c *Client) ListTables(ctx context.Context, token string, workspaceID int) ([]domain.Table, error) {
	var apps []struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Type   string `json:"type"`
		Tables []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"tables"`
	}
	path := "/api/applications/workspace/" + strconv.Itoa(workspaceID) + "/"
	if err := c.do(ctx, token, http.MethodGet, path, nil, nil, &apps); err != nil {
		return nil, err
	}
	tables := []domain.Table{}
	for _, app := range apps {
		if app.Type != "" && app.Type != "database" {
			continue
		}
		for _, t := range app.Tables {
			tables = append(tables, domain.Table{ID: t.ID, Name: t.Name, DatabaseID: app.ID, DatabaseName: app.Name})
		}
	}
	return tables, nil
}

// ListFields returns the columns of a table.
func (c *Client) ListFields(ctx context.Context, token string, tableID int) ([]domain.Field, error) {
	var fields []domain.Field
	path := "/api/database/fields/table/" + strconv.Itoa(tableID) + "/"
	if err := c.do(ctx, token, http.MethodGet, path, nil, nil, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = []domain.Field{}
	}
	return fields, nil
}

type rowsPage struct {
	Count   int          `json:"count"`
	Next    *string      `json:"next"`
	Results []domain.Row `json:"results"`
}

// ListRows returns every row of a table, following pagination.
func (c *Client) ListRows(ctx context.Context, token string, tableID int) ([]domain.Row, error) {
	path := rowsPath(tableID)
	rows := []domain.Row{}
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("user_field_names", "true")
		q.Set("size", strconv.Itoa(rowsPageSize))
		q.Set("page", strconv.Itoa(page))
		var p rowsPage
		if err := c.do(ctx, token, http.MethodGet, path, q, nil, &p); err != nil {
			return nil, err
		}
		rows = append(rows, p.Results...)
		if p.Next == nil || *p.Next == "" || len(p.Results) == 0 {
			return rows, nil
		}
	}
}

// GetRow returns a single row.
func (c *Client) GetRow(ctx context.Context, token string, tableID, rowID int) (domain.Row, error) {
	var row domain.Row
	err := c.do(ctx, token, http.MethodGet, rowPath(tableID, rowID), userFieldNames(), nil, &row)
	return row, err
}

// CreateRow inserts a row and returns it as stored.
func (c *Client) CreateRow(ctx context.Context, token string, tableID int, row domain.Row) (domain.Row, error) {
	var out domain.Row
	err := c.do(ctx, token, http.MethodPost, rowsPath(tableID), userFieldNames(), row, &out)
	return out, err
}

// UpdateRow patches the given fields of a row.
func (c *Client) UpdateRow(ctx context.Context, token string, tableID, rowID int, row domain.Row) (domain.Row, error) {
	var out domain.Row
	err := c.do(ctx, token, http.MethodPatch, rowPath(tableID, rowID), userFieldNames(), row, &out)
	return out, err
}

// DeleteRow removes a row.
func (c *Client) DeleteRow(ctx context.Context, token string, tableID, rowID int) error {
	return c.do(ctx, token, http.MethodDelete, rowPath(tableID, rowID), nil, nil, nil)
}

func rowsPath(tableID int) string {
	return "/api/database/rows/table/" + strconv.Itoa(tableID) + "/"
}

func rowPath(tableID, rowID int) string {
	return rowsPath(tableID) + strconv.Itoa(rowID) + "/"
}

func userFieldNames() url.Values {
	return url.Values{"user_field_names": []string{"true"}}
}
