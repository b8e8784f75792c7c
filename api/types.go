package api

import (
	"context"

	"gantt-proxy/domain"
)

// Upstream abstracts the Baserow calls handlers make.
type Upstream interface {
	ListWorkspaces(ctx context.Context, token string) ([]domain.Workspace, error)
	ListTables(ctx context.Context, token string, workspaceID int) ([]domain.Table, error)
	ListFields(ctx context.Context, token string, tableID int) ([]domain.Field, error)
	GetRow(ctx context.Context, token string, tableID, rowID int) (domain.Row, error)
	CreateRow(ctx context.Context, token string, tableID int, row domain.Row) (domain.Row, error)
	UpdateRow(ctx context.Context, token string, tableID, rowID int, row domain.Row) (domain.Row, error)
	DeleteRow(ctx context.Context, token string, tableID, rowID int) error
}

// RowLister lists a table's rows, possibly from a cache.
type RowLister interface {
	ListRows(ctx context.Context, token string, tableID int) ([]domain.Row, error)
}

// RowInvalidator drops cached rows for a table.
type RowInvalidator interface {
	Invalidate(ctx context.Context, tableID int) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate webhook deliveries.
type Deduper interface {
	// Add records the id and returns true if it was newly added.
	Add(ctx context.Context, scope, id string) (bool, error)
	// Remove deletes a previously added id, used when processing fails.
	Remove(ctx context.Context, scope, id string) error
}

// EventSink receives webhook events for downstream consumers.
type EventSink interface {
	Publish(ctx context.Context, envs []domain.EventEnvelope) error
}
