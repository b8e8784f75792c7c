package domain

import (
	"encoding/json"
	"strconv"
)

// WebhookEvent is the body Baserow posts to a webhook endpoint.
type WebhookEvent struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	TableID   int               `json:"table_id"`
	Items     []json.RawMessage `json:"items,omitempty"`
	Item      json.RawMessage   `json:"item,omitempty"`
}

// TableKey returns the table id as used in cache keys, or "" when absent.
func (e WebhookEvent) TableKey() string {
	if e.TableID == 0 {
		return ""
	}
	return strconv.Itoa(e.TableID)
}

// EventEnvelope wraps a webhook event for downstream consumers.
type EventEnvelope struct {
	ReceivedAt int64        `json:"receivedAt"`
	Event      WebhookEvent `json:"event"`
}
