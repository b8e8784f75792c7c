package api

const (
	maxJSONBodySize    = 256 * 1024 // 256 KiB
	maxWebhookBodySize = 1024 * 1024

	headerWebhookSecret = "X-Baserow-Webhook-Secret"
	headerUserToken     = "X-User-Token"
)

// every JSON body carries a success flag
type envelope map[string]any

// POST /api/webhooks/baserow response body
type webhookResponse struct {
	Success     bool   `json:"success"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Revalidated bool   `json:"revalidated"`
	Error       string `json:"error,omitempty"`
}
