package ingest

import "encoding/json"

// JobPayload is the unit of work enqueued for one change notification or one
// delta-page message. Meta carries the message JSON when it was already
// available at enqueue time (decrypted content, inline resource data, or a
// delta page entry); otherwise the worker fetches it from Graph using
// Resource.
type JobPayload struct {
	TenantID       string          `json:"tenant_id"`
	MailboxID      int64           `json:"mailbox_id"`
	SubscriptionID string          `json:"subscription_id"`
	Resource       string          `json:"resource"`
	Meta           json.RawMessage `json:"meta,omitempty"`
}

func (p JobPayload) IsUsable() bool {
	if p.TenantID == "" || p.MailboxID == 0 {
		return false
	}
	return len(p.Meta) > 0 || p.Resource != ""
}
