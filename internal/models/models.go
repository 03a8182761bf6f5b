package models

import (
	"time"

	"github.com/google/uuid"
)

// Mailbox is a monitored Graph mailbox, identified by the Graph user id.
// Disabling monitoring flips Enabled rather than deleting the row.
type Mailbox struct {
	ID          int64
	PublicID    uuid.UUID
	TenantID    string
	UserID      string
	Address     string
	DisplayName string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subscription is one active webhook registration with Graph for one mailbox.
type Subscription struct {
	ID             int64
	TenantID       string
	MailboxID      int64
	SubscriptionID string
	ExpiresAt      time.Time
	ClientState    string
	DeltaToken     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageProcessed MessageStatus = "processed"
	MessageDuplicate MessageStatus = "duplicate"
)

// Message is one ingested email, deduplicated by (tenant, internet message id).
// Rows are immutable after insert except for Status transitions performed by
// downstream processing.
type Message struct {
	ID                int64
	PublicID          uuid.UUID
	TenantID          string
	MailboxID         int64
	InternetMessageID string
	ConversationID    string
	ReceivedAt        time.Time
	From              string
	To                []string
	Cc                []string
	Status            MessageStatus
	CreatedAt         time.Time
}

type MessageCreateParams struct {
	TenantID          string
	MailboxID         int64
	InternetMessageID string
	ConversationID    string
	ReceivedAt        time.Time
	From              string
	To                []string
	Cc                []string
}

// Conversation tracks the maximum received timestamp seen among inbound
// messages of one Graph conversation. MaxReceivedInbound is non-decreasing.
type Conversation struct {
	TenantID           string
	ConversationID     string
	MaxReceivedInbound time.Time
	UpdatedAt          time.Time
}

// TenantSettings holds the per-tenant ingestion configuration. OwnedDomains
// marks sender domains whose mail is classified outbound; GroupScope, when
// set, restricts the monitorable address set to one directory group.
type TenantSettings struct {
	TenantID     string
	OwnedDomains []string
	GroupScope   string
	UpdatedAt    time.Time
}

type IngestJobStatus string

const (
	IngestJobQueued     IngestJobStatus = "queued"
	IngestJobProcessing IngestJobStatus = "processing"
	IngestJobDone       IngestJobStatus = "done"
	IngestJobFailed     IngestJobStatus = "failed"
)

// IngestJob is one enqueued change notification awaiting processing. The
// webhook handler enqueues and acknowledges; workers claim jobs and drive
// them through the ingestion engine.
type IngestJob struct {
	ID          int64
	Status      IngestJobStatus
	Payload     []byte
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	LockedAt    *time.Time
	LastError   string
	Outcome     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DoneAt      *time.Time
}
