package store

import (
	"context"
	"time"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type MailboxStore interface {
	// UpsertMailbox inserts or re-enables the mailbox for the given Graph
	// user id, refreshing address and display name.
	UpsertMailbox(ctx context.Context, tenantID, userID, address, displayName string) (*models.Mailbox, error)
	GetMailboxByID(ctx context.Context, id int64) (*models.Mailbox, error)
	GetMailboxByUserID(ctx context.Context, userID string) (*models.Mailbox, error)
	ListMailboxesByTenant(ctx context.Context, tenantID string) ([]models.Mailbox, error)
	ListEnabledMailboxes(ctx context.Context) ([]models.Mailbox, error)
	SetMailboxEnabled(ctx context.Context, id int64, enabled bool) error
}

type SubscriptionStore interface {
	InsertSubscription(ctx context.Context, tenantID string, mailboxID int64, subscriptionID, clientState string, expiresAt time.Time) (*models.Subscription, error)
	GetSubscriptionBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	ListSubscriptionsByMailbox(ctx context.Context, mailboxID int64) ([]models.Subscription, error)
	ListSubscriptionsByTenant(ctx context.Context, tenantID string) ([]models.Subscription, error)
	ListAllSubscriptions(ctx context.Context) ([]models.Subscription, error)
	UpdateSubscriptionExpiry(ctx context.Context, id int64, expiresAt time.Time) error
	UpdateSubscriptionDeltaToken(ctx context.Context, id int64, deltaToken string) error
	DeleteSubscription(ctx context.Context, id int64) error
}

type MessageStore interface {
	// CreateMessage inserts a pending message row. The (tenant_id,
	// internet_message_id) unique constraint surfaces as a pq unique
	// violation on duplicate inserts.
	CreateMessage(ctx context.Context, params models.MessageCreateParams) (*models.Message, error)
	ListMessagesByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.Message, error)
}

type ConversationStore interface {
	// AdvanceInboundWatermark atomically creates the conversation row at
	// receivedAt or advances it when receivedAt is strictly newer. It
	// reports false when the stored watermark is already at or past
	// receivedAt, leaving the row untouched.
	AdvanceInboundWatermark(ctx context.Context, tenantID, conversationID string, receivedAt time.Time) (bool, error)
	GetConversation(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error)
}

type LockStore interface {
	// AcquireLock takes the advisory lock for key with the given TTL. It
	// reports false when a non-expired lock is already held. Acquiring an
	// expired lock refreshes its expiry in the same statement.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ReleaseLock drops the lock for key so a later attempt can retake it
	// before the TTL lapses. Releasing an absent lock is a no-op.
	ReleaseLock(ctx context.Context, key string) error
}

type TenantSettingsStore interface {
	// GetTenantSettings returns zero-value settings when the tenant has
	// never saved any.
	GetTenantSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error)
	UpsertTenantSettings(ctx context.Context, tenantID string, ownedDomains []string, groupScope string) (*models.TenantSettings, error)
}

type IngestJobStore interface {
	EnqueueIngestJob(ctx context.Context, payload []byte, maxAttempts int) (*models.IngestJob, error)
	ClaimNextIngestJob(ctx context.Context) (*models.IngestJob, error)
	MarkIngestJobDone(ctx context.Context, jobID int64, outcome string) error
	MarkIngestJobRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkIngestJobFailed(ctx context.Context, jobID int64, lastError string) error
}
