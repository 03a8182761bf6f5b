// Package ingest deduplicates and orders inbound Graph messages. Exact
// duplicates are absorbed by a short-lived advisory lock; out-of-order
// inbound redelivery is rejected by a per-conversation monotonic watermark.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
	"github.com/cloudsolutiongmbh/contactio/internal/store"
)

// LockTTL is the dedup window. It must exceed any plausible provider
// redelivery window; a duplicate arriving after it is treated as new.
const LockTTL = 48 * time.Hour

// Result reports the outcome of one ingestion attempt. Duplicate and Older
// are expected, frequent outcomes rather than errors.
type Result struct {
	Queued    bool `json:"queued"`
	Duplicate bool `json:"duplicate,omitempty"`
	Older     bool `json:"older,omitempty"`
}

type Service struct {
	locks         store.LockStore
	conversations store.ConversationStore
	messages      store.MessageStore
	settings      store.TenantSettingsStore
}

func NewService(
	locks store.LockStore,
	conversations store.ConversationStore,
	messages store.MessageStore,
	settings store.TenantSettingsStore,
) *Service {
	return &Service{
		locks:         locks,
		conversations: conversations,
		messages:      messages,
		settings:      settings,
	}
}

// IngestIfNew stores the message unless it is a duplicate or a stale inbound
// redelivery for its conversation.
func (s *Service) IngestIfNew(ctx context.Context, params models.MessageCreateParams) (Result, error) {
	lockKey := fmt.Sprintf("msg:%s:%s", params.TenantID, params.InternetMessageID)
	acquired, err := s.locks.AcquireLock(ctx, lockKey, LockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !acquired {
		// Already handled or in flight within the dedup window.
		return Result{Duplicate: true}, nil
	}

	inbound, err := s.isInbound(ctx, params.TenantID, params.From)
	if err != nil {
		s.releaseLock(ctx, lockKey)
		return Result{}, err
	}

	if inbound {
		advanced, err := s.conversations.AdvanceInboundWatermark(ctx, params.TenantID, params.ConversationID, params.ReceivedAt)
		if err != nil {
			s.releaseLock(ctx, lockKey)
			return Result{}, fmt.Errorf("advance conversation watermark: %w", err)
		}
		if !advanced {
			return Result{Older: true}, nil
		}
	}

	if _, err := s.messages.CreateMessage(ctx, params); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Lock expired between two deliveries of the same message;
			// the unique constraint is the backstop.
			return Result{Duplicate: true}, nil
		}
		s.releaseLock(ctx, lockKey)
		return Result{}, fmt.Errorf("create message: %w", err)
	}

	return Result{Queued: true}, nil
}

// releaseLock undoes an acquisition whose follow-up work failed, so the next
// delivery of the same message is not absorbed as a duplicate while no row
// exists. If the release itself fails the TTL remains the fallback.
func (s *Service) releaseLock(ctx context.Context, key string) {
	_ = s.locks.ReleaseLock(context.WithoutCancel(ctx), key)
}

// isInbound classifies by sender domain: mail from one of the tenant's owned
// domains is outbound/internal, everything else (including an absent sender)
// is inbound.
func (s *Service) isInbound(ctx context.Context, tenantID, from string) (bool, error) {
	if from == "" {
		return true, nil
	}
	parts := strings.SplitN(from, "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		return true, nil
	}
	domain := strings.ToLower(parts[1])

	settings, err := s.settings.GetTenantSettings(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("get tenant settings: %w", err)
	}
	for _, owned := range settings.OwnedDomains {
		if strings.ToLower(owned) == domain {
			return false, nil
		}
	}
	return true, nil
}
