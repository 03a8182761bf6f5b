package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// AdvanceInboundWatermark relies on a single conditional upsert so that
// concurrent ingestions for the same conversation cannot regress the
// watermark: the row only changes when receivedAt is strictly newer.
func (s *ConversationStore) AdvanceInboundWatermark(ctx context.Context, tenantID, conversationID string, receivedAt time.Time) (bool, error) {
	var advancedTo time.Time
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (tenant_id, conversation_id, max_received_inbound)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, conversation_id) DO UPDATE
		 SET max_received_inbound = EXCLUDED.max_received_inbound,
		     updated_at = NOW()
		 WHERE conversations.max_received_inbound < EXCLUDED.max_received_inbound
		 RETURNING max_received_inbound`,
		tenantID, conversationID, receivedAt,
	).Scan(&advancedTo)
	if err == sql.ErrNoRows {
		// Conditional update matched nothing: the stored watermark is
		// already at or past receivedAt.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, conversation_id, max_received_inbound, updated_at
		 FROM conversations WHERE tenant_id = $1 AND conversation_id = $2`,
		tenantID, conversationID,
	).Scan(&c.TenantID, &c.ConversationID, &c.MaxReceivedInbound, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
