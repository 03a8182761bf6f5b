package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) CreateMessage(ctx context.Context, params models.MessageCreateParams) (*models.Message, error) {
	m := &models.Message{
		PublicID:          uuid.New(),
		TenantID:          params.TenantID,
		MailboxID:         params.MailboxID,
		InternetMessageID: params.InternetMessageID,
		ConversationID:    params.ConversationID,
		ReceivedAt:        params.ReceivedAt,
		From:              params.From,
		To:                params.To,
		Cc:                params.Cc,
		Status:            models.MessagePending,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (public_id, tenant_id, mailbox_id, internet_message_id, conversation_id, received_at, sender, to_recipients, cc_recipients, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		m.PublicID, m.TenantID, m.MailboxID, m.InternetMessageID, m.ConversationID, m.ReceivedAt,
		m.From, pq.Array(m.To), pq.Array(m.Cc), string(m.Status),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MessageStore) ListMessagesByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, public_id, tenant_id, mailbox_id, internet_message_id, conversation_id, received_at, sender, to_recipients, cc_recipients, status, created_at
		 FROM messages WHERE tenant_id = $1
		 ORDER BY received_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.PublicID, &m.TenantID, &m.MailboxID, &m.InternetMessageID, &m.ConversationID, &m.ReceivedAt, &m.From, pq.Array(&m.To), pq.Array(&m.Cc), &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
