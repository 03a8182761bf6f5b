package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) InsertSubscription(ctx context.Context, tenantID string, mailboxID int64, subscriptionID, clientState string, expiresAt time.Time) (*models.Subscription, error) {
	sub := &models.Subscription{
		TenantID:       tenantID,
		MailboxID:      mailboxID,
		SubscriptionID: subscriptionID,
		ClientState:    clientState,
		ExpiresAt:      expiresAt,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (tenant_id, mailbox_id, subscription_id, client_state, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, delta_token, created_at, updated_at`,
		sub.TenantID, sub.MailboxID, sub.SubscriptionID, sub.ClientState, sub.ExpiresAt,
	).Scan(&sub.ID, &sub.DeltaToken, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionStore) GetSubscriptionBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, mailbox_id, subscription_id, client_state, delta_token, expires_at, created_at, updated_at
		 FROM subscriptions WHERE subscription_id = $1`, subscriptionID,
	).Scan(&sub.ID, &sub.TenantID, &sub.MailboxID, &sub.SubscriptionID, &sub.ClientState, &sub.DeltaToken, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionStore) ListSubscriptionsByMailbox(ctx context.Context, mailboxID int64) ([]models.Subscription, error) {
	return s.list(ctx,
		`SELECT id, tenant_id, mailbox_id, subscription_id, client_state, delta_token, expires_at, created_at, updated_at
		 FROM subscriptions WHERE mailbox_id = $1 ORDER BY created_at ASC`, mailboxID)
}

func (s *SubscriptionStore) ListSubscriptionsByTenant(ctx context.Context, tenantID string) ([]models.Subscription, error) {
	return s.list(ctx,
		`SELECT id, tenant_id, mailbox_id, subscription_id, client_state, delta_token, expires_at, created_at, updated_at
		 FROM subscriptions WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
}

func (s *SubscriptionStore) ListAllSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	return s.list(ctx,
		`SELECT id, tenant_id, mailbox_id, subscription_id, client_state, delta_token, expires_at, created_at, updated_at
		 FROM subscriptions ORDER BY expires_at ASC`)
}

func (s *SubscriptionStore) UpdateSubscriptionExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET expires_at = $1, updated_at = NOW() WHERE id = $2`, expiresAt, id)
	return err
}

func (s *SubscriptionStore) UpdateSubscriptionDeltaToken(ctx context.Context, id int64, deltaToken string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET delta_token = $1, updated_at = NOW() WHERE id = $2`, deltaToken, id)
	return err
}

func (s *SubscriptionStore) DeleteSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	return err
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...interface{}) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.MailboxID, &sub.SubscriptionID, &sub.ClientState, &sub.DeltaToken, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
