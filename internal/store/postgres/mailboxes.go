package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type MailboxStore struct {
	db *sql.DB
}

func NewMailboxStore(db *sql.DB) *MailboxStore {
	return &MailboxStore{db: db}
}

func (s *MailboxStore) UpsertMailbox(ctx context.Context, tenantID, userID, address, displayName string) (*models.Mailbox, error) {
	m := &models.Mailbox{
		TenantID:    tenantID,
		UserID:      userID,
		Address:     address,
		DisplayName: displayName,
		Enabled:     true,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO mailboxes (public_id, tenant_id, user_id, address, display_name, enabled)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 ON CONFLICT (user_id) DO UPDATE
		 SET enabled = TRUE,
		     address = EXCLUDED.address,
		     display_name = EXCLUDED.display_name,
		     updated_at = NOW()
		 RETURNING id, public_id, created_at, updated_at`,
		uuid.New(), m.TenantID, m.UserID, m.Address, m.DisplayName,
	).Scan(&m.ID, &m.PublicID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MailboxStore) GetMailboxByID(ctx context.Context, id int64) (*models.Mailbox, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, public_id, tenant_id, user_id, address, display_name, enabled, created_at, updated_at
		 FROM mailboxes WHERE id = $1`, id))
}

func (s *MailboxStore) GetMailboxByUserID(ctx context.Context, userID string) (*models.Mailbox, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, public_id, tenant_id, user_id, address, display_name, enabled, created_at, updated_at
		 FROM mailboxes WHERE user_id = $1`, userID))
}

func (s *MailboxStore) ListMailboxesByTenant(ctx context.Context, tenantID string) ([]models.Mailbox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, public_id, tenant_id, user_id, address, display_name, enabled, created_at, updated_at
		 FROM mailboxes WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	return s.scanAll(rows)
}

func (s *MailboxStore) ListEnabledMailboxes(ctx context.Context) ([]models.Mailbox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, public_id, tenant_id, user_id, address, display_name, enabled, created_at, updated_at
		 FROM mailboxes WHERE enabled ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	return s.scanAll(rows)
}

func (s *MailboxStore) SetMailboxEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	return err
}

func (s *MailboxStore) scanOne(row *sql.Row) (*models.Mailbox, error) {
	m := &models.Mailbox{}
	err := row.Scan(&m.ID, &m.PublicID, &m.TenantID, &m.UserID, &m.Address, &m.DisplayName, &m.Enabled, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MailboxStore) scanAll(rows *sql.Rows) ([]models.Mailbox, error) {
	defer rows.Close()

	var mailboxes []models.Mailbox
	for rows.Next() {
		var m models.Mailbox
		if err := rows.Scan(&m.ID, &m.PublicID, &m.TenantID, &m.UserID, &m.Address, &m.DisplayName, &m.Enabled, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, rows.Err()
}
