package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type TenantSettingsStore struct {
	db *sql.DB
}

func NewTenantSettingsStore(db *sql.DB) *TenantSettingsStore {
	return &TenantSettingsStore{db: db}
}

func (s *TenantSettingsStore) GetTenantSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	ts := &models.TenantSettings{}
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, owned_domains, group_scope, updated_at
		 FROM tenant_settings WHERE tenant_id = $1`, tenantID,
	).Scan(&ts.TenantID, pq.Array(&ts.OwnedDomains), &ts.GroupScope, &ts.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.TenantSettings{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func (s *TenantSettingsStore) UpsertTenantSettings(ctx context.Context, tenantID string, ownedDomains []string, groupScope string) (*models.TenantSettings, error) {
	ts := &models.TenantSettings{
		TenantID:     tenantID,
		OwnedDomains: ownedDomains,
		GroupScope:   groupScope,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tenant_settings (tenant_id, owned_domains, group_scope)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET owned_domains = EXCLUDED.owned_domains,
		     group_scope = EXCLUDED.group_scope,
		     updated_at = NOW()
		 RETURNING updated_at`,
		ts.TenantID, pq.Array(ts.OwnedDomains), ts.GroupScope,
	).Scan(&ts.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ts, nil
}
