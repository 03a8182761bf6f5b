package ingest

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type mockLockStore struct {
	now     func() time.Time
	expires map[string]time.Time
}

func newMockLockStore() *mockLockStore {
	return &mockLockStore{
		now:     time.Now,
		expires: make(map[string]time.Time),
	}
}

func (m *mockLockStore) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	if exp, ok := m.expires[key]; ok && exp.After(now) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

func (m *mockLockStore) ReleaseLock(_ context.Context, key string) error {
	delete(m.expires, key)
	return nil
}

type mockConversationStore struct {
	watermarks map[string]time.Time
}

func newMockConversationStore() *mockConversationStore {
	return &mockConversationStore{watermarks: make(map[string]time.Time)}
}

func (m *mockConversationStore) AdvanceInboundWatermark(_ context.Context, tenantID, conversationID string, receivedAt time.Time) (bool, error) {
	key := tenantID + "/" + conversationID
	if existing, ok := m.watermarks[key]; ok && !existing.Before(receivedAt) {
		return false, nil
	}
	m.watermarks[key] = receivedAt
	return true, nil
}

func (m *mockConversationStore) GetConversation(_ context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	key := tenantID + "/" + conversationID
	wm, ok := m.watermarks[key]
	if !ok {
		return nil, nil
	}
	return &models.Conversation{
		TenantID:           tenantID,
		ConversationID:     conversationID,
		MaxReceivedInbound: wm,
	}, nil
}

type mockMessageStore struct {
	created []models.MessageCreateParams
	seen    map[string]bool
	nextID  int64
}

func newMockMessageStore() *mockMessageStore {
	return &mockMessageStore{seen: make(map[string]bool)}
}

func (m *mockMessageStore) CreateMessage(_ context.Context, params models.MessageCreateParams) (*models.Message, error) {
	key := params.TenantID + "/" + params.InternetMessageID
	if m.seen[key] {
		return nil, &pq.Error{Code: "23505", Constraint: "messages_tenant_id_internet_message_id_key"}
	}
	m.seen[key] = true
	m.created = append(m.created, params)
	m.nextID++
	return &models.Message{
		ID:                m.nextID,
		TenantID:          params.TenantID,
		MailboxID:         params.MailboxID,
		InternetMessageID: params.InternetMessageID,
		ConversationID:    params.ConversationID,
		ReceivedAt:        params.ReceivedAt,
		Status:            models.MessagePending,
	}, nil
}

func (m *mockMessageStore) ListMessagesByTenant(_ context.Context, tenantID string, limit, offset int) ([]models.Message, error) {
	return nil, nil
}

type mockSettingsStore struct {
	byTenant map[string]*models.TenantSettings
}

func newMockSettingsStore() *mockSettingsStore {
	return &mockSettingsStore{byTenant: make(map[string]*models.TenantSettings)}
}

func (m *mockSettingsStore) GetTenantSettings(_ context.Context, tenantID string) (*models.TenantSettings, error) {
	if s, ok := m.byTenant[tenantID]; ok {
		return s, nil
	}
	return &models.TenantSettings{TenantID: tenantID}, nil
}

func (m *mockSettingsStore) UpsertTenantSettings(_ context.Context, tenantID string, ownedDomains []string, groupScope string) (*models.TenantSettings, error) {
	s := &models.TenantSettings{TenantID: tenantID, OwnedDomains: ownedDomains, GroupScope: groupScope}
	m.byTenant[tenantID] = s
	return s, nil
}

func newTestService() (*Service, *mockLockStore, *mockConversationStore, *mockMessageStore, *mockSettingsStore) {
	locks := newMockLockStore()
	convs := newMockConversationStore()
	msgs := newMockMessageStore()
	settings := newMockSettingsStore()
	return NewService(locks, convs, msgs, settings), locks, convs, msgs, settings
}
