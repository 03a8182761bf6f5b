// Package subscription manages the lifecycle of Graph webhook subscriptions:
// enabling and disabling mailbox monitoring, renewal before expiry, and
// resolving the monitorable address set for a tenant.
package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/cloudsolutiongmbh/contactio/internal/graph"
	"github.com/cloudsolutiongmbh/contactio/internal/models"
	"github.com/cloudsolutiongmbh/contactio/internal/store"
)

// Graph enforces a maximum subscription lifetime for mail resources; each
// create or renew asks for a fixed 2-day expiry.
const SubscriptionLifetime = 2 * 24 * time.Hour

// DefaultRenewWindow is how far ahead of expiry RenewExpiring reaches by
// default.
const DefaultRenewWindow = 72 * time.Hour

var (
	ErrWebhookURLNotConfigured     = errors.New("webhook url not configured")
	ErrEncryptionCertNotConfigured = errors.New("encryption certificate not configured")
)

// GraphClient is the slice of the Graph client the manager needs.
type GraphClient interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Patch(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Delete(ctx context.Context, path string) error
}

// Options carries the provider-facing configuration the manager depends on.
type Options struct {
	WebhookURL        string
	EncryptionCertPEM string
	ClientID          string
	TenantID          string
	RedirectURI       string
}

type Service struct {
	mailboxes     store.MailboxStore
	subscriptions store.SubscriptionStore
	settings      store.TenantSettingsStore
	graph         GraphClient
	opts          Options
}

func NewService(
	mailboxes store.MailboxStore,
	subscriptions store.SubscriptionStore,
	settings store.TenantSettingsStore,
	graph GraphClient,
	opts Options,
) *Service {
	return &Service{
		mailboxes:     mailboxes,
		subscriptions: subscriptions,
		settings:      settings,
		graph:         graph,
		opts:          opts,
	}
}

// EnableMailbox upserts the mailbox as enabled and registers a fresh webhook
// subscription for its inbox. Each call creates a new subscription; older
// ones are only removed by DisableMailbox.
func (s *Service) EnableMailbox(ctx context.Context, tenantID, userID, address, displayName string) (*models.Mailbox, error) {
	if s.opts.WebhookURL == "" {
		return nil, ErrWebhookURLNotConfigured
	}
	if s.opts.EncryptionCertPEM == "" {
		return nil, ErrEncryptionCertNotConfigured
	}

	mailbox, err := s.mailboxes.UpsertMailbox(ctx, tenantID, userID, address, displayName)
	if err != nil {
		return nil, fmt.Errorf("upsert mailbox: %w", err)
	}

	clientState := uuid.NewString()
	expiresAt := time.Now().UTC().Add(SubscriptionLifetime)
	body := map[string]interface{}{
		"changeType":                "created",
		"notificationUrl":           s.opts.WebhookURL,
		"resource":                  fmt.Sprintf("/users/%s/mailFolders('inbox')/messages", userID),
		"expirationDateTime":        expiresAt.Format(time.RFC3339),
		"clientState":               clientState,
		"includeResourceData":       true,
		"encryptionCertificate":     s.opts.EncryptionCertPEM,
		"encryptionCertificateId":   "contactio-mailsync",
		"latestSupportedTlsVersion": "v1_2",
	}

	raw, err := s.graph.Post(ctx, "/subscriptions", body)
	if err != nil {
		return nil, fmt.Errorf("create graph subscription: %w", err)
	}

	var created struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == "" {
		return nil, fmt.Errorf("unexpected subscription create response: %s", string(raw))
	}
	if parsed, parseErr := time.Parse(time.RFC3339, created.ExpirationDateTime); parseErr == nil {
		expiresAt = parsed
	}

	if _, err := s.subscriptions.InsertSubscription(ctx, tenantID, mailbox.ID, created.ID, clientState, expiresAt); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	return mailbox, nil
}

// DisableMailbox deletes the mailbox's subscriptions at the provider and in
// storage, then marks the mailbox disabled. An absent mailbox is a no-op.
func (s *Service) DisableMailbox(ctx context.Context, mailboxID int64) error {
	mailbox, err := s.mailboxes.GetMailboxByID(ctx, mailboxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("get mailbox: %w", err)
	}

	subs, err := s.subscriptions.ListSubscriptionsByMailbox(ctx, mailbox.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range subs {
		if err := s.graph.Delete(ctx, "/subscriptions/"+url.PathEscape(sub.SubscriptionID)); err != nil {
			return fmt.Errorf("delete graph subscription %s: %w", sub.SubscriptionID, err)
		}
		if err := s.subscriptions.DeleteSubscription(ctx, sub.ID); err != nil {
			return fmt.Errorf("delete stored subscription: %w", err)
		}
	}

	if err := s.mailboxes.SetMailboxEnabled(ctx, mailbox.ID, false); err != nil {
		return fmt.Errorf("disable mailbox: %w", err)
	}
	return nil
}

// RenewExpiring extends every subscription expiring within the given window
// by another fixed lifetime and returns how many were renewed. A subscription
// the provider no longer knows is pruned from storage rather than retried,
// so one dead row cannot block renewal of the rest on every pass.
func (s *Service) RenewExpiring(ctx context.Context, within time.Duration) (int, error) {
	if within <= 0 {
		within = DefaultRenewWindow
	}

	subs, err := s.subscriptions.ListAllSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	now := time.Now().UTC()
	renewed := 0
	for _, sub := range subs {
		if sub.ExpiresAt.Sub(now) > within {
			continue
		}
		newExpiry := now.Add(SubscriptionLifetime)
		_, err := s.graph.Patch(ctx, "/subscriptions/"+url.PathEscape(sub.SubscriptionID), map[string]interface{}{
			"expirationDateTime": newExpiry.Format(time.RFC3339),
		})
		if err != nil {
			var upstream *graph.UpstreamError
			if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
				if delErr := s.subscriptions.DeleteSubscription(ctx, sub.ID); delErr != nil {
					return renewed, fmt.Errorf("prune expired subscription %s: %w", sub.SubscriptionID, delErr)
				}
				continue
			}
			return renewed, fmt.Errorf("renew subscription %s: %w", sub.SubscriptionID, err)
		}
		if err := s.subscriptions.UpdateSubscriptionExpiry(ctx, sub.ID, newExpiry); err != nil {
			return renewed, fmt.Errorf("persist renewed expiry: %w", err)
		}
		renewed++
	}
	return renewed, nil
}

// MailboxInfo is one monitorable directory address cross-referenced against
// stored mailbox state.
type MailboxInfo struct {
	UserID      string `json:"user_id"`
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`
	MailboxID   int64  `json:"mailbox_id,omitempty"`
}

// ListMailboxes resolves the monitorable address set, either from the
// tenant's configured group scope or from a capped directory listing, and
// reports the enabled state of each address.
func (s *Service) ListMailboxes(ctx context.Context, tenantID string) ([]MailboxInfo, error) {
	settings, err := s.settings.GetTenantSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant settings: %w", err)
	}

	var items []MailboxInfo
	if settings.GroupScope != "" {
		items, err = s.fetchDirectoryUsers(ctx, fmt.Sprintf("/groups/%s/members?$select=id,displayName,mail,userPrincipalName", url.PathEscape(settings.GroupScope)))
	} else {
		items, err = s.fetchDirectoryUsers(ctx, "/users?$select=id,displayName,mail,userPrincipalName&$top=50")
	}
	if err != nil {
		return nil, err
	}

	stored, err := s.mailboxes.ListMailboxesByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list stored mailboxes: %w", err)
	}
	byUserID := make(map[string]models.Mailbox, len(stored))
	for _, m := range stored {
		byUserID[m.UserID] = m
	}

	for i := range items {
		if m, ok := byUserID[items[i].UserID]; ok {
			items[i].Enabled = m.Enabled
			items[i].MailboxID = m.ID
		}
	}
	return items, nil
}

// ReconcileGroupScope enables monitoring for every group member that is not
// already an enabled mailbox. Returns how many mailboxes were enabled.
func (s *Service) ReconcileGroupScope(ctx context.Context, tenantID string) (int, error) {
	settings, err := s.settings.GetTenantSettings(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("get tenant settings: %w", err)
	}
	if settings.GroupScope == "" {
		return 0, nil
	}

	members, err := s.fetchDirectoryUsers(ctx, fmt.Sprintf("/groups/%s/members?$select=id,displayName,mail,userPrincipalName", url.PathEscape(settings.GroupScope)))
	if err != nil {
		return 0, err
	}

	created := 0
	for _, member := range members {
		existing, err := s.mailboxes.GetMailboxByUserID(ctx, member.UserID)
		if err == nil && existing.Enabled {
			continue
		}
		if _, err := s.EnableMailbox(ctx, tenantID, member.UserID, member.Address, member.DisplayName); err != nil {
			return created, fmt.Errorf("enable mailbox for %s: %w", member.Address, err)
		}
		created++
	}
	return created, nil
}

// ConsentURL builds the admin-consent URL an operator visits to grant the
// application access to the directory. Empty when no client id is set.
func (s *Service) ConsentURL() string {
	if s.opts.ClientID == "" {
		return ""
	}
	tenant := s.opts.TenantID
	if tenant == "" {
		tenant = "common"
	}
	redirect := s.opts.RedirectURI
	if redirect == "" {
		redirect = "https://login.microsoftonline.com/common/adminconsent"
	}

	u := url.URL{
		Scheme: "https",
		Host:   "login.microsoftonline.com",
		Path:   fmt.Sprintf("/%s/v2.0/adminconsent", tenant),
	}
	q := u.Query()
	q.Set("client_id", s.opts.ClientID)
	q.Set("state", "contactio-admin-consent")
	q.Set("redirect_uri", redirect)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) fetchDirectoryUsers(ctx context.Context, path string) ([]MailboxInfo, error) {
	raw, err := s.graph.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list directory users: %w", err)
	}

	var page struct {
		Value []struct {
			ID                string `json:"id"`
			DisplayName       string `json:"displayName"`
			Mail              string `json:"mail"`
			UserPrincipalName string `json:"userPrincipalName"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode directory listing: %w", err)
	}

	var items []MailboxInfo
	for _, u := range page.Value {
		address := u.Mail
		if address == "" {
			address = u.UserPrincipalName
		}
		if address == "" {
			continue
		}
		displayName := u.DisplayName
		if displayName == "" {
			displayName = u.UserPrincipalName
		}
		items = append(items, MailboxInfo{
			UserID:      u.ID,
			Address:     address,
			DisplayName: displayName,
		})
	}
	return items, nil
}
