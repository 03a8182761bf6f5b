package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudsolutiongmbh/contactio/internal/delta"
	"github.com/cloudsolutiongmbh/contactio/internal/store"
	"github.com/cloudsolutiongmbh/contactio/internal/subscription"
)

// AdminHandler serves the operator API: mailbox lifecycle, subscription
// maintenance, tenant settings, and manual sync triggers.
type AdminHandler struct {
	subs          *subscription.Service
	delta         *delta.Service
	subscriptions store.SubscriptionStore
	messages      store.MessageStore
	settings      store.TenantSettingsStore
	logger        *slog.Logger
}

func NewAdminHandler(
	subs *subscription.Service,
	deltaSvc *delta.Service,
	subscriptions store.SubscriptionStore,
	messages store.MessageStore,
	settings store.TenantSettingsStore,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		subs:          subs,
		delta:         deltaSvc,
		subscriptions: subscriptions,
		messages:      messages,
		settings:      settings,
		logger:        logger,
	}
}

// HandleEnableMailbox turns on monitoring for one directory user.
func (h *AdminHandler) HandleEnableMailbox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID    string `json:"tenant_id"`
		UserID      string `json:"user_id"`
		Address     string `json:"address"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}
	if req.TenantID == "" || req.UserID == "" || req.Address == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "tenant_id, user_id and address are required"})
		return
	}

	mailbox, err := h.subs.EnableMailbox(r.Context(), req.TenantID, req.UserID, req.Address, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrWebhookURLNotConfigured),
			errors.Is(err, subscription.ErrEncryptionCertNotConfigured):
			writeJSON(w, http.StatusConflict, jsonResponse{Error: err.Error()})
		default:
			h.logger.Error("enable mailbox", "user_id", req.UserID, "error", err)
			writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "failed to enable mailbox"})
		}
		return
	}

	writeJSON(w, http.StatusOK, mailbox)
}

// HandleDisableMailbox tears down subscriptions for a mailbox and disables
// it. Disabling an unknown mailbox succeeds.
func (h *AdminHandler) HandleDisableMailbox(w http.ResponseWriter, r *http.Request) {
	mailboxID, err := strconv.ParseInt(chi.URLParam(r, "mailboxID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "mailbox id must be numeric"})
		return
	}

	if err := h.subs.DisableMailbox(r.Context(), mailboxID); err != nil {
		h.logger.Error("disable mailbox", "mailbox_id", mailboxID, "error", err)
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "failed to disable mailbox"})
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleListMailboxes lists the monitorable directory addresses for a tenant
// with their enabled state.
func (h *AdminHandler) HandleListMailboxes(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "tenant_id is required"})
		return
	}

	items, err := h.subs.ListMailboxes(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list mailboxes", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "failed to list mailboxes"})
		return
	}
	if items == nil {
		items = []subscription.MailboxInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mailboxes": items})
}

// HandleListSubscriptions lists stored subscription rows for a tenant.
func (h *AdminHandler) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "tenant_id is required"})
		return
	}

	subs, err := h.subscriptions.ListSubscriptionsByTenant(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list subscriptions", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "failed to list subscriptions"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

// HandleRenewSubscriptions renews every subscription expiring inside the
// requested window (default 72h).
func (h *AdminHandler) HandleRenewSubscriptions(w http.ResponseWriter, r *http.Request) {
	var within time.Duration
	if hours := r.URL.Query().Get("within_hours"); hours != "" {
		n, err := strconv.Atoi(hours)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "within_hours must be a positive integer"})
			return
		}
		within = time.Duration(n) * time.Hour
	}

	renewed, err := h.subs.RenewExpiring(r.Context(), within)
	if err != nil {
		h.logger.Error("renew subscriptions", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"renewed": renewed,
			"error":   "renewal aborted",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"renewed": renewed})
}

// HandleReconcile enables every member of the tenant's monitored group that
// is not yet an enabled mailbox.
func (h *AdminHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "tenant_id is required"})
		return
	}

	enabled, err := h.subs.ReconcileGroupScope(r.Context(), req.TenantID)
	if err != nil {
		h.logger.Error("reconcile group scope", "tenant_id", req.TenantID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"enabled": enabled,
			"error":   "reconcile aborted",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": enabled})
}

// HandleGetSettings returns the tenant's settings, zero-valued when never
// saved.
func (h *AdminHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	settings, err := h.settings.GetTenantSettings(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("get tenant settings", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "failed to load settings"})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// HandlePutSettings replaces the tenant's owned domains and group scope.
// Domains are lowercased on write.
func (h *AdminHandler) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req struct {
		OwnedDomains []string `json:"owned_domains"`
		GroupScope   string   `json:"group_scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	domains := make([]string, 0, len(req.OwnedDomains))
	for _, d := range req.OwnedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}

	settings, err := h.settings.UpsertTenantSettings(r.Context(), tenantID, domains, strings.TrimSpace(req.GroupScope))
	if err != nil {
		h.logger.Error("save tenant settings", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "failed to save settings"})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// HandleDeltaSync runs an on-demand delta sync for one mailbox.
func (h *AdminHandler) HandleDeltaSync(w http.ResponseWriter, r *http.Request) {
	mailboxID, err := strconv.ParseInt(chi.URLParam(r, "mailboxID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "mailbox id must be numeric"})
		return
	}

	enqueued, err := h.delta.SyncMailbox(r.Context(), mailboxID)
	if err != nil {
		h.logger.Error("delta sync", "mailbox_id", mailboxID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"enqueued": enqueued,
			"error":    "delta sync aborted",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enqueued": enqueued})
}

// HandleListMessages pages through ingested messages for a tenant.
func (h *AdminHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "tenant_id is required"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	msgs, err := h.messages.ListMessagesByTenant(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error("list messages", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "failed to list messages"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// HandleConsentURL returns the admin-consent URL for the configured app
// registration.
func (h *AdminHandler) HandleConsentURL(w http.ResponseWriter, r *http.Request) {
	u := h.subs.ConsentURL()
	if u == "" {
		writeJSON(w, http.StatusConflict, jsonResponse{Error: "graph client id not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"consent_url": u})
}
