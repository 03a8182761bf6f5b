package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cloudsolutiongmbh/contactio/internal/ingest"
	"github.com/cloudsolutiongmbh/contactio/internal/payload"
	"github.com/cloudsolutiongmbh/contactio/internal/store"
)

const webhookMaxBodyBytes int64 = 4 * 1024 * 1024

// WebhookHandler receives Graph change notifications. The provider treats
// anything other than a fast 2xx as a delivery failure and retries, so the
// POST path never reports errors upward; bad notifications are logged and
// skipped.
type WebhookHandler struct {
	subscriptions store.SubscriptionStore
	jobs          store.IngestJobStore
	decryptor     *payload.Decryptor
	logger        *slog.Logger
}

func NewWebhookHandler(
	subscriptions store.SubscriptionStore,
	jobs store.IngestJobStore,
	decryptor *payload.Decryptor,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		subscriptions: subscriptions,
		jobs:          jobs,
		decryptor:     decryptor,
		logger:        logger,
	}
}

// HandleValidation answers the subscription handshake: Graph probes the
// notification URL with ?validationToken=... and expects the token echoed
// back as plain text.
func (h *WebhookHandler) HandleValidation(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("validationToken")
	if token == "" {
		http.Error(w, "missing validationToken", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, token)
}

// HandleNotifications accepts a change-notification batch, enqueues an
// ingest job per usable notification, and acknowledges with 202 regardless
// of payload quality.
func (h *WebhookHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	// Some deliveries carry the handshake token in the POST query instead.
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, token)
		return
	}

	defer func() {
		w.WriteHeader(http.StatusAccepted)
	}()

	r.Body = http.MaxBytesReader(w, r.Body, webhookMaxBodyBytes)
	var batch ingest.NotificationBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.logger.Warn("webhook: undecodable notification body", "error", err)
		return
	}

	// Rich notifications are supposed to carry JWT validation tokens. Full
	// signature validation against the Microsoft JWKS is not implemented;
	// clientState matching below is the authenticity check.
	if len(batch.Value) > 0 && len(batch.ValidationTokens) == 0 {
		h.logger.Warn("webhook: notification batch without validation tokens")
	}

	for _, note := range batch.Value {
		h.processNotification(r, note)
	}
}

func (h *WebhookHandler) processNotification(r *http.Request, note ingest.ChangeNotification) {
	if note.SubscriptionID == "" {
		h.logger.Warn("webhook: notification without subscriptionId")
		return
	}

	sub, err := h.subscriptions.GetSubscriptionBySubscriptionID(r.Context(), note.SubscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.logger.Warn("webhook: notification for unknown subscription",
				"subscription_id", note.SubscriptionID)
		} else {
			h.logger.Error("webhook: subscription lookup failed",
				"subscription_id", note.SubscriptionID, "error", err)
		}
		return
	}

	if sub.ClientState != "" && note.ClientState != sub.ClientState {
		h.logger.Warn("webhook: clientState mismatch, dropping notification",
			"subscription_id", note.SubscriptionID)
		return
	}

	meta := h.resolveMeta(note)

	job := ingest.JobPayload{
		TenantID:       sub.TenantID,
		MailboxID:      sub.MailboxID,
		SubscriptionID: sub.SubscriptionID,
		Resource:       note.Resource,
		Meta:           meta,
	}
	if !job.IsUsable() {
		h.logger.Warn("webhook: notification carries neither content nor resource",
			"subscription_id", note.SubscriptionID)
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		h.logger.Error("webhook: marshal ingest job", "error", err)
		return
	}
	if _, err := h.jobs.EnqueueIngestJob(r.Context(), body, 0); err != nil {
		h.logger.Error("webhook: enqueue ingest job",
			"subscription_id", note.SubscriptionID, "error", err)
	}
}

// resolveMeta extracts the message JSON delivered with the notification.
// Decryption failures fall through to nil so the worker re-fetches the
// message from Graph instead.
func (h *WebhookHandler) resolveMeta(note ingest.ChangeNotification) json.RawMessage {
	if note.EncryptedContent != nil && h.decryptor != nil {
		meta, err := h.decryptor.Decrypt(
			note.EncryptedContent.Data,
			note.EncryptedContent.DataKey,
			note.EncryptedContent.DataSignature,
		)
		if err == nil {
			return meta
		}
		h.logger.Warn("webhook: payload decryption failed, deferring to fetch",
			"subscription_id", note.SubscriptionID, "error", err)
	}
	// Plain resourceData usually carries only the id and @odata fields.
	// Attach it only when it is complete enough to ingest directly; the
	// worker fetches the full message otherwise.
	if len(note.ResourceData) > 0 {
		if _, err := ingest.ParseMessageMeta(note.ResourceData); err == nil {
			return note.ResourceData
		}
	}
	return nil
}
