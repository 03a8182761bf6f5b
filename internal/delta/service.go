// Package delta reconciles mailboxes against the Graph delta feed, catching
// messages whose webhook notifications were missed or dropped.
package delta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cloudsolutiongmbh/contactio/internal/ingest"
	"github.com/cloudsolutiongmbh/contactio/internal/models"
	"github.com/cloudsolutiongmbh/contactio/internal/store"
)

// GraphClient is the slice of the Graph client delta sync needs. Get must
// accept both relative paths and the absolute next/delta links Graph hands
// back.
type GraphClient interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

type Service struct {
	mailboxes     store.MailboxStore
	subscriptions store.SubscriptionStore
	jobs          store.IngestJobStore
	graph         GraphClient
	logger        *slog.Logger
}

func NewService(
	mailboxes store.MailboxStore,
	subscriptions store.SubscriptionStore,
	jobs store.IngestJobStore,
	graph GraphClient,
	logger *slog.Logger,
) *Service {
	return &Service{
		mailboxes:     mailboxes,
		subscriptions: subscriptions,
		jobs:          jobs,
		graph:         graph,
		logger:        logger,
	}
}

type deltaPage struct {
	Value     []json.RawMessage `json:"value"`
	NextLink  string            `json:"@odata.nextLink"`
	DeltaLink string            `json:"@odata.deltaLink"`
}

// SyncMailbox walks the inbox delta feed for one mailbox, enqueuing every
// returned message through the same ingestion pipeline as webhook
// notifications, and persists the terminal delta token for the next run.
// Returns how many messages were enqueued.
func (s *Service) SyncMailbox(ctx context.Context, mailboxID int64) (int, error) {
	mailbox, err := s.mailboxes.GetMailboxByID(ctx, mailboxID)
	if err != nil {
		return 0, fmt.Errorf("get mailbox: %w", err)
	}

	subs, err := s.subscriptions.ListSubscriptionsByMailbox(ctx, mailbox.ID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	// The delta cursor lives on whichever subscription row last stored one.
	// A mailbox without subscriptions still syncs, it just starts from
	// scratch every run.
	var tokenSub *models.Subscription
	deltaToken := ""
	for i := range subs {
		if tokenSub == nil {
			tokenSub = &subs[i]
		}
		if subs[i].DeltaToken != "" {
			tokenSub = &subs[i]
			deltaToken = subs[i].DeltaToken
			break
		}
	}

	next := fmt.Sprintf("/users/%s/mailFolders('inbox')/messages/delta?%s", url.PathEscape(mailbox.UserID), ingest.MessageSelect)
	if deltaToken != "" {
		next += "&$deltatoken=" + url.QueryEscape(deltaToken)
	}

	enqueued := 0
	for next != "" {
		raw, err := s.graph.Get(ctx, next)
		if err != nil {
			return enqueued, fmt.Errorf("fetch delta page: %w", err)
		}

		var page deltaPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return enqueued, fmt.Errorf("decode delta page: %w", err)
		}

		for _, item := range page.Value {
			var probe struct {
				ID      string           `json:"id"`
				Removed *json.RawMessage `json:"@removed"`
			}
			if err := json.Unmarshal(item, &probe); err != nil || probe.ID == "" || probe.Removed != nil {
				continue
			}

			payload, err := json.Marshal(ingest.JobPayload{
				TenantID:  mailbox.TenantID,
				MailboxID: mailbox.ID,
				Resource:  fmt.Sprintf("/users/%s/messages/%s", mailbox.UserID, probe.ID),
				Meta:      item,
			})
			if err != nil {
				return enqueued, fmt.Errorf("marshal ingest job: %w", err)
			}
			if _, err := s.jobs.EnqueueIngestJob(ctx, payload, 0); err != nil {
				return enqueued, fmt.Errorf("enqueue ingest job: %w", err)
			}
			enqueued++
		}

		if page.DeltaLink != "" {
			if token := extractDeltaToken(page.DeltaLink); token != "" && tokenSub != nil {
				if err := s.subscriptions.UpdateSubscriptionDeltaToken(ctx, tokenSub.ID, token); err != nil {
					return enqueued, fmt.Errorf("persist delta token: %w", err)
				}
			}
			break
		}
		next = page.NextLink
	}

	s.logger.Info("delta sync complete",
		"mailbox_id", mailbox.ID,
		"address", mailbox.Address,
		"enqueued", enqueued)
	return enqueued, nil
}

// SyncAll runs SyncMailbox over every enabled mailbox, continuing past
// per-mailbox failures. Returns the total messages enqueued and the count of
// mailboxes that failed.
func (s *Service) SyncAll(ctx context.Context) (int, int) {
	mailboxes, err := s.mailboxes.ListEnabledMailboxes(ctx)
	if err != nil {
		s.logger.Error("delta sync: list mailboxes", "error", err)
		return 0, 0
	}

	total, failed := 0, 0
	for _, m := range mailboxes {
		n, err := s.SyncMailbox(ctx, m.ID)
		total += n
		if err != nil {
			failed++
			s.logger.Error("delta sync failed", "mailbox_id", m.ID, "error", err)
		}
	}
	return total, failed
}

func extractDeltaToken(deltaLink string) string {
	u, err := url.Parse(deltaLink)
	if err != nil {
		return ""
	}
	return u.Query().Get("$deltatoken")
}
