package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudsolutiongmbh/contactio/internal/graph"
	"github.com/cloudsolutiongmbh/contactio/internal/models"
	"github.com/cloudsolutiongmbh/contactio/internal/store"
)

// Job outcomes recorded on done jobs.
const (
	OutcomeQueued    = "queued"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeDropped   = "dropped"
)

// MessageFetcher is the slice of the Graph client the worker needs for the
// fallback metadata fetch.
type MessageFetcher interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

type WorkerOptions struct {
	PollInterval   time.Duration
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// Worker claims enqueued notification jobs and drives them through metadata
// extraction and IngestIfNew. Several workers may run concurrently; job
// claiming is serialized by the store.
type Worker struct {
	jobs           store.IngestJobStore
	ingest         *Service
	fetcher        MessageFetcher
	pollInterval   time.Duration
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration
}

func NewWorker(jobs store.IngestJobStore, ingest *Service, fetcher MessageFetcher, opts WorkerOptions) *Worker {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 5 * time.Second
	}
	maxRetry := opts.MaxRetryDelay
	if maxRetry <= 0 {
		maxRetry = 10 * time.Minute
	}

	return &Worker{
		jobs:           jobs,
		ingest:         ingest,
		fetcher:        fetcher,
		pollInterval:   poll,
		retryBaseDelay: retryBase,
		maxRetryDelay:  maxRetry,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := w.processOne(ctx)
		if err != nil {
			slog.Error("ingest worker cycle failed", "error", err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) processOne(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextIngestJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claim ingest job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		if markErr := w.jobs.MarkIngestJobFailed(ctx, job.ID, "invalid payload: "+err.Error()); markErr != nil {
			return true, fmt.Errorf("mark failed after invalid payload: %w", markErr)
		}
		return true, nil
	}
	if !payload.IsUsable() {
		if markErr := w.jobs.MarkIngestJobFailed(ctx, job.ID, "payload has neither metadata nor a resource"); markErr != nil {
			return true, fmt.Errorf("mark failed after unusable payload: %w", markErr)
		}
		return true, nil
	}

	meta := payload.Meta
	if len(meta) == 0 {
		fetched, fetchErr := w.fetchMeta(ctx, payload.Resource)
		if fetchErr != nil {
			return true, w.handleFetchError(ctx, job, fetchErr)
		}
		meta = fetched
	}

	parsed, err := ParseMessageMeta(meta)
	if err != nil {
		// Required fields missing or unparseable: drop, do not coerce.
		if markErr := w.jobs.MarkIngestJobDone(ctx, job.ID, OutcomeDropped); markErr != nil {
			return true, fmt.Errorf("mark dropped: %w", markErr)
		}
		return true, nil
	}

	result, ingestErr := w.ingest.IngestIfNew(ctx, models.MessageCreateParams{
		TenantID:          payload.TenantID,
		MailboxID:         payload.MailboxID,
		InternetMessageID: parsed.InternetMessageID,
		ConversationID:    parsed.ConversationID,
		ReceivedAt:        parsed.ReceivedAt,
		From:              parsed.From,
		To:                parsed.To,
		Cc:                parsed.Cc,
	})
	if ingestErr != nil {
		return true, w.retryOrFail(ctx, job, ingestErr)
	}

	if err := w.jobs.MarkIngestJobDone(ctx, job.ID, outcome(result)); err != nil {
		return true, fmt.Errorf("mark ingest job done: %w", err)
	}
	return true, nil
}

func (w *Worker) fetchMeta(ctx context.Context, resource string) (json.RawMessage, error) {
	if w.fetcher == nil {
		return nil, errPermanent{errors.New("no graph client configured for fallback fetch")}
	}
	userID, messageID, err := ParseMessageResource(resource)
	if err != nil {
		return nil, errPermanent{err}
	}
	raw, err := w.fetcher.Get(ctx, MessageFetchPath(userID, messageID))
	if err != nil {
		var upstream *graph.UpstreamError
		if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
			// Message deleted before we got to it.
			return nil, errPermanent{err}
		}
		return nil, err
	}
	return raw, nil
}

func (w *Worker) handleFetchError(ctx context.Context, job *models.IngestJob, err error) error {
	var permanent errPermanent
	if errors.As(err, &permanent) {
		if markErr := w.jobs.MarkIngestJobDone(ctx, job.ID, OutcomeDropped); markErr != nil {
			return fmt.Errorf("mark dropped after permanent fetch error: %w", markErr)
		}
		return nil
	}
	return w.retryOrFail(ctx, job, err)
}

func (w *Worker) retryOrFail(ctx context.Context, job *models.IngestJob, cause error) error {
	if job.Attempts >= job.MaxAttempts {
		if err := w.jobs.MarkIngestJobFailed(ctx, job.ID, cause.Error()); err != nil {
			return fmt.Errorf("mark ingest job failed: %w", err)
		}
		return nil
	}
	nextRun := time.Now().UTC().Add(w.retryDelay(job.Attempts))
	if err := w.jobs.MarkIngestJobRetry(ctx, job.ID, nextRun, cause.Error()); err != nil {
		return fmt.Errorf("mark ingest job retry: %w", err)
	}
	return nil
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxRetryDelay {
			return w.maxRetryDelay
		}
	}
	if delay > w.maxRetryDelay {
		return w.maxRetryDelay
	}
	return delay
}

func outcome(r Result) string {
	switch {
	case r.Queued:
		return OutcomeQueued
	case r.Duplicate:
		return OutcomeDuplicate
	case r.Older:
		return OutcomeStale
	default:
		return OutcomeDropped
	}
}

type errPermanent struct {
	error
}

func (e errPermanent) Unwrap() error { return e.error }
