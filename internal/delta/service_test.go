package delta

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cloudsolutiongmbh/contactio/internal/ingest"
	"github.com/cloudsolutiongmbh/contactio/internal/models"
)

type mockMailboxStore struct {
	byID map[int64]*models.Mailbox
}

func (m *mockMailboxStore) UpsertMailbox(_ context.Context, _, _, _, _ string) (*models.Mailbox, error) {
	return nil, errors.New("not implemented")
}

func (m *mockMailboxStore) GetMailboxByID(_ context.Context, id int64) (*models.Mailbox, error) {
	if mb, ok := m.byID[id]; ok {
		return mb, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMailboxStore) GetMailboxByUserID(_ context.Context, _ string) (*models.Mailbox, error) {
	return nil, sql.ErrNoRows
}

func (m *mockMailboxStore) ListMailboxesByTenant(_ context.Context, _ string) ([]models.Mailbox, error) {
	return nil, nil
}

func (m *mockMailboxStore) ListEnabledMailboxes(_ context.Context) ([]models.Mailbox, error) {
	var out []models.Mailbox
	for _, mb := range m.byID {
		if mb.Enabled {
			out = append(out, *mb)
		}
	}
	return out, nil
}

func (m *mockMailboxStore) SetMailboxEnabled(_ context.Context, _ int64, _ bool) error {
	return errors.New("not implemented")
}

type mockSubscriptionStore struct {
	subs   map[int64]*models.Subscription
	tokens map[int64]string
}

func newMockSubscriptionStore() *mockSubscriptionStore {
	return &mockSubscriptionStore{
		subs:   make(map[int64]*models.Subscription),
		tokens: make(map[int64]string),
	}
}

func (m *mockSubscriptionStore) InsertSubscription(_ context.Context, _ string, _ int64, _, _ string, _ time.Time) (*models.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (m *mockSubscriptionStore) GetSubscriptionBySubscriptionID(_ context.Context, _ string) (*models.Subscription, error) {
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionStore) ListSubscriptionsByMailbox(_ context.Context, mailboxID int64) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range m.subs {
		if sub.MailboxID == mailboxID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *mockSubscriptionStore) ListSubscriptionsByTenant(_ context.Context, _ string) ([]models.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionStore) ListAllSubscriptions(_ context.Context) ([]models.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionStore) UpdateSubscriptionExpiry(_ context.Context, _ int64, _ time.Time) error {
	return errors.New("not implemented")
}

func (m *mockSubscriptionStore) UpdateSubscriptionDeltaToken(_ context.Context, id int64, deltaToken string) error {
	m.tokens[id] = deltaToken
	if sub, ok := m.subs[id]; ok {
		sub.DeltaToken = deltaToken
	}
	return nil
}

func (m *mockSubscriptionStore) DeleteSubscription(_ context.Context, _ int64) error {
	return errors.New("not implemented")
}

type mockJobStore struct {
	payloads [][]byte
	err      error
}

func (m *mockJobStore) EnqueueIngestJob(_ context.Context, payload []byte, _ int) (*models.IngestJob, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.payloads = append(m.payloads, payload)
	return &models.IngestJob{ID: int64(len(m.payloads))}, nil
}

func (m *mockJobStore) ClaimNextIngestJob(_ context.Context) (*models.IngestJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkIngestJobDone(_ context.Context, _ int64, _ string) error {
	return nil
}

func (m *mockJobStore) MarkIngestJobRetry(_ context.Context, _ int64, _ time.Time, _ string) error {
	return nil
}

func (m *mockJobStore) MarkIngestJobFailed(_ context.Context, _ int64, _ string) error {
	return nil
}

// pagedGraph serves a scripted sequence of delta pages keyed by request
// order, recording the paths it was asked for.
type pagedGraph struct {
	pages []string
	errAt int // 1-based request index that fails, 0 for never
	paths []string
}

func (g *pagedGraph) Get(_ context.Context, path string) (json.RawMessage, error) {
	g.paths = append(g.paths, path)
	n := len(g.paths)
	if g.errAt != 0 && n == g.errAt {
		return nil, errors.New("upstream unavailable")
	}
	if n > len(g.pages) {
		return nil, errors.New("unexpected extra request")
	}
	return json.RawMessage(g.pages[n-1]), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testFixtures() (*mockMailboxStore, *mockSubscriptionStore) {
	mailboxes := &mockMailboxStore{byID: map[int64]*models.Mailbox{
		1: {ID: 1, TenantID: "tenant-a", UserID: "user-1", Address: "alice@corp.test", Enabled: true},
	}}
	subs := newMockSubscriptionStore()
	subs.subs[10] = &models.Subscription{ID: 10, TenantID: "tenant-a", MailboxID: 1, SubscriptionID: "sub-1"}
	return mailboxes, subs
}

func messageJSON(id string) string {
	return `{"id": "` + id + `", "internetMessageId": "<` + id + `@x.test>", "conversationId": "c1", "receivedDateTime": "2026-08-12T09:30:00Z"}`
}

func TestSyncMailbox_PagesAndPersistsToken(t *testing.T) {
	mailboxes, subs := testFixtures()
	jobs := &mockJobStore{}
	g := &pagedGraph{pages: []string{
		`{"value": [` + messageJSON("m1") + `,` + messageJSON("m2") + `], "@odata.nextLink": "https://graph.microsoft.com/v1.0/next-page"}`,
		`{"value": [` + messageJSON("m3") + `], "@odata.deltaLink": "https://graph.microsoft.com/v1.0/users/user-1/messages/delta?$deltatoken=tok-123"}`,
	}}
	svc := NewService(mailboxes, subs, jobs, g, discardLogger())

	enqueued, err := svc.SyncMailbox(context.Background(), 1)
	if err != nil {
		t.Fatalf("SyncMailbox error: %v", err)
	}
	if enqueued != 3 {
		t.Fatalf("expected 3 enqueued, got %d", enqueued)
	}
	if len(jobs.payloads) != 3 {
		t.Fatalf("expected 3 job payloads, got %d", len(jobs.payloads))
	}

	var payload ingest.JobPayload
	if err := json.Unmarshal(jobs.payloads[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TenantID != "tenant-a" || payload.MailboxID != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if len(payload.Meta) == 0 {
		t.Errorf("delta entries must carry metadata inline")
	}

	if got := subs.tokens[10]; got != "tok-123" {
		t.Errorf("delta token not persisted, got %q", got)
	}
	if !strings.HasPrefix(g.paths[1], "https://graph.microsoft.com/v1.0/next-page") {
		t.Errorf("nextLink must be followed verbatim, got %q", g.paths[1])
	}
}

func TestSyncMailbox_ResumesFromStoredToken(t *testing.T) {
	mailboxes, subs := testFixtures()
	subs.subs[10].DeltaToken = "tok-old"
	jobs := &mockJobStore{}
	g := &pagedGraph{pages: []string{
		`{"value": [], "@odata.deltaLink": "https://graph.microsoft.com/v1.0/delta?$deltatoken=tok-new"}`,
	}}
	svc := NewService(mailboxes, subs, jobs, g, discardLogger())

	if _, err := svc.SyncMailbox(context.Background(), 1); err != nil {
		t.Fatalf("SyncMailbox error: %v", err)
	}
	if !strings.Contains(g.paths[0], "%24deltatoken=tok-old") && !strings.Contains(g.paths[0], "$deltatoken=tok-old") {
		t.Errorf("stored token not used: %q", g.paths[0])
	}
	if got := subs.tokens[10]; got != "tok-new" {
		t.Errorf("fresh token not persisted, got %q", got)
	}
}

func TestSyncMailbox_MidStreamFailureKeepsOldToken(t *testing.T) {
	mailboxes, subs := testFixtures()
	subs.subs[10].DeltaToken = "tok-old"
	jobs := &mockJobStore{}
	g := &pagedGraph{
		pages: []string{
			`{"value": [` + messageJSON("m1") + `], "@odata.nextLink": "https://graph.microsoft.com/v1.0/next-page"}`,
		},
		errAt: 2,
	}
	svc := NewService(mailboxes, subs, jobs, g, discardLogger())

	enqueued, err := svc.SyncMailbox(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected error from failed page fetch")
	}
	if enqueued != 1 {
		t.Errorf("first page messages still enqueued, got %d", enqueued)
	}
	if _, touched := subs.tokens[10]; touched {
		t.Errorf("token must not change on a failed run")
	}
}

func TestSyncMailbox_SkipsRemovedEntries(t *testing.T) {
	mailboxes, subs := testFixtures()
	jobs := &mockJobStore{}
	g := &pagedGraph{pages: []string{
		`{"value": [
			{"id": "gone", "@removed": {"reason": "deleted"}},
			` + messageJSON("m1") + `
		], "@odata.deltaLink": "https://graph.microsoft.com/v1.0/delta?$deltatoken=tok"}`,
	}}
	svc := NewService(mailboxes, subs, jobs, g, discardLogger())

	enqueued, err := svc.SyncMailbox(context.Background(), 1)
	if err != nil {
		t.Fatalf("SyncMailbox error: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("removed entries must be skipped, got %d", enqueued)
	}
}

func TestSyncMailbox_NoSubscriptionsStillSyncs(t *testing.T) {
	mailboxes, _ := testFixtures()
	subs := newMockSubscriptionStore()
	jobs := &mockJobStore{}
	g := &pagedGraph{pages: []string{
		`{"value": [` + messageJSON("m1") + `], "@odata.deltaLink": "https://graph.microsoft.com/v1.0/delta?$deltatoken=tok"}`,
	}}
	svc := NewService(mailboxes, subs, jobs, g, discardLogger())

	enqueued, err := svc.SyncMailbox(context.Background(), 1)
	if err != nil {
		t.Fatalf("SyncMailbox error: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("expected 1 enqueued, got %d", enqueued)
	}
	if len(subs.tokens) != 0 {
		t.Errorf("no subscription row to persist a token on")
	}
}
