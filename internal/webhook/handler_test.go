package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
	"github.com/devpulse/devpulse/internal/survey"
	ghsync "github.com/devpulse/devpulse/internal/sync"
)

const testSecret = "hook-secret"

type handlerFixture struct {
	store   *storage.MemoryStore
	handler *Handler
	team    model.Team
	repo    model.TrackedRepository
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	team := store.AddTeam(model.Team{Name: "platform"})
	store.AddMember(model.Member{TeamID: team.ID, Login: "sam", Active: true})
	repo := store.AddTrackedRepository(model.TrackedRepository{
		TeamID:        team.ID,
		FullName:      "acme/widgets",
		WebhookSecret: testSecret,
	})

	handler := &Handler{
		Store:      store,
		Calculator: ghsync.MetricsCalculator{Store: store},
		Surveys: &survey.Service{
			Store:  store,
			Issuer: survey.TokenIssuer{Secret: []byte("survey-secret"), TTL: 72 * time.Hour},
		},
		Deduper: &MemoryDeduper{TTL: time.Hour},
	}
	return &handlerFixture{store: store, handler: handler, team: team, repo: repo}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, h *Handler, event, deliveryID, signature string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	req.Header.Set("X-Hub-Signature-256", signature)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func pullRequestBody(prID int64, number int, login string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": "opened",
		"repository": {"full_name": "acme/widgets"},
		"pull_request": {
			"id": %d,
			"number": %d,
			"title": "Add pagination",
			"state": "open",
			"user": {"login": %q},
			"created_at": "2026-01-05T10:00:00Z",
			"updated_at": "2026-01-05T10:00:00Z",
			"additions": 120,
			"deletions": 30,
			"head": {"sha": "abc123"}
		}
	}`, prID, number, login))
}

func TestPullRequestDelivery(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)
	ctx := context.Background()

	body := pullRequestBody(100, 12, "sam")
	rec := deliver(t, fx.handler, "pull_request", uuid.NewString(), sign(testSecret, body), body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	pr, err := fx.store.GetPullRequest(ctx, fx.team.ID, 100, "acme/widgets")
	if err != nil {
		t.Fatalf("GetPullRequest: %v", err)
	}
	if pr.Number != 12 || pr.State != model.PRStateOpen {
		t.Fatalf("pr = %+v", pr)
	}
	if pr.AuthorID == nil {
		t.Fatal("expected author mapped to a member")
	}
}

func TestMergedPullRequestOpensSurvey(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)
	ctx := context.Background()

	body := []byte(`{
		"action": "closed",
		"repository": {"full_name": "acme/widgets"},
		"pull_request": {
			"id": 100,
			"number": 12,
			"title": "Add pagination",
			"state": "closed",
			"user": {"login": "sam"},
			"created_at": "2026-01-05T10:00:00Z",
			"updated_at": "2026-01-07T10:00:00Z",
			"merged_at": "2026-01-07T10:00:00Z"
		}
	}`)
	rec := deliver(t, fx.handler, "pull_request", uuid.NewString(), sign(testSecret, body), body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	pr, err := fx.store.GetPullRequest(ctx, fx.team.ID, 100, "acme/widgets")
	if err != nil {
		t.Fatalf("GetPullRequest: %v", err)
	}
	if pr.State != model.PRStateMerged {
		t.Fatalf("state = %q, want merged", pr.State)
	}
	surveyRow, err := fx.store.GetSurveyForPR(ctx, fx.team.ID, pr.ID)
	if err != nil {
		t.Fatalf("GetSurveyForPR: %v", err)
	}
	if surveyRow.TokenID == "" {
		t.Fatal("expected the survey to carry a token id")
	}
}

func TestOpenPullRequestHasNoSurvey(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)
	ctx := context.Background()

	body := pullRequestBody(100, 12, "sam")
	deliver(t, fx.handler, "pull_request", uuid.NewString(), sign(testSecret, body), body)

	pr, err := fx.store.GetPullRequest(ctx, fx.team.ID, 100, "acme/widgets")
	if err != nil {
		t.Fatalf("GetPullRequest: %v", err)
	}
	if _, err := fx.store.GetSurveyForPR(ctx, fx.team.ID, pr.ID); err == nil {
		t.Fatal("expected no survey for a PR that is still open")
	}
}

func TestBadSignatureRejected(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)
	ctx := context.Background()

	body := pullRequestBody(100, 12, "sam")
	rec := deliver(t, fx.handler, "pull_request", uuid.NewString(), sign("wrong-secret", body), body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if _, err := fx.store.GetPullRequest(ctx, fx.team.ID, 100, "acme/widgets"); err == nil {
		t.Fatal("expected no PR written for a rejected delivery")
	}
}

func TestUnknownRepository(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)

	body := []byte(`{"repository": {"full_name": "acme/unknown"}}`)
	rec := deliver(t, fx.handler, "pull_request", uuid.NewString(), sign(testSecret, body), body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestDuplicateDeliverySkipped(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)
	ctx := context.Background()

	deliveryID := uuid.NewString()
	body := pullRequestBody(100, 12, "sam")
	sig := sign(testSecret, body)

	if rec := deliver(t, fx.handler, "pull_request", deliveryID, sig, body); rec.Code != http.StatusAccepted {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	if rec := deliver(t, fx.handler, "pull_request", deliveryID, sig, body); rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want %d", rec.Code, http.StatusOK)
	}

	count, err := fx.store.CountPullRequests(ctx, fx.team.ID, 100, "acme/widgets")
	if err != nil {
		t.Fatalf("CountPullRequests: %v", err)
	}
	if count != 1 {
		t.Fatalf("pr count = %d, want 1", count)
	}
}

func TestFailedDeliveryIsReplayable(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)
	ctx := context.Background()

	deliveryID := uuid.NewString()
	badBody := []byte(`{"repository": {"full_name": "acme/widgets"}, "pull_request": 42}`)
	rec := deliver(t, fx.handler, "pull_request", deliveryID, sign(testSecret, badBody), badBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failing delivery status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	// GitHub redelivers with the same delivery id. The failed attempt must
	// not have consumed it.
	goodBody := pullRequestBody(100, 12, "sam")
	rec = deliver(t, fx.handler, "pull_request", deliveryID, sign(testSecret, goodBody), goodBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("redelivery status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if _, err := fx.store.GetPullRequest(ctx, fx.team.ID, 100, "acme/widgets"); err != nil {
		t.Fatalf("GetPullRequest after redelivery: %v", err)
	}
}

func TestReviewDelivery(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)
	ctx := context.Background()

	prBody := pullRequestBody(100, 12, "sam")
	deliver(t, fx.handler, "pull_request", uuid.NewString(), sign(testSecret, prBody), prBody)

	reviewBody := []byte(`{
		"action": "submitted",
		"repository": {"full_name": "acme/widgets"},
		"pull_request": {"id": 100, "number": 12},
		"review": {
			"id": 9001,
			"user": {"login": "sam"},
			"state": "APPROVED",
			"body": "lgtm",
			"submitted_at": "2026-01-05T12:00:00Z"
		}
	}`)
	rec := deliver(t, fx.handler, "pull_request_review", uuid.NewString(), sign(testSecret, reviewBody), reviewBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	pr, err := fx.store.GetPullRequest(ctx, fx.team.ID, 100, "acme/widgets")
	if err != nil {
		t.Fatalf("GetPullRequest: %v", err)
	}
	reviews, err := fx.store.ListReviewsForPR(ctx, fx.team.ID, pr.ID)
	if err != nil {
		t.Fatalf("ListReviewsForPR: %v", err)
	}
	if len(reviews) != 1 || reviews[0].State != "approved" {
		t.Fatalf("reviews = %+v", reviews)
	}
}

func TestReviewForUnsyncedPRIgnored(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)

	reviewBody := []byte(`{
		"action": "submitted",
		"repository": {"full_name": "acme/widgets"},
		"pull_request": {"id": 999, "number": 77},
		"review": {"id": 9002, "state": "APPROVED", "submitted_at": "2026-01-05T12:00:00Z"}
	}`)
	rec := deliver(t, fx.handler, "pull_request_review", uuid.NewString(), sign(testSecret, reviewBody), reviewBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestUnhandledEventIgnored(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t)

	body := []byte(`{"repository": {"full_name": "acme/widgets"}}`)
	rec := deliver(t, fx.handler, "workflow_run", uuid.NewString(), sign(testSecret, body), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMemoryDeduperExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deduper := &MemoryDeduper{TTL: time.Minute, Now: func() time.Time { return now }}
	ctx := context.Background()

	first, err := deduper.FirstDelivery(ctx, "d-1")
	if err != nil || !first {
		t.Fatalf("first = %v, err = %v", first, err)
	}
	if again, _ := deduper.FirstDelivery(ctx, "d-1"); again {
		t.Fatal("expected the repeat inside the window to be a duplicate")
	}

	now = now.Add(2 * time.Minute)
	if again, _ := deduper.FirstDelivery(ctx, "d-1"); !again {
		t.Fatal("expected the id to be forgotten after the window")
	}
}
