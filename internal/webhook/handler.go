// Package webhook receives GitHub event deliveries and applies them as
// targeted upserts, so entity state converges between full syncs.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/githubapi"
	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
	ghsync "github.com/devpulse/devpulse/internal/sync"
	"github.com/devpulse/devpulse/internal/telemetry"
)

const maxPayloadBytes = 1 << 20

// Handler validates, dedups, and dispatches GitHub webhook deliveries.
// Signature validation uses the tracked repository's own secret, so the
// repository is resolved from the (still unverified) payload first and the
// HMAC check runs before anything else is trusted.
type Handler struct {
	Store      storage.Store
	Calculator ghsync.MetricsCalculator
	Surveys    ghsync.SurveyOpener
	Deduper    Deduper
	Logger     *zap.Logger
}

// Routes mounts the receiver endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/github", h.handleDelivery)
	return r
}

// repositoryEnvelope is the minimal unverified peek used to pick the secret.
type repositoryEnvelope struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event := github.WebHookType(r)
	deliveryID := github.DeliveryID(r)
	logger := h.logger().With(
		zap.String("delivery_id", deliveryID),
		zap.String("event", event),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.finish(w, logger, http.StatusBadRequest, "read_error")
		return
	}

	var envelope repositoryEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Repository.FullName == "" {
		h.finish(w, logger, http.StatusBadRequest, "malformed")
		return
	}
	logger = logger.With(zap.String("repo", envelope.Repository.FullName))

	repo, err := h.findRepository(ctx, envelope.Repository.FullName)
	if err != nil {
		logger.Error("repository lookup failed", zap.Error(err))
		h.finish(w, logger, http.StatusInternalServerError, "error")
		return
	}
	if repo == nil {
		h.finish(w, logger, http.StatusNotFound, "unknown_repo")
		return
	}

	signature := r.Header.Get(github.SHA256SignatureHeader)
	if err := github.ValidateSignature(signature, body, []byte(repo.WebhookSecret)); err != nil {
		h.finish(w, logger, http.StatusUnauthorized, "bad_signature")
		return
	}

	first, err := h.Deduper.FirstDelivery(ctx, deliveryID)
	if err != nil {
		logger.Error("delivery dedup failed", zap.Error(err))
		h.finish(w, logger, http.StatusInternalServerError, "error")
		return
	}
	if !first {
		h.finish(w, logger, http.StatusOK, "duplicate")
		return
	}

	outcome, err := h.dispatch(ctx, repo, event, body)
	if err != nil {
		logger.Error("webhook handling failed", zap.Error(err))
		// A failed dispatch must not consume the delivery id, or GitHub's
		// redelivery would be dropped as a duplicate.
		if forgetErr := h.Deduper.Forget(ctx, deliveryID); forgetErr != nil {
			logger.Error("delivery unmark failed", zap.Error(forgetErr))
		}
		h.finish(w, logger, http.StatusInternalServerError, "error")
		return
	}
	status := http.StatusAccepted
	if outcome != "accepted" {
		status = http.StatusOK
	}
	h.finish(w, logger, status, outcome)
}

func (h *Handler) finish(w http.ResponseWriter, logger *zap.Logger, status int, outcome string) {
	telemetry.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	logger.Info("webhook delivery", zap.Int("status", status), zap.String("outcome", outcome))
	w.WriteHeader(status)
}

// findRepository resolves a payload repository to a tracked one. The tracked
// set is small per deployment, so a scan beats a dedicated index.
func (h *Handler) findRepository(ctx context.Context, fullName string) (*model.TrackedRepository, error) {
	repos, err := h.Store.ListTrackedRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for i := range repos {
		if repos[i].FullName == fullName {
			return &repos[i], nil
		}
	}
	return nil, nil
}

func (h *Handler) dispatch(ctx context.Context, repo *model.TrackedRepository, event string, body []byte) (string, error) {
	switch event {
	case "ping":
		return "ping", nil
	case "pull_request":
		return h.handlePullRequest(ctx, repo, body)
	case "pull_request_review":
		return h.handleReview(ctx, repo, body)
	case "pull_request_review_comment":
		return h.handleReviewComment(ctx, repo, body)
	default:
		return "ignored", nil
	}
}

func (h *Handler) handlePullRequest(ctx context.Context, repo *model.TrackedRepository, body []byte) (string, error) {
	var payload struct {
		Action      string                      `json:"action"`
		PullRequest githubapi.PullRequestRecord `json:"pull_request"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode pull_request payload: %w", err)
	}

	pr := ghsync.MapPullRequest(repo.TeamID, repo.FullName, payload.PullRequest)
	pr.AuthorID = h.resolveMember(ctx, repo.TeamID, payload.PullRequest.User)
	if err := h.Store.UpsertPullRequest(ctx, &pr); err != nil {
		return "", fmt.Errorf("upsert PR #%d: %w", payload.PullRequest.Number, err)
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("pull_request").Inc()
	if err := h.Calculator.Recompute(ctx, &pr); err != nil {
		return "", fmt.Errorf("recompute PR #%d: %w", payload.PullRequest.Number, err)
	}
	if h.Surveys != nil && pr.State == model.PRStateMerged {
		if _, _, err := h.Surveys.CreateForPR(ctx, pr.TeamID, pr.ID); err != nil {
			return "", fmt.Errorf("open survey for PR #%d: %w", payload.PullRequest.Number, err)
		}
	}
	return "accepted", nil
}

func (h *Handler) handleReview(ctx context.Context, repo *model.TrackedRepository, body []byte) (string, error) {
	var payload struct {
		Action      string                      `json:"action"`
		Review      githubapi.ReviewRecord      `json:"review"`
		PullRequest githubapi.PullRequestRecord `json:"pull_request"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode pull_request_review payload: %w", err)
	}

	pr, err := h.Store.GetPullRequest(ctx, repo.TeamID, payload.PullRequest.ID, repo.FullName)
	if errors.Is(err, storage.ErrNotFound) {
		// The PR has not been synced yet. The next sync pass picks up both.
		return "ignored", nil
	}
	if err != nil {
		return "", fmt.Errorf("load PR #%d: %w", payload.PullRequest.Number, err)
	}

	review := ghsync.MapReview(repo.TeamID, pr.ID, payload.Review)
	review.ReviewerID = h.resolveMember(ctx, repo.TeamID, payload.Review.User)
	if err := h.Store.UpsertReview(ctx, &review); err != nil {
		return "", fmt.Errorf("upsert review %d: %w", payload.Review.ID, err)
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("review").Inc()
	if err := h.Calculator.Recompute(ctx, pr); err != nil {
		return "", fmt.Errorf("recompute PR #%d: %w", payload.PullRequest.Number, err)
	}
	return "accepted", nil
}

func (h *Handler) handleReviewComment(ctx context.Context, repo *model.TrackedRepository, body []byte) (string, error) {
	var payload struct {
		Action      string                      `json:"action"`
		Comment     githubapi.CommentRecord     `json:"comment"`
		PullRequest githubapi.PullRequestRecord `json:"pull_request"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode pull_request_review_comment payload: %w", err)
	}

	pr, err := h.Store.GetPullRequest(ctx, repo.TeamID, payload.PullRequest.ID, repo.FullName)
	if errors.Is(err, storage.ErrNotFound) {
		return "ignored", nil
	}
	if err != nil {
		return "", fmt.Errorf("load PR #%d: %w", payload.PullRequest.Number, err)
	}

	comment := ghsync.MapComment(repo.TeamID, pr.ID, model.CommentKindReview, payload.Comment)
	comment.AuthorID = h.resolveMember(ctx, repo.TeamID, payload.Comment.User)
	if err := h.Store.UpsertComment(ctx, &comment); err != nil {
		return "", fmt.Errorf("upsert comment %d: %w", payload.Comment.ID, err)
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("comment").Inc()
	if err := h.Calculator.Recompute(ctx, pr); err != nil {
		return "", fmt.Errorf("recompute PR #%d: %w", payload.PullRequest.Number, err)
	}
	return "accepted", nil
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

// resolveMember maps a payload actor to a team member id, nil when the login
// is not a member.
func (h *Handler) resolveMember(ctx context.Context, teamID uint, actor *githubapi.ActorRecord) *uint {
	if actor == nil {
		return nil
	}
	member, err := h.Store.FindMemberByLogin(ctx, teamID, actor.Login)
	if err != nil || member == nil {
		return nil
	}
	return &member.ID
}
