package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/githubapi"
	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
	"github.com/devpulse/devpulse/internal/telemetry"
)

// Mode selects how a sync pass bounds its pull request query.
type Mode string

const (
	// ModeFull walks history bounded by the configured lookback window.
	ModeFull Mode = "full"
	// ModeIncremental walks changes since the last successful sync. With no
	// watermark it delegates to a full pass.
	ModeIncremental Mode = "incremental"
)

// PullRequestSource produces pull request pagers. Both the REST and GraphQL
// clients satisfy it.
type PullRequestSource interface {
	PullRequests(query githubapi.PullRequestQuery) githubapi.PullRequestPager
}

// SurveyOpener creates the survey row for a merged pull request. Opening is
// idempotent, so re-syncing a merged PR never issues a second survey.
type SurveyOpener interface {
	CreateForPR(ctx context.Context, teamID, prID uint) (*model.PRSurvey, string, error)
}

// Orchestrator drives one sync pass over a tracked repository. A pass is
// strictly sequential: PRs in source order, child entities in a fixed order
// per PR, the rate limit guard evaluated only between PRs.
type Orchestrator struct {
	Store      storage.Store
	Source     PullRequestSource
	Processors *Processors
	Calculator MetricsCalculator
	Guard      RateLimitGuard
	Surveys    SurveyOpener
	Logger     *zap.Logger

	// DaysBack bounds full-history passes.
	DaysBack int
	// Now is injected for testability.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Run executes one sync pass and returns the stable result summary. The
// returned error is non-nil only when the pass could not produce anything at
// all; partial passes return a result with their errors listed.
func (o *Orchestrator) Run(ctx context.Context, teamID uint, repoFullName string, mode Mode) (Result, error) {
	result := Result{Errors: []string{}}

	repo, err := o.Store.GetTrackedRepository(ctx, teamID, repoFullName)
	if err != nil {
		return result, fmt.Errorf("load tracked repository: %w", err)
	}

	effectiveMode := mode
	if effectiveMode == ModeIncremental && repo.LastSyncAt == nil {
		effectiveMode = ModeFull
	}

	startedAt := o.now()
	logger := o.logger().With(
		zap.Uint("team_id", teamID),
		zap.String("repo", repoFullName),
		zap.String("mode", string(effectiveMode)),
	)

	repo.SyncStatus = model.SyncStatusSyncing
	repo.SyncError = ""
	repo.SyncPRsCompleted = 0
	repo.SyncPRsTotal = 0
	repo.SyncProgress = 0
	if err := o.Store.SaveTrackedRepository(ctx, repo); err != nil {
		return result, fmt.Errorf("mark repository syncing: %w", err)
	}

	sink := &ErrorSink{}
	runErr := o.runPass(ctx, repo, effectiveMode, startedAt, &result, sink, logger)
	result.Errors = append(result.Errors, sink.Messages()...)

	if runErr != nil && result.PRsSynced == 0 {
		repo.SyncStatus = model.SyncStatusError
		repo.SyncError = runErr.Error()
		if err := o.Store.SaveTrackedRepository(ctx, repo); err != nil {
			logger.Error("persist error status", zap.Error(err))
		}
		telemetry.SyncRunsTotal.WithLabelValues("error").Inc()
		logger.Error("sync pass failed", zap.Error(runErr))
		return result, runErr
	}
	if runErr != nil {
		// Some PRs landed before the failure. What synced is valid, so the
		// pass ends as a partial completion with the failure recorded.
		result.Errors = append(result.Errors, runErr.Error())
	}

	repo.LastSyncAt = &startedAt
	repo.SyncStatus = model.SyncStatusComplete
	repo.SyncProgress = 100
	if err := o.Store.SaveTrackedRepository(ctx, repo); err != nil {
		logger.Error("persist completion", zap.Error(err))
	}

	status := "complete"
	if result.RateLimited {
		status = "rate_limited"
		telemetry.RateLimitPausesTotal.Inc()
	}
	telemetry.SyncRunsTotal.WithLabelValues(status).Inc()
	logger.Info("sync pass finished",
		zap.Int("prs_synced", result.PRsSynced),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("rate_limited", result.RateLimited),
		zap.Duration("elapsed", o.now().Sub(startedAt)),
	)
	return result, nil
}

func (o *Orchestrator) runPass(ctx context.Context, repo *model.TrackedRepository, mode Mode, startedAt time.Time, result *Result, sink *ErrorSink, logger *zap.Logger) error {
	owner, name := SplitFullName(repo.FullName)

	query := githubapi.PullRequestQuery{Owner: owner, Repo: name}
	if mode == ModeIncremental {
		query.UpdatedSince = *repo.LastSyncAt
	} else if o.DaysBack > 0 {
		query.CreatedAfter = startedAt.AddDate(0, 0, -o.DaysBack)
	}

	pager := o.Source.PullRequests(query)
	firstPage := true
	paused := false

	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return fmt.Errorf("fetch pull request page: %w", err)
		}

		if firstPage && page.TotalCount >= 0 {
			repo.SyncPRsTotal = page.TotalCount
		}
		firstPage = false
		if page.RateRemaining >= 0 {
			o.recordQuota(repo, page.RateRemaining)
		}

		for _, record := range page.Records {
			remaining, err := o.syncOnePR(ctx, repo, record, result, sink)
			if remaining >= 0 {
				o.recordQuota(repo, remaining)
			}
			if err != nil {
				if githubapi.IsAuthError(err) {
					return err
				}
				sink.Add("PR #%d: %v", record.Number, err)
				telemetry.SyncItemErrorsTotal.Inc()
				logger.Warn("pull request skipped", zap.Int("number", record.Number), zap.Error(err))
			} else {
				result.PRsSynced++
				repo.SyncPRsCompleted++
			}
			o.updateProgress(repo)
			if err := o.Store.SaveTrackedRepository(ctx, repo); err != nil {
				logger.Error("persist progress", zap.Error(err))
			}

			if o.Guard.ShouldPause(repo.RateLimitRemaining) {
				result.RateLimited = true
				paused = true
				logger.Info("pausing for rate limit", zap.Int("remaining", repo.RateLimitRemaining))
				break
			}
		}

		if paused || !page.HasNext {
			break
		}
	}

	deployed, metadata, err := o.Processors.SyncDeployments(ctx, repo.TeamID, repo.FullName, sink)
	o.recordQuotaFromMetadata(repo, metadata)
	if err != nil {
		return fmt.Errorf("sync deployments: %w", err)
	}
	result.DeploymentsSynced = deployed
	return nil
}

// syncOnePR upserts one pull request and all of its child entities in a
// fixed order, then recomputes the PR's derived metrics. Returns the last
// observed remaining quota, -1 when no sub-fetch reported one.
func (o *Orchestrator) syncOnePR(ctx context.Context, repo *model.TrackedRepository, record githubapi.PullRequestRecord, result *Result, sink *ErrorSink) (int, error) {
	remaining := -1
	owner, name := SplitFullName(repo.FullName)

	pr := MapPullRequest(repo.TeamID, repo.FullName, record)
	pr.AuthorID = o.Processors.resolveMember(ctx, repo.TeamID, record.User, sink)
	if err := o.Store.UpsertPullRequest(ctx, &pr); err != nil {
		return remaining, fmt.Errorf("upsert pull request: %w", err)
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("pull_request").Inc()

	reviews, metadata, err := o.Processors.SyncReviews(ctx, &pr, owner, name, sink)
	remaining = latestRemaining(remaining, metadata)
	if err != nil {
		return remaining, fmt.Errorf("sync reviews: %w", err)
	}
	result.ReviewsSynced += reviews

	commits, metadata, err := o.Processors.SyncCommits(ctx, &pr, owner, name, sink)
	remaining = latestRemaining(remaining, metadata)
	if err != nil {
		return remaining, fmt.Errorf("sync commits: %w", err)
	}
	result.CommitsSynced += commits

	checkRuns, metadata, err := o.Processors.SyncCheckRuns(ctx, &pr, owner, name, sink)
	remaining = latestRemaining(remaining, metadata)
	if err != nil {
		return remaining, fmt.Errorf("sync check runs: %w", err)
	}
	result.CheckRunsSynced += checkRuns

	files, metadata, err := o.Processors.SyncFiles(ctx, &pr, owner, name, sink)
	remaining = latestRemaining(remaining, metadata)
	if err != nil {
		return remaining, fmt.Errorf("sync files: %w", err)
	}
	result.FilesSynced += files

	comments, metadata, err := o.Processors.SyncComments(ctx, &pr, owner, name, sink)
	remaining = latestRemaining(remaining, metadata)
	if err != nil {
		return remaining, fmt.Errorf("sync comments: %w", err)
	}
	result.CommentsSynced += comments

	if err := o.Calculator.Recompute(ctx, &pr); err != nil {
		return remaining, fmt.Errorf("recompute metrics: %w", err)
	}

	// A merged PR gets its survey opened here so the author and reviewers can
	// be prompted. Survey failures do not fail the PR.
	if o.Surveys != nil && pr.State == model.PRStateMerged {
		if _, _, err := o.Surveys.CreateForPR(ctx, pr.TeamID, pr.ID); err != nil {
			sink.Add("open survey for PR #%d: %v", pr.Number, err)
		}
	}
	return remaining, nil
}

func latestRemaining(current int, metadata githubapi.CallMetadata) int {
	headers := metadata.LastRateHeaders
	if headers.ResetUnix == 0 && headers.Remaining == 0 && headers.Used == 0 {
		return current
	}
	return headers.Remaining
}

func (o *Orchestrator) recordQuota(repo *model.TrackedRepository, remaining int) {
	repo.RateLimitRemaining = remaining
}

func (o *Orchestrator) recordQuotaFromMetadata(repo *model.TrackedRepository, metadata githubapi.CallMetadata) {
	headers := metadata.LastRateHeaders
	if headers.ResetUnix == 0 && headers.Remaining == 0 && headers.Used == 0 {
		return
	}
	repo.RateLimitRemaining = headers.Remaining
	if headers.ResetUnix > 0 {
		resetAt := time.Unix(headers.ResetUnix, 0).UTC()
		repo.RateLimitResetAt = &resetAt
	}
}

func (o *Orchestrator) updateProgress(repo *model.TrackedRepository) {
	if repo.SyncPRsTotal <= 0 {
		return
	}
	progress := float64(repo.SyncPRsCompleted) / float64(repo.SyncPRsTotal) * 100
	if progress > 100 {
		progress = 100
	}
	repo.SyncProgress = progress
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}
