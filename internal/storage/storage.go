package storage

import (
	"context"
	"errors"
	"time"

	"github.com/devpulse/devpulse/internal/model"
)

// ErrNotFound is returned by Get* lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the team-scoped persistence boundary. Every method that touches an
// entity takes the owning team, directly or through the entity's TeamID, and
// every upsert is keyed by the entity's natural key.
type Store interface {
	// Tracked repositories.
	GetTrackedRepository(ctx context.Context, teamID uint, fullName string) (*model.TrackedRepository, error)
	SaveTrackedRepository(ctx context.Context, repo *model.TrackedRepository) error
	ListTrackedRepositories(ctx context.Context) ([]model.TrackedRepository, error)

	// Members. FindMemberByLogin returns (nil, nil) when the login does not
	// map to a team member: absence is expected and never creates a row.
	FindMemberByLogin(ctx context.Context, teamID uint, login string) (*model.Member, error)
	ListActiveMembers(ctx context.Context, teamID uint) ([]model.Member, error)

	// Natural-key upserts. The entity's ID is populated after the call.
	UpsertPullRequest(ctx context.Context, pr *model.PullRequest) error
	UpsertReview(ctx context.Context, review *model.PRReview) error
	UpsertCommit(ctx context.Context, commit *model.Commit) error
	UpsertFile(ctx context.Context, file *model.PRFile) error
	UpsertCheckRun(ctx context.Context, checkRun *model.PRCheckRun) error
	UpsertComment(ctx context.Context, comment *model.PRComment) error
	UpsertDeployment(ctx context.Context, deployment *model.Deployment) error

	GetPullRequest(ctx context.Context, teamID uint, externalID int64, repoFullName string) (*model.PullRequest, error)
	CountPullRequests(ctx context.Context, teamID uint, externalID int64, repoFullName string) (int64, error)
	SavePullRequest(ctx context.Context, pr *model.PullRequest) error

	// Reads backing the per-PR iteration metrics calculator.
	ListReviewsForPR(ctx context.Context, teamID, prID uint) ([]model.PRReview, error)
	ListCommitsForPR(ctx context.Context, teamID, prID uint) ([]model.Commit, error)
	CountCommentsForPR(ctx context.Context, teamID, prID uint) (int64, error)

	// Reads backing the weekly aggregation service. ListMemberPullRequests
	// filters by opened_at, ListMemberMergedPullRequests by merged_at; both
	// bounds are half-open [from, to).
	ListMemberPullRequests(ctx context.Context, teamID, memberID uint, from, to time.Time) ([]model.PullRequest, error)
	ListMemberMergedPullRequests(ctx context.Context, teamID, memberID uint, from, to time.Time) ([]model.PullRequest, error)
	ListMemberCommits(ctx context.Context, teamID, memberID uint, from, to time.Time) ([]model.Commit, error)
	GetSurveyForPR(ctx context.Context, teamID, prID uint) (*model.PRSurvey, error)
	ListSurveyReviews(ctx context.Context, teamID, surveyID uint) ([]model.PRSurveyReview, error)
	UpsertWeeklyMetrics(ctx context.Context, metrics *model.WeeklyMetrics) error
	ListWeeklyMetrics(ctx context.Context, teamID uint, weekStart time.Time) ([]model.WeeklyMetrics, error)

	// Reviewer correlation. ListScoringReviews returns only approved and
	// changes_requested reviews, ordered by submitted_at then external id so
	// last-state-wins resolution is deterministic.
	ListScoringReviews(ctx context.Context, teamID uint) ([]model.PRReview, error)
	ReplaceReviewerCorrelations(ctx context.Context, teamID uint, rows []model.ReviewerCorrelation) error
	ListReviewerCorrelations(ctx context.Context, teamID uint) ([]model.ReviewerCorrelation, error)

	// Surveys.
	CreateSurvey(ctx context.Context, survey *model.PRSurvey) error
	GetSurveyByTokenID(ctx context.Context, tokenID string) (*model.PRSurvey, error)
	SaveSurvey(ctx context.Context, survey *model.PRSurvey) error
	UpsertSurveyReview(ctx context.Context, review *model.PRSurveyReview) error

	// Copilot seat captures.
	UpsertCopilotSeatSnapshot(ctx context.Context, snapshot *model.CopilotSeatSnapshot) error
}
