package model

import (
	"time"
)

// SyncStatus is the lifecycle state of one tracked repository's sync.
type SyncStatus string

const (
	// SyncStatusPending means no sync has started yet.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSyncing means a sync pass is in flight.
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusComplete means the last sync pass finished, possibly partially.
	SyncStatusComplete SyncStatus = "complete"
	// SyncStatusError means the last sync pass failed before completing.
	SyncStatusError SyncStatus = "error"
)

// PRState is the normalized pull request state.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// Review states are stored lowercased as the external API reports them.
const (
	ReviewStateApproved         = "approved"
	ReviewStateChangesRequested = "changes_requested"
	ReviewStateCommented        = "commented"
)

// CommentKind distinguishes the two external comment subtypes on a PR.
type CommentKind string

const (
	// CommentKindIssue is a conversation-level comment.
	CommentKindIssue CommentKind = "issue"
	// CommentKindReview is an inline review comment.
	CommentKindReview CommentKind = "review"
)

// Team is the multi-tenant isolation boundary. Every entity below carries a
// TeamID and every uniqueness constraint includes it.
type Team struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member is one person on a team. External authors that do not map to a
// member resolve to a null reference, never to an auto-created row.
type Member struct {
	ID          uint   `gorm:"primaryKey"`
	TeamID      uint   `gorm:"uniqueIndex:idx_members_team_login"`
	Login       string `gorm:"uniqueIndex:idx_members_team_login"`
	DisplayName string
	Active      bool `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TrackedRepository identifies one external repository under sync for a team.
// Mutated exclusively by the sync orchestrator after creation.
type TrackedRepository struct {
	ID       uint   `gorm:"primaryKey"`
	TeamID   uint   `gorm:"uniqueIndex:idx_tracked_repos_team_name"`
	FullName string `gorm:"uniqueIndex:idx_tracked_repos_team_name"`

	WebhookSecret string

	// LastSyncAt is the incremental watermark. Nil means never synced, so the
	// next sync does full history.
	LastSyncAt *time.Time

	SyncStatus SyncStatus `gorm:"default:pending"`
	SyncError  string

	RateLimitRemaining int
	RateLimitResetAt   *time.Time

	SyncPRsCompleted int
	SyncPRsTotal     int
	SyncProgress     float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PullRequest is one external pull request, keyed by
// (team, external id, repo full name).
type PullRequest struct {
	ID           uint   `gorm:"primaryKey"`
	TeamID       uint   `gorm:"uniqueIndex:idx_prs_natural"`
	ExternalID   int64  `gorm:"uniqueIndex:idx_prs_natural"`
	RepoFullName string `gorm:"uniqueIndex:idx_prs_natural"`

	Number   int
	Title    string
	Body     string
	State    PRState
	AuthorID *uint `gorm:"index"`
	HeadSHA  string

	Additions int
	Deletions int

	OpenedAt      time.Time
	MergedAt      *time.Time
	FirstReviewAt *time.Time

	// Derived fields below are recomputed wholesale by the iteration metrics
	// calculator, never incrementally patched.
	CycleTimeHours          *float64
	ReviewTimeHours         *float64
	ReviewRounds            int
	CommitsAfterFirstReview int
	TotalComments           int
	AvgFixResponseHours     *float64

	IsAIAssisted    bool
	AIToolsDetected string

	IsRevert bool
	IsHotfix bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PRReview is one review submission, keyed by (team, external review id).
type PRReview struct {
	ID            uint  `gorm:"primaryKey"`
	TeamID        uint  `gorm:"uniqueIndex:idx_reviews_natural"`
	ExternalID    int64 `gorm:"uniqueIndex:idx_reviews_natural"`
	PullRequestID uint  `gorm:"index"`
	ReviewerID    *uint
	State         string
	Body          string
	SubmittedAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Commit is keyed by (team, sha). PullRequestID is nil for standalone commits.
type Commit struct {
	ID            uint   `gorm:"primaryKey"`
	TeamID        uint   `gorm:"uniqueIndex:idx_commits_natural"`
	SHA           string `gorm:"uniqueIndex:idx_commits_natural"`
	PullRequestID *uint  `gorm:"index"`
	AuthorID      *uint
	Message       string
	Additions     int
	Deletions     int
	CommittedAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PRFile is keyed by (team, pull request, filename). Changes is computed as
// additions + deletions, not stored from the wire.
type PRFile struct {
	ID            uint   `gorm:"primaryKey"`
	TeamID        uint   `gorm:"uniqueIndex:idx_pr_files_natural"`
	PullRequestID uint   `gorm:"uniqueIndex:idx_pr_files_natural"`
	Filename      string `gorm:"uniqueIndex:idx_pr_files_natural"`
	Status        string
	Additions     int
	Deletions     int
	Changes       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PRCheckRun is keyed by (team, external id). DurationSeconds is computed
// from the two timestamps and nil when either is missing.
type PRCheckRun struct {
	ID              uint  `gorm:"primaryKey"`
	TeamID          uint  `gorm:"uniqueIndex:idx_check_runs_natural"`
	ExternalID      int64 `gorm:"uniqueIndex:idx_check_runs_natural"`
	PullRequestID   uint  `gorm:"index"`
	Name            string
	Status          string
	Conclusion      string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PRComment is keyed by (team, external id) and covers both comment subtypes.
type PRComment struct {
	ID            uint  `gorm:"primaryKey"`
	TeamID        uint  `gorm:"uniqueIndex:idx_pr_comments_natural"`
	ExternalID    int64 `gorm:"uniqueIndex:idx_pr_comments_natural"`
	PullRequestID uint  `gorm:"index"`
	AuthorID      *uint
	Kind          CommentKind
	Body          string
	PostedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deployment is keyed by (team, external deployment id). Status is the first
// item of the most-recent-first status event list, "pending" when none exist.
type Deployment struct {
	ID           uint  `gorm:"primaryKey"`
	TeamID       uint  `gorm:"uniqueIndex:idx_deployments_natural"`
	ExternalID   int64 `gorm:"uniqueIndex:idx_deployments_natural"`
	RepoFullName string
	Environment  string
	Status       string
	CreatorID    *uint
	SHA          string
	DeployedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WeeklyMetrics is a fully replaceable rollup keyed by
// (team, member, week start). Re-running aggregation overwrites the whole
// field set.
type WeeklyMetrics struct {
	ID        uint      `gorm:"primaryKey"`
	TeamID    uint      `gorm:"uniqueIndex:idx_weekly_metrics_natural"`
	MemberID  uint      `gorm:"uniqueIndex:idx_weekly_metrics_natural"`
	WeekStart time.Time `gorm:"uniqueIndex:idx_weekly_metrics_natural"`

	PRsOpened          int
	PRsMerged          int
	AvgCycleTimeHours  *float64
	AvgReviewTimeHours *float64
	CommitsCount       int
	LinesAdded         int
	LinesRemoved       int
	RevertCount        int
	HotfixCount        int

	AIAssistedPRs    int
	SurveysCompleted int

	AvgQualityRating *float64
	AIGuessAccuracy  *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewerCorrelation holds pairwise reviewer agreement statistics. Pairs are
// canonical: Reviewer1ID < Reviewer2ID. Rows are recomputed wholesale per
// team, delete-then-insert.
type ReviewerCorrelation struct {
	ID          uint `gorm:"primaryKey"`
	TeamID      uint `gorm:"uniqueIndex:idx_reviewer_correlations_natural"`
	Reviewer1ID uint `gorm:"uniqueIndex:idx_reviewer_correlations_natural"`
	Reviewer2ID uint `gorm:"uniqueIndex:idx_reviewer_correlations_natural"`

	PRsReviewedTogether int
	Agreements          int
	Disagreements       int
	AgreementRate       float64
	IsRedundant         bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PRSurvey tracks the author's AI self-disclosure for one PR. TokenID is the
// jti of the signed survey token; the token is single-use.
type PRSurvey struct {
	ID            uint   `gorm:"primaryKey"`
	TeamID        uint   `gorm:"uniqueIndex:idx_pr_surveys_natural"`
	PullRequestID uint   `gorm:"uniqueIndex:idx_pr_surveys_natural"`
	TokenID       string `gorm:"uniqueIndex"`
	TokenExpires  time.Time

	AuthorAIAssisted  *bool
	AuthorAITools     string
	AuthorRespondedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PRSurveyReview is one reviewer's quality rating and AI guess for a survey.
type PRSurveyReview struct {
	ID         uint `gorm:"primaryKey"`
	TeamID     uint `gorm:"uniqueIndex:idx_pr_survey_reviews_natural"`
	SurveyID   uint `gorm:"uniqueIndex:idx_pr_survey_reviews_natural"`
	ReviewerID uint `gorm:"uniqueIndex:idx_pr_survey_reviews_natural"`

	QualityRating *int
	AIGuess       *bool
	GuessCorrect  *bool
	RespondedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CopilotSeatSnapshot is one day's seat utilization capture for a team, with
// derived cost fields computed at write time.
type CopilotSeatSnapshot struct {
	ID         uint      `gorm:"primaryKey"`
	TeamID     uint      `gorm:"uniqueIndex:idx_copilot_snapshots_natural"`
	CapturedOn time.Time `gorm:"uniqueIndex:idx_copilot_snapshots_natural"`

	TotalSeats        int
	ActiveThisCycle   int
	InactiveThisCycle int

	UtilizationRate   float64
	MonthlyCost       float64
	WastedSpend       float64
	CostPerActiveUser float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// All returns every persistent model for schema migration.
func All() []any {
	return []any{
		&Team{},
		&Member{},
		&TrackedRepository{},
		&PullRequest{},
		&PRReview{},
		&Commit{},
		&PRFile{},
		&PRCheckRun{},
		&PRComment{},
		&Deployment{},
		&WeeklyMetrics{},
		&ReviewerCorrelation{},
		&PRSurvey{},
		&PRSurveyReview{},
		&CopilotSeatSnapshot{},
	}
}
