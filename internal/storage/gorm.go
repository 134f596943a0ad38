package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devpulse/devpulse/internal/model"
)

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to Postgres and migrates the schema.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStore wraps an already-open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetTrackedRepository(ctx context.Context, teamID uint, fullName string) (*model.TrackedRepository, error) {
	var repo model.TrackedRepository
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND full_name = ?", teamID, fullName).
		First(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tracked repository %q: %w", fullName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked repository: %w", err)
	}
	return &repo, nil
}

func (s *GormStore) SaveTrackedRepository(ctx context.Context, repo *model.TrackedRepository) error {
	if err := s.db.WithContext(ctx).Save(repo).Error; err != nil {
		return fmt.Errorf("save tracked repository: %w", err)
	}
	return nil
}

func (s *GormStore) ListTrackedRepositories(ctx context.Context) ([]model.TrackedRepository, error) {
	var repos []model.TrackedRepository
	if err := s.db.WithContext(ctx).Order("team_id, full_name").Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("list tracked repositories: %w", err)
	}
	return repos, nil
}

func (s *GormStore) FindMemberByLogin(ctx context.Context, teamID uint, login string) (*model.Member, error) {
	if login == "" {
		return nil, nil
	}
	var member model.Member
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND login = ?", teamID, login).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find member by login: %w", err)
	}
	return &member, nil
}

func (s *GormStore) ListActiveMembers(ctx context.Context, teamID uint) ([]model.Member, error) {
	var members []model.Member
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND active = ?", teamID, true).
		Order("login").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	return members, nil
}

// upsert runs a read-modify-write keyed by the caller's natural-key query.
// The single-writer-per-repository lease makes this race-free for sync
// writes, and it keeps the entity's ID populated on both paths.
func upsert[T any](ctx context.Context, db *gorm.DB, query *gorm.DB, incoming *T, apply func(existing, incoming *T)) error {
	var existing T
	err := query.First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.WithContext(ctx).Create(incoming).Error
	}
	if err != nil {
		return err
	}
	apply(&existing, incoming)
	if err := db.WithContext(ctx).Save(&existing).Error; err != nil {
		return err
	}
	*incoming = existing
	return nil
}

func (s *GormStore) UpsertPullRequest(ctx context.Context, pr *model.PullRequest) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND external_id = ? AND repo_full_name = ?", pr.TeamID, pr.ExternalID, pr.RepoFullName)
	err := upsert(ctx, s.db, query, pr, func(existing, incoming *model.PullRequest) {
		existing.Number = incoming.Number
		existing.Title = incoming.Title
		existing.Body = incoming.Body
		existing.State = incoming.State
		existing.AuthorID = incoming.AuthorID
		existing.HeadSHA = incoming.HeadSHA
		existing.Additions = incoming.Additions
		existing.Deletions = incoming.Deletions
		existing.OpenedAt = incoming.OpenedAt
		existing.MergedAt = incoming.MergedAt
		existing.IsAIAssisted = incoming.IsAIAssisted
		existing.AIToolsDetected = incoming.AIToolsDetected
		existing.IsRevert = incoming.IsRevert
		existing.IsHotfix = incoming.IsHotfix
	})
	if err != nil {
		return fmt.Errorf("upsert pull request %d: %w", pr.ExternalID, err)
	}
	return nil
}

func (s *GormStore) UpsertReview(ctx context.Context, review *model.PRReview) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND external_id = ?", review.TeamID, review.ExternalID)
	err := upsert(ctx, s.db, query, review, func(existing, incoming *model.PRReview) {
		existing.PullRequestID = incoming.PullRequestID
		existing.ReviewerID = incoming.ReviewerID
		existing.State = incoming.State
		existing.Body = incoming.Body
		existing.SubmittedAt = incoming.SubmittedAt
	})
	if err != nil {
		return fmt.Errorf("upsert review %d: %w", review.ExternalID, err)
	}
	return nil
}

func (s *GormStore) UpsertCommit(ctx context.Context, commit *model.Commit) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND sha = ?", commit.TeamID, commit.SHA)
	err := upsert(ctx, s.db, query, commit, func(existing, incoming *model.Commit) {
		if incoming.PullRequestID != nil {
			existing.PullRequestID = incoming.PullRequestID
		}
		existing.AuthorID = incoming.AuthorID
		existing.Message = incoming.Message
		existing.Additions = incoming.Additions
		existing.Deletions = incoming.Deletions
		existing.CommittedAt = incoming.CommittedAt
	})
	if err != nil {
		return fmt.Errorf("upsert commit %s: %w", commit.SHA, err)
	}
	return nil
}

func (s *GormStore) UpsertFile(ctx context.Context, file *model.PRFile) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND pull_request_id = ? AND filename = ?", file.TeamID, file.PullRequestID, file.Filename)
	err := upsert(ctx, s.db, query, file, func(existing, incoming *model.PRFile) {
		existing.Status = incoming.Status
		existing.Additions = incoming.Additions
		existing.Deletions = incoming.Deletions
		existing.Changes = incoming.Changes
	})
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", file.Filename, err)
	}
	return nil
}

func (s *GormStore) UpsertCheckRun(ctx context.Context, checkRun *model.PRCheckRun) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND external_id = ?", checkRun.TeamID, checkRun.ExternalID)
	err := upsert(ctx, s.db, query, checkRun, func(existing, incoming *model.PRCheckRun) {
		existing.PullRequestID = incoming.PullRequestID
		existing.Name = incoming.Name
		existing.Status = incoming.Status
		existing.Conclusion = incoming.Conclusion
		existing.StartedAt = incoming.StartedAt
		existing.CompletedAt = incoming.CompletedAt
		existing.DurationSeconds = incoming.DurationSeconds
	})
	if err != nil {
		return fmt.Errorf("upsert check run %d: %w", checkRun.ExternalID, err)
	}
	return nil
}

func (s *GormStore) UpsertComment(ctx context.Context, comment *model.PRComment) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND external_id = ?", comment.TeamID, comment.ExternalID)
	err := upsert(ctx, s.db, query, comment, func(existing, incoming *model.PRComment) {
		existing.PullRequestID = incoming.PullRequestID
		existing.AuthorID = incoming.AuthorID
		existing.Kind = incoming.Kind
		existing.Body = incoming.Body
		existing.PostedAt = incoming.PostedAt
	})
	if err != nil {
		return fmt.Errorf("upsert comment %d: %w", comment.ExternalID, err)
	}
	return nil
}

func (s *GormStore) UpsertDeployment(ctx context.Context, deployment *model.Deployment) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND external_id = ?", deployment.TeamID, deployment.ExternalID)
	err := upsert(ctx, s.db, query, deployment, func(existing, incoming *model.Deployment) {
		existing.RepoFullName = incoming.RepoFullName
		existing.Environment = incoming.Environment
		existing.Status = incoming.Status
		existing.CreatorID = incoming.CreatorID
		existing.SHA = incoming.SHA
		existing.DeployedAt = incoming.DeployedAt
	})
	if err != nil {
		return fmt.Errorf("upsert deployment %d: %w", deployment.ExternalID, err)
	}
	return nil
}

func (s *GormStore) GetPullRequest(ctx context.Context, teamID uint, externalID int64, repoFullName string) (*model.PullRequest, error) {
	var pr model.PullRequest
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND external_id = ? AND repo_full_name = ?", teamID, externalID, repoFullName).
		First(&pr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pull request %d: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return &pr, nil
}

func (s *GormStore) CountPullRequests(ctx context.Context, teamID uint, externalID int64, repoFullName string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.PullRequest{}).
		Where("team_id = ? AND external_id = ? AND repo_full_name = ?", teamID, externalID, repoFullName).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pull requests: %w", err)
	}
	return count, nil
}

func (s *GormStore) SavePullRequest(ctx context.Context, pr *model.PullRequest) error {
	if err := s.db.WithContext(ctx).Save(pr).Error; err != nil {
		return fmt.Errorf("save pull request: %w", err)
	}
	return nil
}

func (s *GormStore) ListReviewsForPR(ctx context.Context, teamID, prID uint) ([]model.PRReview, error) {
	var reviews []model.PRReview
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND pull_request_id = ?", teamID, prID).
		Order("submitted_at, external_id").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("list reviews for pr: %w", err)
	}
	return reviews, nil
}

func (s *GormStore) ListCommitsForPR(ctx context.Context, teamID, prID uint) ([]model.Commit, error) {
	var commits []model.Commit
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND pull_request_id = ?", teamID, prID).
		Order("committed_at, sha").
		Find(&commits).Error
	if err != nil {
		return nil, fmt.Errorf("list commits for pr: %w", err)
	}
	return commits, nil
}

func (s *GormStore) CountCommentsForPR(ctx context.Context, teamID, prID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.PRComment{}).
		Where("team_id = ? AND pull_request_id = ?", teamID, prID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count comments for pr: %w", err)
	}
	return count, nil
}

func (s *GormStore) ListMemberPullRequests(ctx context.Context, teamID, memberID uint, from, to time.Time) ([]model.PullRequest, error) {
	var prs []model.PullRequest
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND author_id = ? AND opened_at >= ? AND opened_at < ?", teamID, memberID, from, to).
		Order("opened_at").
		Find(&prs).Error
	if err != nil {
		return nil, fmt.Errorf("list member pull requests: %w", err)
	}
	return prs, nil
}

func (s *GormStore) ListMemberMergedPullRequests(ctx context.Context, teamID, memberID uint, from, to time.Time) ([]model.PullRequest, error) {
	var prs []model.PullRequest
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND author_id = ? AND merged_at >= ? AND merged_at < ?", teamID, memberID, from, to).
		Order("merged_at").
		Find(&prs).Error
	if err != nil {
		return nil, fmt.Errorf("list member merged pull requests: %w", err)
	}
	return prs, nil
}

func (s *GormStore) ListMemberCommits(ctx context.Context, teamID, memberID uint, from, to time.Time) ([]model.Commit, error) {
	var commits []model.Commit
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND author_id = ? AND committed_at >= ? AND committed_at < ?", teamID, memberID, from, to).
		Order("committed_at").
		Find(&commits).Error
	if err != nil {
		return nil, fmt.Errorf("list member commits: %w", err)
	}
	return commits, nil
}

func (s *GormStore) GetSurveyForPR(ctx context.Context, teamID, prID uint) (*model.PRSurvey, error) {
	var survey model.PRSurvey
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND pull_request_id = ?", teamID, prID).
		First(&survey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("survey for pr %d: %w", prID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get survey for pr: %w", err)
	}
	return &survey, nil
}

func (s *GormStore) ListSurveyReviews(ctx context.Context, teamID, surveyID uint) ([]model.PRSurveyReview, error) {
	var reviews []model.PRSurveyReview
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND survey_id = ?", teamID, surveyID).
		Order("reviewer_id").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("list survey reviews: %w", err)
	}
	return reviews, nil
}

func (s *GormStore) UpsertWeeklyMetrics(ctx context.Context, metrics *model.WeeklyMetrics) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND member_id = ? AND week_start = ?", metrics.TeamID, metrics.MemberID, metrics.WeekStart)
	err := upsert(ctx, s.db, query, metrics, func(existing, incoming *model.WeeklyMetrics) {
		id, createdAt := existing.ID, existing.CreatedAt
		*existing = *incoming
		existing.ID = id
		existing.CreatedAt = createdAt
	})
	if err != nil {
		return fmt.Errorf("upsert weekly metrics: %w", err)
	}
	return nil
}

func (s *GormStore) ListWeeklyMetrics(ctx context.Context, teamID uint, weekStart time.Time) ([]model.WeeklyMetrics, error) {
	var rows []model.WeeklyMetrics
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND week_start = ?", teamID, weekStart).
		Order("member_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list weekly metrics: %w", err)
	}
	return rows, nil
}

func (s *GormStore) ListScoringReviews(ctx context.Context, teamID uint) ([]model.PRReview, error) {
	var reviews []model.PRReview
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND state IN ?", teamID, []string{model.ReviewStateApproved, model.ReviewStateChangesRequested}).
		Order("submitted_at, external_id").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("list scoring reviews: %w", err)
	}
	return reviews, nil
}

func (s *GormStore) ReplaceReviewerCorrelations(ctx context.Context, teamID uint, rows []model.ReviewerCorrelation) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("team_id = ?", teamID).Delete(&model.ReviewerCorrelation{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("replace reviewer correlations: %w", err)
	}
	return nil
}

func (s *GormStore) ListReviewerCorrelations(ctx context.Context, teamID uint) ([]model.ReviewerCorrelation, error) {
	var rows []model.ReviewerCorrelation
	err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("reviewer1_id, reviewer2_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list reviewer correlations: %w", err)
	}
	return rows, nil
}

func (s *GormStore) CreateSurvey(ctx context.Context, survey *model.PRSurvey) error {
	if err := s.db.WithContext(ctx).Create(survey).Error; err != nil {
		return fmt.Errorf("create survey: %w", err)
	}
	return nil
}

func (s *GormStore) GetSurveyByTokenID(ctx context.Context, tokenID string) (*model.PRSurvey, error) {
	var survey model.PRSurvey
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&survey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("survey token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get survey by token: %w", err)
	}
	return &survey, nil
}

func (s *GormStore) SaveSurvey(ctx context.Context, survey *model.PRSurvey) error {
	if err := s.db.WithContext(ctx).Save(survey).Error; err != nil {
		return fmt.Errorf("save survey: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertSurveyReview(ctx context.Context, review *model.PRSurveyReview) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND survey_id = ? AND reviewer_id = ?", review.TeamID, review.SurveyID, review.ReviewerID)
	err := upsert(ctx, s.db, query, review, func(existing, incoming *model.PRSurveyReview) {
		existing.QualityRating = incoming.QualityRating
		existing.AIGuess = incoming.AIGuess
		existing.GuessCorrect = incoming.GuessCorrect
		existing.RespondedAt = incoming.RespondedAt
	})
	if err != nil {
		return fmt.Errorf("upsert survey review: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertCopilotSeatSnapshot(ctx context.Context, snapshot *model.CopilotSeatSnapshot) error {
	query := s.db.WithContext(ctx).
		Where("team_id = ? AND captured_on = ?", snapshot.TeamID, snapshot.CapturedOn)
	err := upsert(ctx, s.db, query, snapshot, func(existing, incoming *model.CopilotSeatSnapshot) {
		id, createdAt := existing.ID, existing.CreatedAt
		*existing = *incoming
		existing.ID = id
		existing.CreatedAt = createdAt
	})
	if err != nil {
		return fmt.Errorf("upsert copilot seat snapshot: %w", err)
	}
	return nil
}
