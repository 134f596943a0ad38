package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devpulse/devpulse/internal/model"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors the natural-key upsert semantics of the Postgres store.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint

	teams        []model.Team
	members      []model.Member
	repos        []model.TrackedRepository
	pullRequests []model.PullRequest
	reviews      []model.PRReview
	commits      []model.Commit
	files        []model.PRFile
	checkRuns    []model.PRCheckRun
	comments     []model.PRComment
	deployments  []model.Deployment
	weekly       []model.WeeklyMetrics
	correlations []model.ReviewerCorrelation
	surveys      []model.PRSurvey
	surveyRevs   []model.PRSurveyReview
	copilot      []model.CopilotSeatSnapshot
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) allocID() uint {
	s.nextID++
	return s.nextID
}

// AddTeam seeds a team and returns it with an assigned ID.
func (s *MemoryStore) AddTeam(team model.Team) model.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	team.ID = s.allocID()
	s.teams = append(s.teams, team)
	return team
}

// AddMember seeds a member and returns it with an assigned ID.
func (s *MemoryStore) AddMember(member model.Member) model.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	member.ID = s.allocID()
	s.members = append(s.members, member)
	return member
}

// AddTrackedRepository seeds a tracked repository.
func (s *MemoryStore) AddTrackedRepository(repo model.TrackedRepository) model.TrackedRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo.ID = s.allocID()
	if repo.SyncStatus == "" {
		repo.SyncStatus = model.SyncStatusPending
	}
	s.repos = append(s.repos, repo)
	return repo
}

func (s *MemoryStore) GetTrackedRepository(_ context.Context, teamID uint, fullName string) (*model.TrackedRepository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.repos {
		if s.repos[i].TeamID == teamID && s.repos[i].FullName == fullName {
			repo := s.repos[i]
			return &repo, nil
		}
	}
	return nil, fmt.Errorf("tracked repository %q: %w", fullName, ErrNotFound)
}

func (s *MemoryStore) SaveTrackedRepository(_ context.Context, repo *model.TrackedRepository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.repos {
		if s.repos[i].ID == repo.ID {
			s.repos[i] = *repo
			return nil
		}
	}
	if repo.ID == 0 {
		repo.ID = s.allocID()
	}
	s.repos = append(s.repos, *repo)
	return nil
}

func (s *MemoryStore) ListTrackedRepositories(_ context.Context) ([]model.TrackedRepository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]model.TrackedRepository(nil), s.repos...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].TeamID != out[j].TeamID {
			return out[i].TeamID < out[j].TeamID
		}
		return out[i].FullName < out[j].FullName
	})
	return out, nil
}

func (s *MemoryStore) FindMemberByLogin(_ context.Context, teamID uint, login string) (*model.Member, error) {
	if login == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.members {
		if s.members[i].TeamID == teamID && s.members[i].Login == login {
			member := s.members[i]
			return &member, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListActiveMembers(_ context.Context, teamID uint) ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Member
	for _, member := range s.members {
		if member.TeamID == teamID && member.Active {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

func (s *MemoryStore) UpsertPullRequest(_ context.Context, pr *model.PullRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pullRequests {
		existing := &s.pullRequests[i]
		if existing.TeamID == pr.TeamID && existing.ExternalID == pr.ExternalID && existing.RepoFullName == pr.RepoFullName {
			pr.ID = existing.ID
			pr.CycleTimeHours = existing.CycleTimeHours
			pr.ReviewTimeHours = existing.ReviewTimeHours
			pr.ReviewRounds = existing.ReviewRounds
			pr.CommitsAfterFirstReview = existing.CommitsAfterFirstReview
			pr.TotalComments = existing.TotalComments
			pr.AvgFixResponseHours = existing.AvgFixResponseHours
			pr.FirstReviewAt = existing.FirstReviewAt
			*existing = *pr
			return nil
		}
	}
	pr.ID = s.allocID()
	s.pullRequests = append(s.pullRequests, *pr)
	return nil
}

func (s *MemoryStore) UpsertReview(_ context.Context, review *model.PRReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reviews {
		if s.reviews[i].TeamID == review.TeamID && s.reviews[i].ExternalID == review.ExternalID {
			review.ID = s.reviews[i].ID
			s.reviews[i] = *review
			return nil
		}
	}
	review.ID = s.allocID()
	s.reviews = append(s.reviews, *review)
	return nil
}

func (s *MemoryStore) UpsertCommit(_ context.Context, commit *model.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.commits {
		if s.commits[i].TeamID == commit.TeamID && s.commits[i].SHA == commit.SHA {
			commit.ID = s.commits[i].ID
			if commit.PullRequestID == nil {
				commit.PullRequestID = s.commits[i].PullRequestID
			}
			s.commits[i] = *commit
			return nil
		}
	}
	commit.ID = s.allocID()
	s.commits = append(s.commits, *commit)
	return nil
}

func (s *MemoryStore) UpsertFile(_ context.Context, file *model.PRFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.files {
		if s.files[i].TeamID == file.TeamID && s.files[i].PullRequestID == file.PullRequestID && s.files[i].Filename == file.Filename {
			file.ID = s.files[i].ID
			s.files[i] = *file
			return nil
		}
	}
	file.ID = s.allocID()
	s.files = append(s.files, *file)
	return nil
}

func (s *MemoryStore) UpsertCheckRun(_ context.Context, checkRun *model.PRCheckRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.checkRuns {
		if s.checkRuns[i].TeamID == checkRun.TeamID && s.checkRuns[i].ExternalID == checkRun.ExternalID {
			checkRun.ID = s.checkRuns[i].ID
			s.checkRuns[i] = *checkRun
			return nil
		}
	}
	checkRun.ID = s.allocID()
	s.checkRuns = append(s.checkRuns, *checkRun)
	return nil
}

func (s *MemoryStore) UpsertComment(_ context.Context, comment *model.PRComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.comments {
		if s.comments[i].TeamID == comment.TeamID && s.comments[i].ExternalID == comment.ExternalID {
			comment.ID = s.comments[i].ID
			s.comments[i] = *comment
			return nil
		}
	}
	comment.ID = s.allocID()
	s.comments = append(s.comments, *comment)
	return nil
}

func (s *MemoryStore) UpsertDeployment(_ context.Context, deployment *model.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.deployments {
		if s.deployments[i].TeamID == deployment.TeamID && s.deployments[i].ExternalID == deployment.ExternalID {
			deployment.ID = s.deployments[i].ID
			s.deployments[i] = *deployment
			return nil
		}
	}
	deployment.ID = s.allocID()
	s.deployments = append(s.deployments, *deployment)
	return nil
}

func (s *MemoryStore) GetPullRequest(_ context.Context, teamID uint, externalID int64, repoFullName string) (*model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pullRequests {
		pr := s.pullRequests[i]
		if pr.TeamID == teamID && pr.ExternalID == externalID && pr.RepoFullName == repoFullName {
			return &pr, nil
		}
	}
	return nil, fmt.Errorf("pull request %d: %w", externalID, ErrNotFound)
}

func (s *MemoryStore) CountPullRequests(_ context.Context, teamID uint, externalID int64, repoFullName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, pr := range s.pullRequests {
		if pr.TeamID == teamID && pr.ExternalID == externalID && pr.RepoFullName == repoFullName {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SavePullRequest(_ context.Context, pr *model.PullRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pullRequests {
		if s.pullRequests[i].ID == pr.ID {
			s.pullRequests[i] = *pr
			return nil
		}
	}
	return fmt.Errorf("pull request id %d: %w", pr.ID, ErrNotFound)
}

func (s *MemoryStore) ListReviewsForPR(_ context.Context, teamID, prID uint) ([]model.PRReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PRReview
	for _, review := range s.reviews {
		if review.TeamID == teamID && review.PullRequestID == prID {
			out = append(out, review)
		}
	}
	sortReviews(out)
	return out, nil
}

func (s *MemoryStore) ListCommitsForPR(_ context.Context, teamID, prID uint) ([]model.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Commit
	for _, commit := range s.commits {
		if commit.TeamID == teamID && commit.PullRequestID != nil && *commit.PullRequestID == prID {
			out = append(out, commit)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommittedAt.Equal(out[j].CommittedAt) {
			return out[i].CommittedAt.Before(out[j].CommittedAt)
		}
		return out[i].SHA < out[j].SHA
	})
	return out, nil
}

func (s *MemoryStore) CountCommentsForPR(_ context.Context, teamID, prID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, comment := range s.comments {
		if comment.TeamID == teamID && comment.PullRequestID == prID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListMemberPullRequests(_ context.Context, teamID, memberID uint, from, to time.Time) ([]model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PullRequest
	for _, pr := range s.pullRequests {
		if pr.TeamID != teamID || pr.AuthorID == nil || *pr.AuthorID != memberID {
			continue
		}
		if pr.OpenedAt.Before(from) || !pr.OpenedAt.Before(to) {
			continue
		}
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *MemoryStore) ListMemberMergedPullRequests(_ context.Context, teamID, memberID uint, from, to time.Time) ([]model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PullRequest
	for _, pr := range s.pullRequests {
		if pr.TeamID != teamID || pr.AuthorID == nil || *pr.AuthorID != memberID {
			continue
		}
		if pr.MergedAt == nil || pr.MergedAt.Before(from) || !pr.MergedAt.Before(to) {
			continue
		}
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MergedAt.Before(*out[j].MergedAt) })
	return out, nil
}

func (s *MemoryStore) ListMemberCommits(_ context.Context, teamID, memberID uint, from, to time.Time) ([]model.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Commit
	for _, commit := range s.commits {
		if commit.TeamID != teamID || commit.AuthorID == nil || *commit.AuthorID != memberID {
			continue
		}
		if commit.CommittedAt.Before(from) || !commit.CommittedAt.Before(to) {
			continue
		}
		out = append(out, commit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt.Before(out[j].CommittedAt) })
	return out, nil
}

func (s *MemoryStore) GetSurveyForPR(_ context.Context, teamID, prID uint) (*model.PRSurvey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.surveys {
		if s.surveys[i].TeamID == teamID && s.surveys[i].PullRequestID == prID {
			survey := s.surveys[i]
			return &survey, nil
		}
	}
	return nil, fmt.Errorf("survey for pr %d: %w", prID, ErrNotFound)
}

func (s *MemoryStore) ListSurveyReviews(_ context.Context, teamID, surveyID uint) ([]model.PRSurveyReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PRSurveyReview
	for _, review := range s.surveyRevs {
		if review.TeamID == teamID && review.SurveyID == surveyID {
			out = append(out, review)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReviewerID < out[j].ReviewerID })
	return out, nil
}

func (s *MemoryStore) UpsertWeeklyMetrics(_ context.Context, metrics *model.WeeklyMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.weekly {
		existing := &s.weekly[i]
		if existing.TeamID == metrics.TeamID && existing.MemberID == metrics.MemberID && existing.WeekStart.Equal(metrics.WeekStart) {
			metrics.ID = existing.ID
			*existing = *metrics
			return nil
		}
	}
	metrics.ID = s.allocID()
	s.weekly = append(s.weekly, *metrics)
	return nil
}

func (s *MemoryStore) ListWeeklyMetrics(_ context.Context, teamID uint, weekStart time.Time) ([]model.WeeklyMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WeeklyMetrics
	for _, row := range s.weekly {
		if row.TeamID == teamID && row.WeekStart.Equal(weekStart) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (s *MemoryStore) ListScoringReviews(_ context.Context, teamID uint) ([]model.PRReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PRReview
	for _, review := range s.reviews {
		if review.TeamID != teamID {
			continue
		}
		if review.State != model.ReviewStateApproved && review.State != model.ReviewStateChangesRequested {
			continue
		}
		out = append(out, review)
	}
	sortReviews(out)
	return out, nil
}

func (s *MemoryStore) ReplaceReviewerCorrelations(_ context.Context, teamID uint, rows []model.ReviewerCorrelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.correlations[:0]
	for _, row := range s.correlations {
		if row.TeamID != teamID {
			kept = append(kept, row)
		}
	}
	s.correlations = kept
	for _, row := range rows {
		row.ID = s.allocID()
		s.correlations = append(s.correlations, row)
	}
	return nil
}

func (s *MemoryStore) ListReviewerCorrelations(_ context.Context, teamID uint) ([]model.ReviewerCorrelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReviewerCorrelation
	for _, row := range s.correlations {
		if row.TeamID == teamID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reviewer1ID != out[j].Reviewer1ID {
			return out[i].Reviewer1ID < out[j].Reviewer1ID
		}
		return out[i].Reviewer2ID < out[j].Reviewer2ID
	})
	return out, nil
}

func (s *MemoryStore) CreateSurvey(_ context.Context, survey *model.PRSurvey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	survey.ID = s.allocID()
	s.surveys = append(s.surveys, *survey)
	return nil
}

func (s *MemoryStore) GetSurveyByTokenID(_ context.Context, tokenID string) (*model.PRSurvey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.surveys {
		if s.surveys[i].TokenID == tokenID {
			survey := s.surveys[i]
			return &survey, nil
		}
	}
	return nil, fmt.Errorf("survey token: %w", ErrNotFound)
}

func (s *MemoryStore) SaveSurvey(_ context.Context, survey *model.PRSurvey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.surveys {
		if s.surveys[i].ID == survey.ID {
			s.surveys[i] = *survey
			return nil
		}
	}
	return fmt.Errorf("survey id %d: %w", survey.ID, ErrNotFound)
}

func (s *MemoryStore) UpsertSurveyReview(_ context.Context, review *model.PRSurveyReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.surveyRevs {
		existing := &s.surveyRevs[i]
		if existing.TeamID == review.TeamID && existing.SurveyID == review.SurveyID && existing.ReviewerID == review.ReviewerID {
			review.ID = existing.ID
			*existing = *review
			return nil
		}
	}
	review.ID = s.allocID()
	s.surveyRevs = append(s.surveyRevs, *review)
	return nil
}

func (s *MemoryStore) UpsertCopilotSeatSnapshot(_ context.Context, snapshot *model.CopilotSeatSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.copilot {
		existing := &s.copilot[i]
		if existing.TeamID == snapshot.TeamID && existing.CapturedOn.Equal(snapshot.CapturedOn) {
			snapshot.ID = existing.ID
			*existing = *snapshot
			return nil
		}
	}
	snapshot.ID = s.allocID()
	s.copilot = append(s.copilot, *snapshot)
	return nil
}

func sortReviews(reviews []model.PRReview) {
	sort.Slice(reviews, func(i, j int) bool {
		if !reviews[i].SubmittedAt.Equal(reviews[j].SubmittedAt) {
			return reviews[i].SubmittedAt.Before(reviews[j].SubmittedAt)
		}
		return reviews[i].ExternalID < reviews[j].ExternalID
	})
}
