package sync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/githubapi"
	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
	"github.com/devpulse/devpulse/internal/telemetry"
)

// Processors syncs one pull request's child entities. Each method fetches
// its entity list, maps records, and upserts them one by one, isolating
// per-item failures into the sink. Fetch failures propagate: they are fatal
// to the current call, per-item failures never are.
type Processors struct {
	Store  storage.Store
	Source githubapi.PullData
	Logger *zap.Logger
}

// SyncReviews syncs all reviews for one pull request.
func (p *Processors) SyncReviews(ctx context.Context, pr *model.PullRequest, owner, repo string, sink *ErrorSink) (int, githubapi.CallMetadata, error) {
	records, metadata, err := p.Source.ListPullReviews(ctx, owner, repo, pr.Number)
	if err != nil {
		return 0, metadata, err
	}

	count := 0
	for _, record := range records {
		review := MapReview(pr.TeamID, pr.ID, record)
		review.ReviewerID = p.resolveMember(ctx, pr.TeamID, record.User, sink)
		if err := p.Store.UpsertReview(ctx, &review); err != nil {
			p.itemFailed(sink, "review %d on PR #%d: %v", record.ID, pr.Number, err)
			continue
		}
		count++
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("review").Add(float64(count))
	return count, metadata, nil
}

// SyncCommits syncs all commits for one pull request.
func (p *Processors) SyncCommits(ctx context.Context, pr *model.PullRequest, owner, repo string, sink *ErrorSink) (int, githubapi.CallMetadata, error) {
	records, metadata, err := p.Source.ListPullCommits(ctx, owner, repo, pr.Number)
	if err != nil {
		return 0, metadata, err
	}

	count := 0
	for _, record := range records {
		commit := MapCommit(pr.TeamID, &pr.ID, record)
		commit.AuthorID = p.resolveMember(ctx, pr.TeamID, record.Author, sink)
		if err := p.Store.UpsertCommit(ctx, &commit); err != nil {
			p.itemFailed(sink, "commit %s on PR #%d: %v", record.SHA, pr.Number, err)
			continue
		}
		count++
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("commit").Add(float64(count))
	return count, metadata, nil
}

// SyncCheckRuns syncs all check runs for the pull request's head SHA. A PR
// with no head SHA has nothing to check against.
func (p *Processors) SyncCheckRuns(ctx context.Context, pr *model.PullRequest, owner, repo string, sink *ErrorSink) (int, githubapi.CallMetadata, error) {
	if pr.HeadSHA == "" {
		return 0, githubapi.CallMetadata{}, nil
	}

	records, metadata, err := p.Source.ListCheckRuns(ctx, owner, repo, pr.HeadSHA)
	if err != nil {
		return 0, metadata, err
	}

	count := 0
	for _, record := range records {
		checkRun := MapCheckRun(pr.TeamID, pr.ID, record)
		if err := p.Store.UpsertCheckRun(ctx, &checkRun); err != nil {
			p.itemFailed(sink, "check run %d on PR #%d: %v", record.ID, pr.Number, err)
			continue
		}
		count++
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("check_run").Add(float64(count))
	return count, metadata, nil
}

// SyncFiles syncs all changed files for one pull request.
func (p *Processors) SyncFiles(ctx context.Context, pr *model.PullRequest, owner, repo string, sink *ErrorSink) (int, githubapi.CallMetadata, error) {
	records, metadata, err := p.Source.ListPullFiles(ctx, owner, repo, pr.Number)
	if err != nil {
		return 0, metadata, err
	}

	count := 0
	for _, record := range records {
		file := MapFile(pr.TeamID, pr.ID, record)
		if err := p.Store.UpsertFile(ctx, &file); err != nil {
			p.itemFailed(sink, "file %s on PR #%d: %v", record.Filename, pr.Number, err)
			continue
		}
		count++
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("file").Add(float64(count))
	return count, metadata, nil
}

// SyncComments syncs both comment subtypes for one pull request.
func (p *Processors) SyncComments(ctx context.Context, pr *model.PullRequest, owner, repo string, sink *ErrorSink) (int, githubapi.CallMetadata, error) {
	issueRecords, metadata, err := p.Source.ListIssueComments(ctx, owner, repo, pr.Number)
	if err != nil {
		return 0, metadata, err
	}
	reviewRecords, reviewMeta, err := p.Source.ListReviewComments(ctx, owner, repo, pr.Number)
	metadata = mergeMetadata(metadata, reviewMeta)
	if err != nil {
		return 0, metadata, err
	}

	count := 0
	count += p.upsertComments(ctx, pr, model.CommentKindIssue, issueRecords, sink)
	count += p.upsertComments(ctx, pr, model.CommentKindReview, reviewRecords, sink)
	telemetry.EntitiesSyncedTotal.WithLabelValues("comment").Add(float64(count))
	return count, metadata, nil
}

func (p *Processors) upsertComments(ctx context.Context, pr *model.PullRequest, kind model.CommentKind, records []githubapi.CommentRecord, sink *ErrorSink) int {
	count := 0
	for _, record := range records {
		comment := MapComment(pr.TeamID, pr.ID, kind, record)
		comment.AuthorID = p.resolveMember(ctx, pr.TeamID, record.User, sink)
		if err := p.Store.UpsertComment(ctx, &comment); err != nil {
			p.itemFailed(sink, "%s comment %d on PR #%d: %v", kind, record.ID, pr.Number, err)
			continue
		}
		count++
	}
	return count
}

// SyncDeployments syncs repository-level deployments. Runs once per sync
// pass, after the PR loop.
func (p *Processors) SyncDeployments(ctx context.Context, teamID uint, repoFullName string, sink *ErrorSink) (int, githubapi.CallMetadata, error) {
	owner, repo := SplitFullName(repoFullName)
	records, metadata, err := p.Source.ListDeployments(ctx, owner, repo)
	if err != nil {
		return 0, metadata, err
	}

	count := 0
	for _, record := range records {
		deployment := MapDeployment(teamID, repoFullName, record)
		deployment.CreatorID = p.resolveMember(ctx, teamID, record.Creator, sink)
		if err := p.Store.UpsertDeployment(ctx, &deployment); err != nil {
			p.itemFailed(sink, "deployment %d: %v", record.ID, err)
			continue
		}
		count++
	}
	telemetry.EntitiesSyncedTotal.WithLabelValues("deployment").Add(float64(count))
	return count, metadata, nil
}

// resolveMember maps an external actor to a team member id. Absence is
// expected and resolves to nil; only storage failures hit the sink.
func (p *Processors) resolveMember(ctx context.Context, teamID uint, actor *githubapi.ActorRecord, sink *ErrorSink) *uint {
	if actor == nil || actor.Login == "" {
		return nil
	}
	member, err := p.Store.FindMemberByLogin(ctx, teamID, actor.Login)
	if err != nil {
		p.itemFailed(sink, "resolve member %q: %v", actor.Login, err)
		return nil
	}
	if member == nil {
		return nil
	}
	return &member.ID
}

func (p *Processors) itemFailed(sink *ErrorSink, format string, args ...any) {
	sink.Add(format, args...)
	telemetry.SyncItemErrorsTotal.Inc()
	if p.Logger != nil {
		p.Logger.Warn("sync item skipped", zap.String("reason", sink.Messages()[sink.Len()-1]))
	}
}

// SplitFullName splits an "owner/repo" identifier.
func SplitFullName(fullName string) (string, string) {
	owner, repo, found := strings.Cut(fullName, "/")
	if !found {
		return fullName, ""
	}
	return owner, repo
}

func mergeMetadata(current, incoming githubapi.CallMetadata) githubapi.CallMetadata {
	current.Attempts += incoming.Attempts
	current.LastDecision = incoming.LastDecision
	current.LastRateHeaders = incoming.LastRateHeaders
	return current
}
