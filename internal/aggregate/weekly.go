// Package aggregate computes the scheduled rollups that read already-synced
// entities: weekly per-member metrics, reviewer correlation and Copilot seat
// snapshots.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
)

// WeekStart truncates a reference time to its Monday 00:00:00 UTC boundary.
func WeekStart(ref time.Time) time.Time {
	utc := ref.UTC()
	daysBack := (int(utc.Weekday()) + 6) % 7
	monday := utc.AddDate(0, 0, -daysBack)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

// WeeklyAggregator recomputes one WeeklyMetrics row per active member per
// week. Re-running overwrites the full field set; it never accumulates.
type WeeklyAggregator struct {
	Store  storage.Store
	Logger *zap.Logger
}

// AggregateTeamWeek recomputes the week containing ref for every active
// member of the team. Inactive members are skipped entirely.
func (a WeeklyAggregator) AggregateTeamWeek(ctx context.Context, teamID uint, ref time.Time) error {
	weekStart := WeekStart(ref)
	weekEnd := weekStart.AddDate(0, 0, 7)

	members, err := a.Store.ListActiveMembers(ctx, teamID)
	if err != nil {
		return fmt.Errorf("list active members: %w", err)
	}

	for _, member := range members {
		row, err := a.computeMemberWeek(ctx, teamID, member.ID, weekStart, weekEnd)
		if err != nil {
			return fmt.Errorf("aggregate member %d: %w", member.ID, err)
		}
		if err := a.Store.UpsertWeeklyMetrics(ctx, row); err != nil {
			return fmt.Errorf("upsert weekly metrics for member %d: %w", member.ID, err)
		}
	}

	if a.Logger != nil {
		a.Logger.Info("weekly aggregation complete",
			zap.Uint("team_id", teamID),
			zap.Time("week_start", weekStart),
			zap.Int("members", len(members)),
		)
	}
	return nil
}

func (a WeeklyAggregator) computeMemberWeek(ctx context.Context, teamID, memberID uint, weekStart, weekEnd time.Time) (*model.WeeklyMetrics, error) {
	opened, err := a.Store.ListMemberPullRequests(ctx, teamID, memberID, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("list opened prs: %w", err)
	}
	merged, err := a.Store.ListMemberMergedPullRequests(ctx, teamID, memberID, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("list merged prs: %w", err)
	}
	commits, err := a.Store.ListMemberCommits(ctx, teamID, memberID, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}

	row := &model.WeeklyMetrics{
		TeamID:    teamID,
		MemberID:  memberID,
		WeekStart: weekStart,
		PRsOpened: len(opened),
		PRsMerged: len(merged),
	}

	row.AvgCycleTimeHours = meanOf(merged, func(pr model.PullRequest) *float64 { return pr.CycleTimeHours })
	row.AvgReviewTimeHours = meanOf(opened, func(pr model.PullRequest) *float64 { return pr.ReviewTimeHours })

	for _, pr := range opened {
		if pr.IsRevert {
			row.RevertCount++
		}
		if pr.IsHotfix {
			row.HotfixCount++
		}
	}

	row.CommitsCount = len(commits)
	for _, commit := range commits {
		row.LinesAdded += commit.Additions
		row.LinesRemoved += commit.Deletions
	}

	if err := a.applySurveyMetrics(ctx, teamID, opened, row); err != nil {
		return nil, err
	}
	return row, nil
}

// applySurveyMetrics folds the AI and quality fields in from the surveys of
// the week's opened PRs. PRs without a survey are simply not counted.
func (a WeeklyAggregator) applySurveyMetrics(ctx context.Context, teamID uint, prs []model.PullRequest, row *model.WeeklyMetrics) error {
	var ratingSum float64
	var ratingCount int
	var correctGuesses, totalGuesses int

	for _, pr := range prs {
		survey, err := a.Store.GetSurveyForPR(ctx, teamID, pr.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load survey for pr %d: %w", pr.ID, err)
		}

		if survey.AuthorAIAssisted != nil && *survey.AuthorAIAssisted {
			row.AIAssistedPRs++
		}
		if survey.AuthorRespondedAt != nil {
			row.SurveysCompleted++
		}

		reviews, err := a.Store.ListSurveyReviews(ctx, teamID, survey.ID)
		if err != nil {
			return fmt.Errorf("list survey reviews for survey %d: %w", survey.ID, err)
		}
		for _, review := range reviews {
			if review.QualityRating != nil {
				ratingSum += float64(*review.QualityRating)
				ratingCount++
			}
			if review.AIGuess != nil {
				totalGuesses++
				if review.GuessCorrect != nil && *review.GuessCorrect {
					correctGuesses++
				}
			}
		}
	}

	if ratingCount > 0 {
		avg := round2(ratingSum / float64(ratingCount))
		row.AvgQualityRating = &avg
	}
	if totalGuesses > 0 {
		accuracy := round2(float64(correctGuesses) / float64(totalGuesses) * 100)
		row.AIGuessAccuracy = &accuracy
	}
	return nil
}

func meanOf(prs []model.PullRequest, field func(model.PullRequest) *float64) *float64 {
	var sum float64
	var count int
	for _, pr := range prs {
		if value := field(pr); value != nil {
			sum += *value
			count++
		}
	}
	if count == 0 {
		return nil
	}
	mean := round2(sum / float64(count))
	return &mean
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
