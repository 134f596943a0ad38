package sync

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
)

// IterationMetrics is the derived-field set recomputed wholesale for one
// pull request after its child entities have synced.
type IterationMetrics struct {
	CycleTimeHours          *float64
	ReviewTimeHours         *float64
	FirstReviewAt           *time.Time
	ReviewRounds            int
	CommitsAfterFirstReview int
	TotalComments           int
	AvgFixResponseHours     *float64
}

// ComputeIteration derives iteration metrics from a pull request and its
// already-synced reviews and commits. Pure and re-runnable: identical inputs
// always produce identical output.
func ComputeIteration(pr model.PullRequest, reviews []model.PRReview, commits []model.Commit, commentCount int) IterationMetrics {
	metrics := IterationMetrics{
		TotalComments: commentCount,
	}
	for _, review := range reviews {
		if review.Body != "" {
			metrics.TotalComments++
		}
	}

	if pr.MergedAt != nil && !pr.OpenedAt.IsZero() {
		metrics.CycleTimeHours = roundHours(pr.MergedAt.Sub(pr.OpenedAt))
	}

	sorted := make([]model.PRReview, len(reviews))
	copy(sorted, reviews)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].SubmittedAt.Equal(sorted[j].SubmittedAt) {
			return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt)
		}
		return sorted[i].ExternalID < sorted[j].ExternalID
	})

	if len(sorted) > 0 {
		first := sorted[0].SubmittedAt
		metrics.FirstReviewAt = &first
		if !pr.OpenedAt.IsZero() {
			metrics.ReviewTimeHours = roundHours(first.Sub(pr.OpenedAt))
		}
		for _, commit := range commits {
			if commit.CommittedAt.After(first) {
				metrics.CommitsAfterFirstReview++
			}
		}
	}

	var totalFixHours float64
	for _, review := range sorted {
		if review.State != model.ReviewStateChangesRequested {
			continue
		}
		fix := firstCommitAfter(commits, review.SubmittedAt)
		if fix == nil {
			continue
		}
		metrics.ReviewRounds++
		totalFixHours += fix.CommittedAt.Sub(review.SubmittedAt).Hours()
	}
	if metrics.ReviewRounds > 0 {
		avg := round2(totalFixHours / float64(metrics.ReviewRounds))
		metrics.AvgFixResponseHours = &avg
	}

	return metrics
}

// firstCommitAfter returns the earliest commit strictly after ts, nil when
// no commit qualifies.
func firstCommitAfter(commits []model.Commit, ts time.Time) *model.Commit {
	var earliest *model.Commit
	for i := range commits {
		commit := &commits[i]
		if !commit.CommittedAt.After(ts) {
			continue
		}
		if earliest == nil || commit.CommittedAt.Before(earliest.CommittedAt) {
			earliest = commit
		}
	}
	return earliest
}

// MetricsCalculator loads a pull request's child entities and writes back the
// recomputed derived fields.
type MetricsCalculator struct {
	Store storage.Store
}

// Recompute refreshes every derived field on the pull request row.
func (c MetricsCalculator) Recompute(ctx context.Context, pr *model.PullRequest) error {
	reviews, err := c.Store.ListReviewsForPR(ctx, pr.TeamID, pr.ID)
	if err != nil {
		return fmt.Errorf("load reviews: %w", err)
	}
	commits, err := c.Store.ListCommitsForPR(ctx, pr.TeamID, pr.ID)
	if err != nil {
		return fmt.Errorf("load commits: %w", err)
	}
	commentCount, err := c.Store.CountCommentsForPR(ctx, pr.TeamID, pr.ID)
	if err != nil {
		return fmt.Errorf("count comments: %w", err)
	}

	metrics := ComputeIteration(*pr, reviews, commits, int(commentCount))
	pr.CycleTimeHours = metrics.CycleTimeHours
	pr.ReviewTimeHours = metrics.ReviewTimeHours
	pr.FirstReviewAt = metrics.FirstReviewAt
	pr.ReviewRounds = metrics.ReviewRounds
	pr.CommitsAfterFirstReview = metrics.CommitsAfterFirstReview
	pr.TotalComments = metrics.TotalComments
	pr.AvgFixResponseHours = metrics.AvgFixResponseHours

	if err := c.Store.SavePullRequest(ctx, pr); err != nil {
		return fmt.Errorf("save derived metrics: %w", err)
	}
	return nil
}

func roundHours(d time.Duration) *float64 {
	hours := round2(d.Hours())
	return &hours
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
