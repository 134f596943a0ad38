package aggregate

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
)

// redundantAgreementRate and redundantMinSample gate the redundancy flag: a
// pair is redundant only when it agrees at least this often over at least
// this many shared PRs. The sample floor suppresses false positives from
// tiny overlaps.
const (
	redundantAgreementRate = 95.0
	redundantMinSample     = 10
)

// CorrelationCalculator recomputes pairwise reviewer agreement for a team
// wholesale: delete everything, reinsert from scratch. Correctness over
// incrementality.
type CorrelationCalculator struct {
	Store  storage.Store
	Logger *zap.Logger
}

type pairKey struct {
	reviewer1 uint
	reviewer2 uint
}

// Recompute rebuilds every ReviewerCorrelation row for the team from its
// approved and changes_requested reviews.
func (c CorrelationCalculator) Recompute(ctx context.Context, teamID uint) error {
	reviews, err := c.Store.ListScoringReviews(ctx, teamID)
	if err != nil {
		return fmt.Errorf("list scoring reviews: %w", err)
	}

	rows := CorrelatePairs(teamID, reviews)
	if err := c.Store.ReplaceReviewerCorrelations(ctx, teamID, rows); err != nil {
		return fmt.Errorf("replace reviewer correlations: %w", err)
	}

	if c.Logger != nil {
		c.Logger.Info("reviewer correlation recomputed",
			zap.Uint("team_id", teamID),
			zap.Int("reviews", len(reviews)),
			zap.Int("pairs", len(rows)),
		)
	}
	return nil
}

// CorrelatePairs computes the pairwise agreement rows from scoring reviews.
// Input must be ordered by submission time so last-state-wins resolution of
// a reviewer who reviewed the same PR twice is deterministic.
func CorrelatePairs(teamID uint, reviews []model.PRReview) []model.ReviewerCorrelation {
	// Last state per (PR, reviewer). Reviews without a mapped reviewer
	// cannot participate in pair scoring.
	lastState := make(map[uint]map[uint]string)
	for _, review := range reviews {
		if review.ReviewerID == nil {
			continue
		}
		byReviewer, ok := lastState[review.PullRequestID]
		if !ok {
			byReviewer = make(map[uint]string)
			lastState[review.PullRequestID] = byReviewer
		}
		byReviewer[*review.ReviewerID] = review.State
	}

	counters := make(map[pairKey]*model.ReviewerCorrelation)
	for _, byReviewer := range lastState {
		reviewers := make([]uint, 0, len(byReviewer))
		for reviewerID := range byReviewer {
			reviewers = append(reviewers, reviewerID)
		}
		sort.Slice(reviewers, func(i, j int) bool { return reviewers[i] < reviewers[j] })

		for i := 0; i < len(reviewers); i++ {
			for j := i + 1; j < len(reviewers); j++ {
				key := pairKey{reviewer1: reviewers[i], reviewer2: reviewers[j]}
				row, ok := counters[key]
				if !ok {
					row = &model.ReviewerCorrelation{
						TeamID:      teamID,
						Reviewer1ID: key.reviewer1,
						Reviewer2ID: key.reviewer2,
					}
					counters[key] = row
				}
				row.PRsReviewedTogether++
				if byReviewer[key.reviewer1] == byReviewer[key.reviewer2] {
					row.Agreements++
				} else {
					row.Disagreements++
				}
			}
		}
	}

	rows := make([]model.ReviewerCorrelation, 0, len(counters))
	for _, row := range counters {
		row.AgreementRate = AgreementRate(row.Agreements, row.PRsReviewedTogether)
		row.IsRedundant = row.AgreementRate >= redundantAgreementRate &&
			row.PRsReviewedTogether >= redundantMinSample
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Reviewer1ID != rows[j].Reviewer1ID {
			return rows[i].Reviewer1ID < rows[j].Reviewer1ID
		}
		return rows[i].Reviewer2ID < rows[j].Reviewer2ID
	})
	return rows
}

// AgreementRate returns agreements over shared PRs as a percentage, rounded
// to two decimals, 0.00 for an empty denominator.
func AgreementRate(agreements, prsReviewedTogether int) float64 {
	if prsReviewedTogether == 0 {
		return 0
	}
	return round2(float64(agreements) / float64(prsReviewedTogether) * 100)
}
