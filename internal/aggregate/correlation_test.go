package aggregate

import (
	"context"
	"testing"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
)

func uintPtr(value uint) *uint { return &value }

// scoringReview builds one already-resolved scoring review.
func scoringReview(prID, reviewerID uint, state, submittedAt string) model.PRReview {
	return model.PRReview{
		TeamID:        1,
		PullRequestID: prID,
		ReviewerID:    uintPtr(reviewerID),
		State:         state,
		SubmittedAt:   ts(submittedAt),
	}
}

func TestCorrelatePairsAgreementRate(t *testing.T) {
	t.Parallel()

	// 20 shared PRs, one disagreement: 95.00 and redundant.
	var reviews []model.PRReview
	for pr := uint(1); pr <= 20; pr++ {
		stateB := model.ReviewStateApproved
		if pr == 20 {
			stateB = model.ReviewStateChangesRequested
		}
		reviews = append(reviews,
			scoringReview(pr, 10, model.ReviewStateApproved, "2026-01-05T10:00:00Z"),
			scoringReview(pr, 11, stateB, "2026-01-05T11:00:00Z"),
		)
	}

	rows := CorrelatePairs(1, reviews)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.PRsReviewedTogether != 20 || row.Agreements != 19 || row.Disagreements != 1 {
		t.Fatalf("counts = %d together %d agree %d disagree", row.PRsReviewedTogether, row.Agreements, row.Disagreements)
	}
	if row.AgreementRate != 95.00 {
		t.Fatalf("agreementRate = %v, want 95.00", row.AgreementRate)
	}
	if !row.IsRedundant {
		t.Fatalf("isRedundant = false, want true at 95.00 over 20 PRs")
	}
}

func TestCorrelatePairsSampleSizeGuard(t *testing.T) {
	t.Parallel()

	// Perfect agreement over only 5 PRs: high rate, not redundant.
	var reviews []model.PRReview
	for pr := uint(1); pr <= 5; pr++ {
		reviews = append(reviews,
			scoringReview(pr, 10, model.ReviewStateApproved, "2026-01-05T10:00:00Z"),
			scoringReview(pr, 11, model.ReviewStateApproved, "2026-01-05T11:00:00Z"),
		)
	}

	rows := CorrelatePairs(1, reviews)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].AgreementRate != 100.00 {
		t.Fatalf("agreementRate = %v, want 100.00", rows[0].AgreementRate)
	}
	if rows[0].IsRedundant {
		t.Fatalf("isRedundant = true, want false below the sample floor")
	}
}

func TestCorrelatePairsCanonicalOrdering(t *testing.T) {
	t.Parallel()

	// Reviewer order varies per PR; the pair key must still canonicalize.
	reviews := []model.PRReview{
		scoringReview(1, 11, model.ReviewStateApproved, "2026-01-05T10:00:00Z"),
		scoringReview(1, 10, model.ReviewStateApproved, "2026-01-05T11:00:00Z"),
		scoringReview(2, 10, model.ReviewStateApproved, "2026-01-06T10:00:00Z"),
		scoringReview(2, 11, model.ReviewStateChangesRequested, "2026-01-06T11:00:00Z"),
	}

	rows := CorrelatePairs(1, reviews)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want exactly 1 per unordered pair", len(rows))
	}
	row := rows[0]
	if row.Reviewer1ID != 10 || row.Reviewer2ID != 11 {
		t.Fatalf("pair = (%d, %d), want canonical (10, 11)", row.Reviewer1ID, row.Reviewer2ID)
	}
	if row.PRsReviewedTogether != 2 || row.Agreements != 1 || row.Disagreements != 1 {
		t.Fatalf("counts = %d/%d/%d", row.PRsReviewedTogether, row.Agreements, row.Disagreements)
	}
}

func TestCorrelatePairsLastStateWins(t *testing.T) {
	t.Parallel()

	// Reviewer 11 first requested changes, then approved. Only the last
	// state participates.
	reviews := []model.PRReview{
		scoringReview(1, 10, model.ReviewStateApproved, "2026-01-05T10:00:00Z"),
		scoringReview(1, 11, model.ReviewStateChangesRequested, "2026-01-05T11:00:00Z"),
		scoringReview(1, 11, model.ReviewStateApproved, "2026-01-05T12:00:00Z"),
	}

	rows := CorrelatePairs(1, reviews)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Agreements != 1 || rows[0].Disagreements != 0 {
		t.Fatalf("agreements = %d, disagreements = %d, want 1/0", rows[0].Agreements, rows[0].Disagreements)
	}
}

func TestCorrelatePairsSkipsUnmappedReviewers(t *testing.T) {
	t.Parallel()

	reviews := []model.PRReview{
		scoringReview(1, 10, model.ReviewStateApproved, "2026-01-05T10:00:00Z"),
		{TeamID: 1, PullRequestID: 1, ReviewerID: nil, State: model.ReviewStateApproved, SubmittedAt: ts("2026-01-05T11:00:00Z")},
	}
	if rows := CorrelatePairs(1, reviews); len(rows) != 0 {
		t.Fatalf("rows = %d, want 0 (single mapped reviewer cannot pair)", len(rows))
	}
}

func TestAgreementRateEmptyDenominator(t *testing.T) {
	t.Parallel()

	if got := AgreementRate(0, 0); got != 0 {
		t.Fatalf("AgreementRate(0, 0) = %v, want 0", got)
	}
}

func TestRecomputeReplacesRows(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	team := store.AddTeam(model.Team{Name: "platform"})
	alice := store.AddMember(model.Member{TeamID: team.ID, Login: "alice", Active: true})
	bob := store.AddMember(model.Member{TeamID: team.ID, Login: "bob", Active: true})
	ctx := context.Background()

	pr := model.PullRequest{TeamID: team.ID, ExternalID: 100, RepoFullName: "acme/widgets", OpenedAt: ts("2026-01-05T10:00:00Z")}
	if err := store.UpsertPullRequest(ctx, &pr); err != nil {
		t.Fatalf("seed pr: %v", err)
	}
	seedReviews := []model.PRReview{
		{TeamID: team.ID, ExternalID: 1, PullRequestID: pr.ID, ReviewerID: &alice.ID, State: model.ReviewStateApproved, SubmittedAt: ts("2026-01-05T11:00:00Z")},
		{TeamID: team.ID, ExternalID: 2, PullRequestID: pr.ID, ReviewerID: &bob.ID, State: model.ReviewStateApproved, SubmittedAt: ts("2026-01-05T12:00:00Z")},
	}
	for i := range seedReviews {
		if err := store.UpsertReview(ctx, &seedReviews[i]); err != nil {
			t.Fatalf("seed review: %v", err)
		}
	}

	calculator := CorrelationCalculator{Store: store}
	for i := 0; i < 2; i++ {
		if err := calculator.Recompute(ctx, team.ID); err != nil {
			t.Fatalf("recompute %d: %v", i, err)
		}
	}

	rows, err := store.ListReviewerCorrelations(ctx, team.ID)
	if err != nil {
		t.Fatalf("list correlations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 after repeated recompute", len(rows))
	}
	if rows[0].PRsReviewedTogether != 1 || rows[0].Agreements != 1 {
		t.Fatalf("row = %+v", rows[0])
	}
}
