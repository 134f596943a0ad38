package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
)

func ts(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func tsPtr(value string) *time.Time {
	parsed := ts(value)
	return &parsed
}

func f64Ptr(value float64) *float64 { return &value }
func boolPtr(value bool) *bool      { return &value }
func intPtr(value int) *int         { return &value }

func TestWeekStart(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		ref  string
		want string
	}{
		{name: "monday_maps_to_itself", ref: "2026-01-05T09:30:00Z", want: "2026-01-05T00:00:00Z"},
		{name: "wednesday_maps_back_to_monday", ref: "2026-01-07T23:59:59Z", want: "2026-01-05T00:00:00Z"},
		{name: "sunday_belongs_to_previous_monday", ref: "2026-01-11T00:00:00Z", want: "2026-01-05T00:00:00Z"},
		{name: "next_monday_starts_new_week", ref: "2026-01-12T00:00:00Z", want: "2026-01-12T00:00:00Z"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := WeekStart(ts(tc.ref)); !got.Equal(ts(tc.want)) {
				t.Fatalf("WeekStart(%s) = %v, want %v", tc.ref, got, tc.want)
			}
		})
	}
}

type weeklyFixture struct {
	store  *storage.MemoryStore
	team   model.Team
	member model.Member
}

func newWeeklyFixture(t *testing.T) *weeklyFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	team := store.AddTeam(model.Team{Name: "platform"})
	member := store.AddMember(model.Member{TeamID: team.ID, Login: "sam", Active: true})
	store.AddMember(model.Member{TeamID: team.ID, Login: "departed", Active: false})
	return &weeklyFixture{store: store, team: team, member: member}
}

func (fx *weeklyFixture) addPR(t *testing.T, pr model.PullRequest) model.PullRequest {
	t.Helper()
	pr.TeamID = fx.team.ID
	pr.RepoFullName = "acme/widgets"
	pr.AuthorID = &fx.member.ID
	if err := fx.store.UpsertPullRequest(context.Background(), &pr); err != nil {
		t.Fatalf("seed pr: %v", err)
	}
	return pr
}

func TestAggregateTeamWeek(t *testing.T) {
	t.Parallel()

	fx := newWeeklyFixture(t)
	ctx := context.Background()

	fx.addPR(t, model.PullRequest{
		ExternalID:      100,
		OpenedAt:        ts("2026-01-05T10:00:00Z"),
		MergedAt:        tsPtr("2026-01-06T10:00:00Z"),
		CycleTimeHours:  f64Ptr(24.00),
		ReviewTimeHours: f64Ptr(4.00),
		IsHotfix:        true,
	})
	fx.addPR(t, model.PullRequest{
		ExternalID:      101,
		OpenedAt:        ts("2026-01-07T10:00:00Z"),
		MergedAt:        tsPtr("2026-01-08T20:00:00Z"),
		CycleTimeHours:  f64Ptr(34.00),
		ReviewTimeHours: f64Ptr(6.00),
		IsRevert:        true,
	})
	// Outside the week: must not count.
	fx.addPR(t, model.PullRequest{
		ExternalID: 102,
		OpenedAt:   ts("2026-01-14T10:00:00Z"),
	})

	for i, committedAt := range []string{"2026-01-05T11:00:00Z", "2026-01-07T12:00:00Z"} {
		commit := model.Commit{
			TeamID:      fx.team.ID,
			SHA:         string(rune('a' + i)),
			AuthorID:    &fx.member.ID,
			Additions:   100,
			Deletions:   40,
			CommittedAt: ts(committedAt),
		}
		if err := fx.store.UpsertCommit(ctx, &commit); err != nil {
			t.Fatalf("seed commit: %v", err)
		}
	}

	aggregator := WeeklyAggregator{Store: fx.store}
	if err := aggregator.AggregateTeamWeek(ctx, fx.team.ID, ts("2026-01-07T00:00:00Z")); err != nil {
		t.Fatalf("AggregateTeamWeek: %v", err)
	}

	rows, err := fx.store.ListWeeklyMetrics(ctx, fx.team.ID, ts("2026-01-05T00:00:00Z"))
	if err != nil {
		t.Fatalf("list weekly metrics: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 (inactive member skipped)", len(rows))
	}

	row := rows[0]
	if row.MemberID != fx.member.ID {
		t.Fatalf("member = %d, want %d", row.MemberID, fx.member.ID)
	}
	if row.PRsOpened != 2 || row.PRsMerged != 2 {
		t.Fatalf("prs = opened %d merged %d, want 2/2", row.PRsOpened, row.PRsMerged)
	}
	if row.AvgCycleTimeHours == nil || *row.AvgCycleTimeHours != 29.00 {
		t.Fatalf("avgCycleTimeHours = %v, want 29.00", row.AvgCycleTimeHours)
	}
	if row.AvgReviewTimeHours == nil || *row.AvgReviewTimeHours != 5.00 {
		t.Fatalf("avgReviewTimeHours = %v, want 5.00", row.AvgReviewTimeHours)
	}
	if row.CommitsCount != 2 || row.LinesAdded != 200 || row.LinesRemoved != 80 {
		t.Fatalf("commits = %d +%d -%d", row.CommitsCount, row.LinesAdded, row.LinesRemoved)
	}
	if row.RevertCount != 1 || row.HotfixCount != 1 {
		t.Fatalf("revert=%d hotfix=%d, want 1/1", row.RevertCount, row.HotfixCount)
	}
}

func TestAggregateTeamWeekSurveyMetrics(t *testing.T) {
	t.Parallel()

	fx := newWeeklyFixture(t)
	ctx := context.Background()

	pr := fx.addPR(t, model.PullRequest{ExternalID: 100, OpenedAt: ts("2026-01-05T10:00:00Z")})

	survey := model.PRSurvey{
		TeamID:            fx.team.ID,
		PullRequestID:     pr.ID,
		TokenID:           "tok-1",
		AuthorAIAssisted:  boolPtr(true),
		AuthorRespondedAt: tsPtr("2026-01-06T10:00:00Z"),
	}
	if err := fx.store.CreateSurvey(ctx, &survey); err != nil {
		t.Fatalf("seed survey: %v", err)
	}
	reviewer := fx.store.AddMember(model.Member{TeamID: fx.team.ID, Login: "kim", Active: true})
	reviews := []model.PRSurveyReview{
		{TeamID: fx.team.ID, SurveyID: survey.ID, ReviewerID: reviewer.ID, QualityRating: intPtr(4), AIGuess: boolPtr(true), GuessCorrect: boolPtr(true)},
		{TeamID: fx.team.ID, SurveyID: survey.ID, ReviewerID: fx.member.ID, QualityRating: intPtr(5), AIGuess: boolPtr(false), GuessCorrect: boolPtr(false)},
	}
	for i := range reviews {
		if err := fx.store.UpsertSurveyReview(ctx, &reviews[i]); err != nil {
			t.Fatalf("seed survey review: %v", err)
		}
	}

	aggregator := WeeklyAggregator{Store: fx.store}
	if err := aggregator.AggregateTeamWeek(ctx, fx.team.ID, ts("2026-01-05T00:00:00Z")); err != nil {
		t.Fatalf("AggregateTeamWeek: %v", err)
	}

	rows, err := fx.store.ListWeeklyMetrics(ctx, fx.team.ID, ts("2026-01-05T00:00:00Z"))
	if err != nil {
		t.Fatalf("list weekly metrics: %v", err)
	}
	var row *model.WeeklyMetrics
	for i := range rows {
		if rows[i].MemberID == fx.member.ID {
			row = &rows[i]
		}
	}
	if row == nil {
		t.Fatalf("no row for author member")
	}

	if row.AIAssistedPRs != 1 || row.SurveysCompleted != 1 {
		t.Fatalf("ai=%d completed=%d, want 1/1", row.AIAssistedPRs, row.SurveysCompleted)
	}
	if row.AvgQualityRating == nil || *row.AvgQualityRating != 4.50 {
		t.Fatalf("avgQualityRating = %v, want 4.50", row.AvgQualityRating)
	}
	if row.AIGuessAccuracy == nil || *row.AIGuessAccuracy != 50.00 {
		t.Fatalf("aiGuessAccuracy = %v, want 50.00", row.AIGuessAccuracy)
	}
}

func TestAggregateTeamWeekOverwrites(t *testing.T) {
	t.Parallel()

	fx := newWeeklyFixture(t)
	ctx := context.Background()
	aggregator := WeeklyAggregator{Store: fx.store}

	fx.addPR(t, model.PullRequest{ExternalID: 100, OpenedAt: ts("2026-01-05T10:00:00Z")})
	if err := aggregator.AggregateTeamWeek(ctx, fx.team.ID, ts("2026-01-05T00:00:00Z")); err != nil {
		t.Fatalf("first aggregation: %v", err)
	}

	fx.addPR(t, model.PullRequest{ExternalID: 101, OpenedAt: ts("2026-01-06T10:00:00Z")})
	if err := aggregator.AggregateTeamWeek(ctx, fx.team.ID, ts("2026-01-05T00:00:00Z")); err != nil {
		t.Fatalf("second aggregation: %v", err)
	}

	rows, err := fx.store.ListWeeklyMetrics(ctx, fx.team.ID, ts("2026-01-05T00:00:00Z"))
	if err != nil {
		t.Fatalf("list weekly metrics: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 per (member, week)", len(rows))
	}
	// Overwrite, not accumulate: 2 PRs total, not 1+2.
	if rows[0].PRsOpened != 2 {
		t.Fatalf("prsOpened = %d, want 2", rows[0].PRsOpened)
	}
}
