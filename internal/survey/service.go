package survey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
)

// Service runs the survey workflow: one survey per PR, author AI disclosure
// and reviewer quality ratings, all gated by a single-use signed token.
type Service struct {
	Store  storage.Store
	Issuer TokenIssuer
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// CreateForPR creates the survey row for a PR and returns it with the
// URL-embeddable token. A PR that already has a survey gets its existing row
// back with no new token.
func (s *Service) CreateForPR(ctx context.Context, teamID, prID uint) (*model.PRSurvey, string, error) {
	existing, err := s.Store.GetSurveyForPR(ctx, teamID, prID)
	if err == nil {
		return existing, "", nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("look up existing survey: %w", err)
	}

	issued, err := s.Issuer.Issue()
	if err != nil {
		return nil, "", err
	}

	surveyRow := &model.PRSurvey{
		TeamID:        teamID,
		PullRequestID: prID,
		TokenID:       issued.TokenID,
		TokenExpires:  issued.ExpiresAt,
	}
	if err := s.Store.CreateSurvey(ctx, surveyRow); err != nil {
		return nil, "", fmt.Errorf("create survey: %w", err)
	}

	if s.Logger != nil {
		s.Logger.Info("survey created",
			zap.Uint("team_id", teamID),
			zap.Uint("pr_id", prID),
			zap.Time("token_expires", issued.ExpiresAt),
		)
	}
	return surveyRow, issued.Token, nil
}

// Validate resolves a token to its survey. Absence and expiry are distinct
// failures: ErrTokenNotFound vs ErrTokenExpired.
func (s *Service) Validate(ctx context.Context, token string) (*model.PRSurvey, error) {
	tokenID, parseErr := s.Issuer.Parse(token)
	if parseErr != nil && !errors.Is(parseErr, ErrTokenExpired) {
		return nil, parseErr
	}

	surveyRow, err := s.Store.GetSurveyByTokenID(ctx, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up survey by token: %w", err)
	}

	if parseErr != nil || s.now().After(surveyRow.TokenExpires) {
		return nil, ErrTokenExpired
	}
	return surveyRow, nil
}

// SubmitAuthorResponse records the author's AI disclosure and consumes the
// token. Reviewer guesses already recorded are graded against the new
// disclosure.
func (s *Service) SubmitAuthorResponse(ctx context.Context, token string, aiAssisted bool, tools string) (*model.PRSurvey, error) {
	surveyRow, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if surveyRow.AuthorRespondedAt != nil {
		return nil, ErrAlreadyResponded
	}

	now := s.now()
	surveyRow.AuthorAIAssisted = &aiAssisted
	surveyRow.AuthorAITools = tools
	surveyRow.AuthorRespondedAt = &now
	if err := s.Store.SaveSurvey(ctx, surveyRow); err != nil {
		return nil, fmt.Errorf("save author response: %w", err)
	}

	if err := s.gradeGuesses(ctx, surveyRow, aiAssisted); err != nil {
		return nil, err
	}
	return surveyRow, nil
}

// SubmitReviewerResponse records one reviewer's quality rating and AI guess.
// The guess is graded immediately when the author has already disclosed.
func (s *Service) SubmitReviewerResponse(ctx context.Context, token string, reviewerID uint, qualityRating *int, aiGuess *bool) (*model.PRSurveyReview, error) {
	surveyRow, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if qualityRating != nil && (*qualityRating < 1 || *qualityRating > 5) {
		return nil, fmt.Errorf("quality rating %d out of range 1..5", *qualityRating)
	}

	now := s.now()
	review := &model.PRSurveyReview{
		TeamID:        surveyRow.TeamID,
		SurveyID:      surveyRow.ID,
		ReviewerID:    reviewerID,
		QualityRating: qualityRating,
		AIGuess:       aiGuess,
		RespondedAt:   &now,
	}
	if aiGuess != nil && surveyRow.AuthorAIAssisted != nil {
		correct := *aiGuess == *surveyRow.AuthorAIAssisted
		review.GuessCorrect = &correct
	}
	if err := s.Store.UpsertSurveyReview(ctx, review); err != nil {
		return nil, fmt.Errorf("save reviewer response: %w", err)
	}
	return review, nil
}

func (s *Service) gradeGuesses(ctx context.Context, surveyRow *model.PRSurvey, aiAssisted bool) error {
	reviews, err := s.Store.ListSurveyReviews(ctx, surveyRow.TeamID, surveyRow.ID)
	if err != nil {
		return fmt.Errorf("list survey reviews: %w", err)
	}
	for i := range reviews {
		review := &reviews[i]
		if review.AIGuess == nil {
			continue
		}
		correct := *review.AIGuess == aiAssisted
		review.GuessCorrect = &correct
		if err := s.Store.UpsertSurveyReview(ctx, review); err != nil {
			return fmt.Errorf("grade guess for reviewer %d: %w", review.ReviewerID, err)
		}
	}
	return nil
}
