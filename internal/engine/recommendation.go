package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// SubmitRecommendation moves the active cycle to submitted_for_review,
// opening a fresh cycle first when the previous one was already judged.
func (e Engine) SubmitRecommendation(ctx context.Context, caseID, actorID string) (domain.RecommendationCycle, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return domain.RecommendationCycle{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RecommendationCycle{}, err
	}
	defer tx.Rollback()

	cycle, err := e.activeOrNewCycleTx(ctx, tx, caseID, now)
	if err != nil {
		return domain.RecommendationCycle{}, err
	}
	if cycle.Status == domain.CycleSubmittedForReview {
		return domain.RecommendationCycle{}, conflictf("recommendation for case %s already submitted", caseID)
	}
	cycle.Status = domain.CycleSubmittedForReview
	cycle.Submitted = true
	cycle.SubmittedAt = &now
	if err := e.Repo.UpdateCycle(ctx, tx, cycle); err != nil {
		return domain.RecommendationCycle{}, err
	}
	if err := e.Events.Append(ctx, tx, "recommendation.submitted", caseID, "recommendation_cycle", cycle.ID, actorID, events.EventPayload{
		"cycle_number": cycle.CycleNumber,
	}); err != nil {
		return domain.RecommendationCycle{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RecommendationCycle{}, err
	}
	return cycle, nil
}

// AcceptRecommendation terminates the active cycle unchallenged. This is the
// judgement that later lets item edits show up as "updated".
func (e Engine) AcceptRecommendation(ctx context.Context, caseID, actorID string) (domain.RecommendationCycle, error) {
	return e.finishReview(ctx, caseID, actorID, false)
}

// ChallengeRecommendation terminates the active cycle as challenged and
// opens the next cycle for the assessor to resubmit.
func (e Engine) ChallengeRecommendation(ctx context.Context, caseID, actorID string) (domain.RecommendationCycle, error) {
	return e.finishReview(ctx, caseID, actorID, true)
}

func (e Engine) finishReview(ctx context.Context, caseID, actorID string, challenged bool) (domain.RecommendationCycle, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RecommendationCycle{}, err
	}
	defer tx.Rollback()

	cycle, err := e.Repo.ActiveCycleTx(ctx, tx, caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.RecommendationCycle{}, invalidf("case %s has no active recommendation cycle", caseID)
		}
		return domain.RecommendationCycle{}, err
	}
	if cycle.Status != domain.CycleSubmittedForReview {
		return domain.RecommendationCycle{}, conflictf("recommendation for case %s is not awaiting review", caseID)
	}
	// The challenge is recorded against the cycle being closed, not the
	// replacement.
	cycle.Status = domain.CycleReviewComplete
	cycle.Challenged = challenged
	cycle.ReviewedAt = &now
	if err := e.Repo.UpdateCycle(ctx, tx, cycle); err != nil {
		return domain.RecommendationCycle{}, err
	}
	evtType := "recommendation.accepted"
	if challenged {
		evtType = "recommendation.challenged"
		next := domain.RecommendationCycle{
			ID:          uuid.New().String(),
			CaseID:      caseID,
			CycleNumber: cycle.CycleNumber + 1,
			Status:      domain.CycleInProgress,
			CreatedAt:   now,
		}
		if err := e.Repo.InsertCycle(ctx, tx, next); err != nil {
			return domain.RecommendationCycle{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, caseID, "recommendation_cycle", cycle.ID, actorID, events.EventPayload{
		"cycle_number": cycle.CycleNumber,
	}); err != nil {
		return domain.RecommendationCycle{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RecommendationCycle{}, err
	}
	return cycle, nil
}

// WithdrawRecommendation pulls a submission back before review. The cycle
// number does not move and no challenge is recorded.
func (e Engine) WithdrawRecommendation(ctx context.Context, caseID, actorID string) (domain.RecommendationCycle, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RecommendationCycle{}, err
	}
	defer tx.Rollback()

	cycle, err := e.Repo.ActiveCycleTx(ctx, tx, caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.RecommendationCycle{}, invalidf("case %s has no active recommendation cycle", caseID)
		}
		return domain.RecommendationCycle{}, err
	}
	if cycle.Status != domain.CycleSubmittedForReview {
		return domain.RecommendationCycle{}, conflictf("recommendation for case %s is not awaiting review", caseID)
	}
	cycle.Status = domain.CycleInProgress
	cycle.Submitted = false
	cycle.SubmittedAt = nil
	if err := e.Repo.UpdateCycle(ctx, tx, cycle); err != nil {
		return domain.RecommendationCycle{}, err
	}
	if err := e.Events.Append(ctx, tx, "recommendation.withdrawn", caseID, "recommendation_cycle", cycle.ID, actorID, events.EventPayload{
		"cycle_number": cycle.CycleNumber,
	}); err != nil {
		return domain.RecommendationCycle{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RecommendationCycle{}, err
	}
	return cycle, nil
}

// activeOrNewCycleTx returns the case's active cycle, creating the successor
// when every prior cycle is terminal. Only one cycle is ever active.
func (e Engine) activeOrNewCycleTx(ctx context.Context, tx *sql.Tx, caseID, now string) (domain.RecommendationCycle, error) {
	cycle, err := e.Repo.ActiveCycleTx(ctx, tx, caseID)
	if err == nil {
		return cycle, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.RecommendationCycle{}, err
	}
	maxN, err := e.Repo.MaxCycleNumberTx(ctx, tx, caseID)
	if err != nil {
		return domain.RecommendationCycle{}, err
	}
	next := domain.RecommendationCycle{
		ID:          uuid.New().String(),
		CaseID:      caseID,
		CycleNumber: maxN + 1,
		Status:      domain.CycleInProgress,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertCycle(ctx, tx, next); err != nil {
		return domain.RecommendationCycle{}, err
	}
	return next, nil
}
