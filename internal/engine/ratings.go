package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigboard/internal/domain"
	"gigboard/internal/engine/guard"
	"gigboard/internal/events"
	"gigboard/internal/repo"
)

// RatingOptions are parameters for submitting a rating.
type RatingOptions struct {
	JobID     string
	RaterID   string
	RatedID   string
	Rating    int
	Review    string
	Direction string
}

// CanRate reports whether the user may still submit a rating in the given
// direction: the job must be completed, the user must be the right party, and
// no rating may exist yet. Used by clients to decide whether to show the form;
// SubmitRating re-checks everything.
func (e Engine) CanRate(ctx context.Context, jobID, userID, direction string) (bool, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if j.Status != domain.JobCompleted || !j.Bound() {
		return false, nil
	}
	switch direction {
	case domain.RatingPosterToHelper:
		if userID != j.OwnerID {
			return false, nil
		}
	case domain.RatingHelperToPoster:
		if userID != *j.AssignedWorkerID {
			return false, nil
		}
	default:
		return false, guard.ValidationError{Field: "direction", Reason: "unknown rating direction"}
	}
	_, err = e.Repo.GetRating(ctx, jobID, userID, direction)
	if errors.Is(err, repo.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// SubmitRating records a one-shot rating for a completed job. Each party rates
// the other exactly once; the uniqueness constraint backstops the pre-check so
// a double-submit race still yields a single row.
func (e Engine) SubmitRating(ctx context.Context, opts RatingOptions) (domain.Rating, error) {
	if opts.RaterID == "" {
		return domain.Rating{}, guard.UnauthenticatedError{}
	}
	if opts.Rating < 1 || opts.Rating > 5 {
		return domain.Rating{}, guard.ValidationError{Field: "rating", Reason: "rating must be between 1 and 5"}
	}
	j, err := e.Repo.GetJob(ctx, opts.JobID)
	if err != nil {
		return domain.Rating{}, err
	}
	if j.Status != domain.JobCompleted || !j.Bound() {
		return domain.Rating{}, guard.UnauthorizedError{Reason: "only completed jobs can be rated"}
	}

	worker := *j.AssignedWorkerID
	switch opts.Direction {
	case domain.RatingPosterToHelper:
		if opts.RaterID != j.OwnerID {
			return domain.Rating{}, guard.UnauthorizedError{Reason: "only the job owner can rate the helper"}
		}
		if opts.RatedID == "" {
			opts.RatedID = worker
		}
		if opts.RatedID != worker {
			return domain.Rating{}, guard.ValidationError{Field: "rated_id", Reason: "rated user must be the assigned worker"}
		}
	case domain.RatingHelperToPoster:
		if opts.RaterID != worker {
			return domain.Rating{}, guard.UnauthorizedError{Reason: "only the assigned worker can rate the poster"}
		}
		if opts.RatedID == "" {
			opts.RatedID = j.OwnerID
		}
		if opts.RatedID != j.OwnerID {
			return domain.Rating{}, guard.ValidationError{Field: "rated_id", Reason: "rated user must be the job owner"}
		}
	default:
		return domain.Rating{}, guard.ValidationError{Field: "direction", Reason: "unknown rating direction"}
	}

	rt := domain.Rating{
		ID:        uuid.New().String(),
		JobID:     j.ID,
		RaterID:   opts.RaterID,
		RatedID:   opts.RatedID,
		Rating:    opts.Rating,
		Review:    optionalString(strings.TrimSpace(opts.Review)),
		Direction: opts.Direction,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rating{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRatingTx(ctx, tx, rt); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Rating{}, guard.AlreadyRatedError{JobID: j.ID, Direction: opts.Direction}
		}
		return domain.Rating{}, err
	}
	if err := e.Events.Append(ctx, tx, "rating.submitted", "rating", rt.ID, rt.RaterID, events.EventPayload{
		"job_id":    j.ID,
		"direction": rt.Direction,
		"rating":    rt.Rating,
	}); err != nil {
		return domain.Rating{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rating{}, err
	}
	return rt, nil
}

// JobRatings lists the ratings on a job; visible to both parties.
func (e Engine) JobRatings(ctx context.Context, jobID string) ([]domain.Rating, error) {
	if _, err := e.Repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.Repo.ListRatingsByJob(ctx, jobID)
}

// UserRatings lists ratings received by a user, newest first.
func (e Engine) UserRatings(ctx context.Context, userID string) ([]domain.Rating, error) {
	return e.Repo.ListRatingsForUser(ctx, userID)
}
