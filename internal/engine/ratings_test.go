package engine_test

import (
	"errors"
	"testing"

	"gigboard/internal/domain"
	"gigboard/internal/engine"
	"gigboard/internal/engine/guard"
)

func completedJob(t *testing.T, env testEnv, owner, worker string) domain.Job {
	t.Helper()
	j := postJob(t, env, owner, "Completed gig")
	if _, err := env.Engine.AssignWorker(env.Ctx, j.ID, worker, owner); err != nil {
		t.Fatal(err)
	}
	j, err := env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCompleted, owner)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestRatingRequiresCompletion(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Open gig")
	if _, err := env.Engine.AssignWorker(env.Ctx, j.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
		JobID:     j.ID,
		RaterID:   "alice",
		Rating:    5,
		Direction: domain.RatingPosterToHelper,
	})
	var ue guard.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError before completion, got %v", err)
	}

	ok, err := env.Engine.CanRate(env.Ctx, j.ID, "alice", domain.RatingPosterToHelper)
	if err != nil || ok {
		t.Fatalf("expected can_rate=false before completion, got %v %v", ok, err)
	}
}

func TestRatingBothDirectionsOnce(t *testing.T) {
	env := newTestEnv(t)
	j := completedJob(t, env, "alice", "bob")

	ok, err := env.Engine.CanRate(env.Ctx, j.ID, "alice", domain.RatingPosterToHelper)
	if err != nil || !ok {
		t.Fatalf("expected poster can rate, got %v %v", ok, err)
	}

	rt, err := env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
		JobID:     j.ID,
		RaterID:   "alice",
		Rating:    5,
		Review:    "fast and careful",
		Direction: domain.RatingPosterToHelper,
	})
	if err != nil {
		t.Fatalf("poster rating: %v", err)
	}
	if rt.RatedID != "bob" {
		t.Fatalf("rated_id must default to the worker, got %s", rt.RatedID)
	}

	_, err = env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
		JobID:     j.ID,
		RaterID:   "alice",
		Rating:    4,
		Direction: domain.RatingPosterToHelper,
	})
	var are guard.AlreadyRatedError
	if !errors.As(err, &are) {
		t.Fatalf("expected AlreadyRatedError, got %v", err)
	}

	ok, err = env.Engine.CanRate(env.Ctx, j.ID, "alice", domain.RatingPosterToHelper)
	if err != nil || ok {
		t.Fatalf("expected can_rate=false after rating, got %v %v", ok, err)
	}

	// the other direction is independent
	if _, err := env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
		JobID:     j.ID,
		RaterID:   "bob",
		Rating:    5,
		Direction: domain.RatingHelperToPoster,
	}); err != nil {
		t.Fatalf("worker rating: %v", err)
	}

	all, err := env.Engine.JobRatings(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 ratings, got %d", len(all))
	}
}

func TestRatingGuards(t *testing.T) {
	env := newTestEnv(t)
	j := completedJob(t, env, "alice", "bob")

	_, err := env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
		JobID:     j.ID,
		RaterID:   "alice",
		Rating:    0,
		Direction: domain.RatingPosterToHelper,
	})
	var ve guard.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for rating 0, got %v", err)
	}

	_, err = env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
		JobID:     j.ID,
		RaterID:   "mallory",
		Rating:    3,
		Direction: domain.RatingPosterToHelper,
	})
	var ue guard.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError for stranger, got %v", err)
	}

	_, err = env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
		JobID:     j.ID,
		RaterID:   "alice",
		RatedID:   "carol",
		Rating:    3,
		Direction: domain.RatingPosterToHelper,
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for wrong rated_id, got %v", err)
	}
}

func TestUserRatingsAggregate(t *testing.T) {
	env := newTestEnv(t)
	first := completedJob(t, env, "alice", "bob")
	second := completedJob(t, env, "carol", "bob")
	for _, tc := range []struct{ job, rater string }{
		{first.ID, "alice"},
		{second.ID, "carol"},
	} {
		if _, err := env.Engine.SubmitRating(env.Ctx, engine.RatingOptions{
			JobID:     tc.job,
			RaterID:   tc.rater,
			Rating:    4,
			Direction: domain.RatingPosterToHelper,
		}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := env.Engine.UserRatings(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ratings for bob, got %d", len(got))
	}
	for _, rt := range got {
		if rt.RatedID != "bob" {
			t.Fatalf("unexpected rated_id %s", rt.RatedID)
		}
	}
}
