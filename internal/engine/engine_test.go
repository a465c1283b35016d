package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigboard/internal/config"
	"gigboard/internal/db"
	"gigboard/internal/domain"
	"gigboard/internal/engine"
	"gigboard/internal/engine/guard"
	"gigboard/internal/migrate"
	"gigboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv opens a throwaway workspace database. The clock ticks one second
// per call so every row gets a distinct timestamp.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("campus")
	eng := engine.New(conn, cfg)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	eng.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func postJob(t *testing.T, env testEnv, owner, title string) domain.Job {
	t.Helper()
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		OwnerID:  owner,
		Title:    title,
		Price:    1500,
		Location: "library",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Move boxes")
	if j.Status != domain.JobOpen {
		t.Fatalf("expected open, got %s", j.Status)
	}

	if _, err := env.Engine.GetOrCreateConversation(env.Ctx, j.ID, "bob"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	j, err := env.Engine.AssignWorker(env.Ctx, j.ID, "bob", "alice")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if j.Status != domain.JobInProgress || !j.Bound() || *j.AssignedWorkerID != "bob" {
		t.Fatalf("expected in_progress bound to bob, got %+v", j)
	}

	j, err = env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCompleted, "alice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if j.Status != domain.JobCompleted || j.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %+v", j)
	}

	j, err = env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobOpen, "alice")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if j.Status != domain.JobOpen || j.Bound() || j.CompletedAt != nil {
		t.Fatalf("reopen must clear binding and completion, got %+v", j)
	}
}

func TestAssignOnlyFromOpen(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Walk the dog")
	if _, err := env.Engine.AssignWorker(env.Ctx, j.ID, "bob", "alice"); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	// second assign must lose against the committed binding
	_, err := env.Engine.AssignWorker(env.Ctx, j.ID, "carol", "alice")
	var ite guard.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != domain.JobInProgress {
		t.Fatalf("expected transition from in_progress, got %s", ite.From)
	}
	cur, err := env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *cur.AssignedWorkerID != "bob" {
		t.Fatalf("binding must stay with the first worker, got %s", *cur.AssignedWorkerID)
	}
}

func TestAssignGuards(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Fix bike")

	_, err := env.Engine.AssignWorker(env.Ctx, j.ID, "bob", "mallory")
	var ue guard.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError for non-owner, got %v", err)
	}

	_, err = env.Engine.AssignWorker(env.Ctx, j.ID, "alice", "alice")
	var ve guard.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for self-assign, got %v", err)
	}
}

func TestCompleteRequiresProgress(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Proofread essay")

	_, err := env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCompleted, "alice")
	var ite guard.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError from open, got %v", err)
	}

	if _, err := env.Engine.AssignWorker(env.Ctx, j.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCompleted, "mallory")
	var ue guard.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError for stranger, got %v", err)
	}
	// the assigned worker may complete as well
	if _, err := env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCompleted, "bob"); err != nil {
		t.Fatalf("worker complete: %v", err)
	}
}

func TestCancelRules(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Water plants")
	if _, err := env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCancelled, "alice"); err != nil {
		t.Fatalf("cancel from open: %v", err)
	}

	done := postJob(t, env, "alice", "Sort mail")
	if _, err := env.Engine.AssignWorker(env.Ctx, done.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetJobStatus(env.Ctx, done.ID, domain.JobCompleted, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SetJobStatus(env.Ctx, done.ID, domain.JobCancelled, "alice")
	var ite guard.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError for cancel after completion, got %v", err)
	}
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name  string
		opts  engine.JobCreateOptions
		field string
	}{
		{"empty title", engine.JobCreateOptions{OwnerID: "alice", Location: "dorm"}, "title"},
		{"negative price", engine.JobCreateOptions{OwnerID: "alice", Title: "x", Location: "dorm", Price: -1}, "price"},
		{"unknown urgency", engine.JobCreateOptions{OwnerID: "alice", Title: "x", Location: "dorm", Urgency: "yesterday"}, "urgency"},
		{"missing location", engine.JobCreateOptions{OwnerID: "alice", Title: "x"}, "location"},
		{"unknown category", engine.JobCreateOptions{OwnerID: "alice", Title: "x", Location: "dorm", Category: "quantum"}, "category"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateJob(env.Ctx, tc.opts)
			var ve guard.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, ve.Field)
			}
		})
	}
}

func TestSystemMessagesOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Assemble shelf")
	if _, err := env.Engine.AssignWorker(env.Ctx, j.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCompleted, "alice"); err != nil {
		t.Fatal(err)
	}
	conv, err := env.Engine.Repo.GetConversationByJobWorker(env.Ctx, j.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := env.Engine.ListMessages(env.Ctx, conv.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	kinds := make([]string, 0, len(msgs))
	for _, m := range msgs {
		kinds = append(kinds, m.Kind)
	}
	if len(kinds) != 2 || kinds[0] != domain.MessageSystemAssigned || kinds[1] != domain.MessageSystemCompleted {
		t.Fatalf("expected assigned then completed notices, got %v", kinds)
	}

	cancelled := postJob(t, env, "alice", "Paint fence")
	if _, err := env.Engine.AssignWorker(env.Ctx, cancelled.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetJobStatus(env.Ctx, cancelled.ID, domain.JobCancelled, "alice"); err != nil {
		t.Fatal(err)
	}
	conv2, err := env.Engine.Repo.GetConversationByJobWorker(env.Ctx, cancelled.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	msgs2, err := env.Engine.ListMessages(env.Ctx, conv2.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs2) != 2 || msgs2[1].Kind != domain.MessageSystemCancelled {
		t.Fatalf("expected cancellation notice, got %+v", msgs2)
	}
}

func TestDeleteJobCascades(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Short gig")
	conv, err := env.Engine.GetOrCreateConversation(env.Ctx, j.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendMessage(env.Ctx, conv.ID, "bob", "hi there"); err != nil {
		t.Fatal(err)
	}

	if err := env.Engine.DeleteJob(env.Ctx, j.ID, "bob"); err == nil {
		t.Fatalf("expected non-owner delete to fail")
	}
	if err := env.Engine.DeleteJob(env.Ctx, j.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetJob(env.Ctx, j.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := env.Engine.Repo.GetConversation(env.Ctx, conv.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected conversation cascade, got %v", err)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env, "alice", "Evented job")
	if _, err := env.Engine.AssignWorker(env.Ctx, j.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetJobStatus(env.Ctx, j.ID, domain.JobCompleted, "alice"); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, j.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 3 {
		t.Fatalf("expected created, assigned and completed events, got %d", count)
	}
}
