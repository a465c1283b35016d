package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigboard/internal/config"
	"gigboard/internal/domain"
	"gigboard/internal/engine/guard"
	"gigboard/internal/events"
	"gigboard/internal/repo"
)

// Engine owns the job lifecycle, the per-applicant conversations and the
// rating gate. Every state change runs in its own transaction; the audit
// event lands in the same transaction, and live subscribers hear about it on
// the bus only after commit.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    *events.Bus
	Config *config.Config
	Now    func() time.Time
	Log    *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Bus:    events.NewBus(),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.Default()
}

// JobCreateOptions are parameters for posting a job.
type JobCreateOptions struct {
	Title       string
	Description string
	Price       int
	Urgency     string
	Location    string
	Category    string
	OwnerID     string
}

func validUrgency(u string) bool {
	switch u {
	case domain.UrgencyFlexible, domain.UrgencyThisWeek, domain.UrgencyThreeDays, domain.UrgencyToday, domain.UrgencyASAP:
		return true
	}
	return false
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if e.Config == nil {
		return domain.Job{}, errors.New("config not loaded")
	}
	if opts.OwnerID == "" {
		return domain.Job{}, guard.UnauthenticatedError{}
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Job{}, guard.ValidationError{Field: "title", Reason: "title is required"}
	}
	if max := e.Config.Limits.MaxTitleLen; max > 0 && len(opts.Title) > max {
		return domain.Job{}, guard.ValidationError{Field: "title", Reason: "title is too long"}
	}
	if opts.Price < 0 {
		return domain.Job{}, guard.ValidationError{Field: "price", Reason: "price must not be negative"}
	}
	if max := e.Config.Limits.MaxPrice; max > 0 && opts.Price > max {
		return domain.Job{}, guard.ValidationError{Field: "price", Reason: "price exceeds the marketplace cap"}
	}
	if opts.Urgency == "" {
		opts.Urgency = domain.UrgencyFlexible
	}
	if !validUrgency(opts.Urgency) {
		return domain.Job{}, guard.ValidationError{Field: "urgency", Reason: "unknown urgency"}
	}
	if strings.TrimSpace(opts.Location) == "" {
		return domain.Job{}, guard.ValidationError{Field: "location", Reason: "location is required"}
	}
	if opts.Category != "" && !e.Config.KnownCategory(opts.Category) {
		return domain.Job{}, guard.ValidationError{Field: "category", Reason: "unknown category"}
	}

	now := e.now().UTC().Format(time.RFC3339)
	j := domain.Job{
		ID:          uuid.New().String(),
		Title:       opts.Title,
		Description: opts.Description,
		Price:       opts.Price,
		Urgency:     opts.Urgency,
		Location:    strings.TrimSpace(opts.Location),
		Category:    optionalString(opts.Category),
		Status:      domain.JobOpen,
		OwnerID:     opts.OwnerID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureUser(ctx, tx, j.OwnerID, ""); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.created", "job", j.ID, j.OwnerID, events.EventPayload{"title": j.Title, "price": j.Price}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// DeleteJob removes a job and, via foreign keys, its conversations, messages
// and ratings. Owner only.
func (e Engine) DeleteJob(ctx context.Context, jobID, callerID string) error {
	if callerID == "" {
		return guard.UnauthenticatedError{}
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.OwnerID != callerID {
		return guard.UnauthorizedError{Reason: "only the job owner can delete a job"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteJobTx(ctx, tx, jobID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "job.deleted", "job", jobID, callerID, events.EventPayload{"title": j.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignWorker binds one applicant to an open job. The status flip is a
// single conditional update, so a concurrent second assign loses cleanly.
// The conversation and its "you've been selected" notice are best-effort:
// their failure is logged and never unwinds the transition.
func (e Engine) AssignWorker(ctx context.Context, jobID, workerID, callerID string) (domain.Job, error) {
	if callerID == "" {
		return domain.Job{}, guard.UnauthenticatedError{}
	}
	if workerID == "" {
		return domain.Job{}, guard.ValidationError{Field: "worker_id", Reason: "worker is required"}
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.OwnerID != callerID {
		return domain.Job{}, guard.UnauthorizedError{Reason: "only the job owner can assign a worker"}
	}
	if workerID == j.OwnerID {
		return domain.Job{}, guard.ValidationError{Field: "worker_id", Reason: "a job cannot be assigned to its owner"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, workerID, ""); err != nil {
		return domain.Job{}, err
	}
	ok, err := e.Repo.AssignJobTx(ctx, tx, jobID, workerID)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		cur, rerr := e.Repo.GetJob(ctx, jobID)
		if rerr != nil {
			return domain.Job{}, rerr
		}
		return domain.Job{}, guard.InvalidTransitionError{From: cur.Status, To: domain.JobInProgress}
	}
	if err := e.Events.Append(ctx, tx, "job.assigned", "job", jobID, callerID, events.EventPayload{"worker_id": workerID}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}

	from := j.Status
	j.Status = domain.JobInProgress
	j.AssignedWorkerID = &workerID
	e.Bus.Publish(events.JobTransitioned{Job: j, From: from, To: j.Status})

	conv, err := e.GetOrCreateConversation(ctx, jobID, workerID)
	if err != nil {
		e.logger().Printf("assign %s: ensure conversation failed: %v", jobID, err)
		return j, nil
	}
	e.appendSystemMessage(ctx, j, conv, callerID, domain.MessageSystemAssigned, e.Config.SystemMessages.Assigned)
	return j, nil
}

// SetJobStatus handles the completed, cancelled and open (reopen) targets.
func (e Engine) SetJobStatus(ctx context.Context, jobID, target, callerID string) (domain.Job, error) {
	if callerID == "" {
		return domain.Job{}, guard.UnauthenticatedError{}
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	switch target {
	case domain.JobCompleted:
		return e.completeJob(ctx, j, callerID)
	case domain.JobCancelled:
		return e.cancelJob(ctx, j, callerID)
	case domain.JobOpen:
		return e.reopenJob(ctx, j, callerID)
	default:
		return domain.Job{}, guard.ValidationError{Field: "status", Reason: "unknown target status"}
	}
}

func (e Engine) completeJob(ctx context.Context, j domain.Job, callerID string) (domain.Job, error) {
	assigned := j.Bound() && *j.AssignedWorkerID == callerID
	if callerID != j.OwnerID && !assigned {
		return domain.Job{}, guard.UnauthorizedError{Reason: "only the job owner or the assigned worker can complete a job"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.CompleteJobTx(ctx, tx, j.ID, now)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		cur, rerr := e.Repo.GetJob(ctx, j.ID)
		if rerr != nil {
			return domain.Job{}, rerr
		}
		return domain.Job{}, guard.InvalidTransitionError{From: cur.Status, To: domain.JobCompleted}
	}
	if err := e.Events.Append(ctx, tx, "job.completed", "job", j.ID, callerID, events.EventPayload{}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}

	from := j.Status
	j.Status = domain.JobCompleted
	j.CompletedAt = &now
	e.Bus.Publish(events.JobTransitioned{Job: j, From: from, To: j.Status})
	e.notifyAssignedWorker(ctx, j, callerID, domain.MessageSystemCompleted, e.Config.SystemMessages.Completed)
	return j, nil
}

// cancelJob allows cancelling from open and in_progress only; cancelling a
// completed or already cancelled job is rejected.
func (e Engine) cancelJob(ctx context.Context, j domain.Job, callerID string) (domain.Job, error) {
	if callerID != j.OwnerID {
		return domain.Job{}, guard.UnauthorizedError{Reason: "only the job owner can cancel a job"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.CancelJobTx(ctx, tx, j.ID)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		cur, rerr := e.Repo.GetJob(ctx, j.ID)
		if rerr != nil {
			return domain.Job{}, rerr
		}
		return domain.Job{}, guard.InvalidTransitionError{From: cur.Status, To: domain.JobCancelled}
	}
	if err := e.Events.Append(ctx, tx, "job.cancelled", "job", j.ID, callerID, events.EventPayload{"had_worker": j.Bound()}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}

	hadWorker := j
	from := j.Status
	j.Status = domain.JobCancelled
	j.AssignedWorkerID = nil
	e.Bus.Publish(events.JobTransitioned{Job: j, From: from, To: j.Status})
	if hadWorker.Bound() {
		e.notifyAssignedWorker(ctx, hadWorker, callerID, domain.MessageSystemCancelled, e.Config.SystemMessages.Cancelled)
	}
	return j, nil
}

func (e Engine) reopenJob(ctx context.Context, j domain.Job, callerID string) (domain.Job, error) {
	if callerID != j.OwnerID {
		return domain.Job{}, guard.UnauthorizedError{Reason: "only the job owner can reopen a job"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.ReopenJobTx(ctx, tx, j.ID)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		cur, rerr := e.Repo.GetJob(ctx, j.ID)
		if rerr != nil {
			return domain.Job{}, rerr
		}
		return domain.Job{}, guard.InvalidTransitionError{From: cur.Status, To: domain.JobOpen}
	}
	if err := e.Events.Append(ctx, tx, "job.reopened", "job", j.ID, callerID, events.EventPayload{"from": j.Status}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}

	from := j.Status
	j.Status = domain.JobOpen
	j.AssignedWorkerID = nil
	j.CompletedAt = nil
	e.Bus.Publish(events.JobTransitioned{Job: j, From: from, To: j.Status})
	return j, nil
}

// notifyAssignedWorker drops a lifecycle notice into the assigned worker's
// conversation. The job row has already committed; a failure here is logged
// and does not unwind the transition.
func (e Engine) notifyAssignedWorker(ctx context.Context, j domain.Job, actorID, kind, template string) {
	if !j.Bound() {
		return
	}
	conv, err := e.Repo.GetConversationByJobWorker(ctx, j.ID, *j.AssignedWorkerID)
	if err != nil {
		e.logger().Printf("job %s: lookup conversation for notice failed: %v", j.ID, err)
		return
	}
	e.appendSystemMessage(ctx, j, conv, actorID, kind, template)
}

func (e Engine) appendSystemMessage(ctx context.Context, j domain.Job, conv domain.Conversation, actorID, kind, template string) {
	content := template
	if strings.Contains(template, "%s") {
		content = strings.Replace(template, "%s", j.Title, 1)
	}
	if _, err := e.insertMessage(ctx, conv, j, actorID, kind, content); err != nil {
		e.logger().Printf("job %s: system message failed: %v", j.ID, err)
	}
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
