package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigboard/internal/domain"
	"gigboard/internal/engine/guard"
	"gigboard/internal/events"
)

// GetOrCreateConversation is the worker's "apply" entry point: the first call
// creates the (job, worker) thread, every later call returns the same row.
// Safe under a double-submit; the uniqueness constraint decides the winner
// and both callers re-read the surviving row.
func (e Engine) GetOrCreateConversation(ctx context.Context, jobID, workerID string) (domain.Conversation, error) {
	if workerID == "" {
		return domain.Conversation{}, guard.UnauthenticatedError{}
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if workerID == j.OwnerID {
		return domain.Conversation{}, guard.ValidationError{Field: "worker_id", Reason: "the job owner cannot apply to their own job"}
	}
	if conv, err := e.Repo.GetConversationByJobWorker(ctx, jobID, workerID); err == nil {
		return conv, nil
	}

	c := domain.Conversation{
		ID:        uuid.New().String(),
		JobID:     jobID,
		WorkerID:  workerID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, workerID, ""); err != nil {
		return domain.Conversation{}, err
	}
	created, err := e.Repo.InsertConversationIfAbsent(ctx, tx, c)
	if err != nil {
		return domain.Conversation{}, err
	}
	if created {
		if err := e.Events.Append(ctx, tx, "conversation.created", "conversation", c.ID, workerID, events.EventPayload{"job_id": jobID}); err != nil {
			return domain.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Conversation{}, err
	}
	// Re-read: if a concurrent apply won the insert, return its row.
	return e.Repo.GetConversationByJobWorker(ctx, jobID, workerID)
}

// SendMessage appends a user message to a conversation the sender is a party
// to.
func (e Engine) SendMessage(ctx context.Context, conversationID, senderID, content string) (domain.Message, error) {
	if senderID == "" {
		return domain.Message{}, guard.UnauthenticatedError{}
	}
	conv, err := e.Repo.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	j, err := e.Repo.GetJob(ctx, conv.JobID)
	if err != nil {
		return domain.Message{}, err
	}
	if senderID != j.OwnerID && senderID != conv.WorkerID {
		return domain.Message{}, guard.UnauthorizedError{Reason: "only conversation participants can send messages"}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, guard.ValidationError{Field: "content", Reason: "message text is required"}
	}
	if max := e.Config.Limits.MaxMessageLen; max > 0 && len(content) > max {
		return domain.Message{}, guard.ValidationError{Field: "content", Reason: "message is too long"}
	}
	return e.insertMessage(ctx, conv, j, senderID, domain.MessageUserText, content)
}

// insertMessage writes the row plus its audit event, then tells the bus.
// System messages come through here as well; they differ only in kind.
func (e Engine) insertMessage(ctx context.Context, conv domain.Conversation, j domain.Job, senderID, kind, content string) (domain.Message, error) {
	m := domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Kind:           kind,
		Content:        content,
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMessageTx(ctx, tx, m); err != nil {
		return domain.Message{}, err
	}
	if err := e.Events.Append(ctx, tx, "message.sent", "message", m.ID, senderID, events.EventPayload{
		"conversation_id": conv.ID,
		"kind":            kind,
	}); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	e.Bus.Publish(events.MessageInserted{
		Message:  m,
		JobID:    j.ID,
		JobTitle: j.Title,
		PosterID: j.OwnerID,
		WorkerID: conv.WorkerID,
	})
	return m, nil
}

// ListMessages returns the conversation snapshot for a participant.
func (e Engine) ListMessages(ctx context.Context, conversationID, callerID string) ([]domain.Message, error) {
	if callerID == "" {
		return nil, guard.UnauthenticatedError{}
	}
	conv, err := e.Repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	j, err := e.Repo.GetJob(ctx, conv.JobID)
	if err != nil {
		return nil, err
	}
	if callerID != j.OwnerID && callerID != conv.WorkerID {
		return nil, guard.UnauthorizedError{Reason: "only conversation participants can read messages"}
	}
	return e.Repo.ListMessages(ctx, conversationID)
}

// ListApplicants returns every conversation on a job with its latest message.
// Poster only; applicants see their own thread through ListMessages.
func (e Engine) ListApplicants(ctx context.Context, jobID, callerID string) ([]domain.Applicant, error) {
	if callerID == "" {
		return nil, guard.UnauthenticatedError{}
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if callerID != j.OwnerID {
		return nil, guard.UnauthorizedError{Reason: "only the job owner can list applicants"}
	}
	return e.Repo.ListApplicants(ctx, jobID)
}

// Threads is the full-refetch notification view: one row per conversation
// the user is party to, newest activity first.
func (e Engine) Threads(ctx context.Context, userID string) ([]domain.Thread, error) {
	if userID == "" {
		return nil, guard.UnauthenticatedError{}
	}
	return e.Repo.ListThreads(ctx, userID)
}
