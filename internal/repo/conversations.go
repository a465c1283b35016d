package repo

import (
	"context"
	"database/sql"

	"gigboard/internal/domain"
)

const messageColumns = `id,conversation_id,sender_id,kind,content,created_at`

func scanMessage(scan func(dest ...any) error) (domain.Message, error) {
	var m domain.Message
	err := scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// InsertConversationIfAbsent inserts the (job, worker) conversation unless one
// already exists. The UNIQUE(job_id, worker_id) constraint makes a concurrent
// double-apply collapse into a no-op; callers re-read afterwards. Returns
// whether a row was created.
func (r Repo) InsertConversationIfAbsent(ctx context.Context, tx *sql.Tx, c domain.Conversation) (bool, error) {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	res, err := exec(
		`INSERT INTO conversations(id,job_id,worker_id,created_at) VALUES (?,?,?,?)
ON CONFLICT(job_id,worker_id) DO NOTHING`,
		c.ID, c.JobID, c.WorkerID, c.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,job_id,worker_id,created_at FROM conversations WHERE id=?`, id).
		Scan(&c.ID, &c.JobID, &c.WorkerID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetConversationByJobWorker(ctx context.Context, jobID, workerID string) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,job_id,worker_id,created_at FROM conversations WHERE job_id=? AND worker_id=?`, jobID, workerID).
		Scan(&c.ID, &c.JobID, &c.WorkerID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertMessageTx(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages(id,conversation_id,sender_id,kind,content,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.ConversationID, m.SenderID, m.Kind, m.Content, m.CreatedAt)
	return err
}

// ListMessages returns the full conversation snapshot. The id tie-break keeps
// the order total even when two messages share a timestamp.
func (r Repo) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id=? ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// LatestMessage returns the newest message in a conversation, or ErrNotFound.
func (r Repo) LatestMessage(ctx context.Context, conversationID string) (domain.Message, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID)
	return scanMessage(row.Scan)
}

// ListApplicants returns every conversation on a job together with its latest
// message, newest activity first; conversations with no messages come last.
func (r Repo) ListApplicants(ctx context.Context, jobID string) ([]domain.Applicant, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT c.id, c.job_id, c.worker_id, c.created_at,
       m.id, m.sender_id, m.kind, m.content, m.created_at
FROM conversations c
LEFT JOIN messages m ON m.id = (
    SELECT m2.id FROM messages m2
    WHERE m2.conversation_id = c.id
    ORDER BY m2.created_at DESC, m2.id DESC LIMIT 1
)
WHERE c.job_id = ?
ORDER BY COALESCE(m.created_at, c.created_at) DESC, c.id DESC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Applicant
	for rows.Next() {
		var a domain.Applicant
		var msgID, senderID, kind, content, msgCreatedAt sql.NullString
		if err := rows.Scan(&a.Conversation.ID, &a.Conversation.JobID, &a.Conversation.WorkerID, &a.Conversation.CreatedAt,
			&msgID, &senderID, &kind, &content, &msgCreatedAt); err != nil {
			return nil, err
		}
		a.WorkerID = a.Conversation.WorkerID
		if msgID.Valid {
			a.LastMessage = &domain.Message{
				ID:             msgID.String,
				ConversationID: a.Conversation.ID,
				SenderID:       senderID.String,
				Kind:           kind.String,
				Content:        content.String,
				CreatedAt:      msgCreatedAt.String,
			}
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListThreads returns one row per conversation the user participates in, as
// job poster or as worker, carrying the latest message. Conversations without
// messages are omitted; ordering is newest message first.
func (r Repo) ListThreads(ctx context.Context, userID string) ([]domain.Thread, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT c.id, c.job_id, c.worker_id, c.created_at,
       j.title, j.owner_id,
       m.id, m.sender_id, m.kind, m.content, m.created_at
FROM conversations c
JOIN jobs j ON j.id = c.job_id
JOIN messages m ON m.id = (
    SELECT m2.id FROM messages m2
    WHERE m2.conversation_id = c.id
    ORDER BY m2.created_at DESC, m2.id DESC LIMIT 1
)
WHERE j.owner_id = ? OR c.worker_id = ?
ORDER BY m.created_at DESC, m.id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Thread
	for rows.Next() {
		var t domain.Thread
		if err := rows.Scan(&t.Conversation.ID, &t.Conversation.JobID, &t.Conversation.WorkerID, &t.Conversation.CreatedAt,
			&t.JobTitle, &t.PosterID,
			&t.LastMessage.ID, &t.LastMessage.SenderID, &t.LastMessage.Kind, &t.LastMessage.Content, &t.LastMessage.CreatedAt); err != nil {
			return nil, err
		}
		t.JobID = t.Conversation.JobID
		t.LastMessage.ConversationID = t.Conversation.ID
		t.Mine = t.LastMessage.SenderID == userID
		res = append(res, t)
	}
	return res, rows.Err()
}
