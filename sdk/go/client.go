package gigboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigboard HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model.
type Job struct {
	ID               string `json:"id"`
	OwnerID          string `json:"owner_id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Price            int    `json:"price"`
	Urgency          string `json:"urgency"`
	Location         string `json:"location"`
	Category         string `json:"category,omitempty"`
	Status           string `json:"status"`
	AssignedWorkerID string `json:"assigned_worker_id,omitempty"`
	CreatedAt        string `json:"created_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

// Conversation is one (job, worker) chat.
type Conversation struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	WorkerID  string `json:"worker_id"`
	CreatedAt string `json:"created_at"`
}

// Message is one chat entry; Kind distinguishes user text from system notices.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

// Applicant is one applicant row as the poster sees it.
type Applicant struct {
	Conversation Conversation `json:"conversation"`
	WorkerID     string       `json:"worker_id"`
	LastMessage  *Message     `json:"last_message,omitempty"`
}

// Rating is one submitted rating.
type Rating struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	RaterID   string `json:"rater_id"`
	RatedID   string `json:"rated_id"`
	Rating    int    `json:"rating"`
	Review    string `json:"review,omitempty"`
	Direction string `json:"direction"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry. PayloadJSON carries the raw payload document.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	PayloadJSON string `json:"payload_json,omitempty"`
}

// Inbox is the digest of conversations with new activity.
type Inbox struct {
	Entries []InboxEntry `json:"entries"`
	Unread  int          `json:"unread"`
}

// InboxEntry summarizes the latest activity in one conversation.
type InboxEntry struct {
	ConversationID string `json:"conversation_id"`
	JobID          string `json:"job_id"`
	JobTitle       string `json:"job_title"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind"`
	Preview        string `json:"preview"`
	At             string `json:"at"`
	Unread         bool   `json:"unread"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedJobs wraps job listings with cursors.
type PaginatedJobs struct {
	Items      []Job  `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// JobListOptions filters the job listing.
type JobListOptions struct {
	Status   string
	OwnerID  string
	WorkerID string
	Category string
	Limit    int
	Cursor   string
}

// CreateJob posts a job.
func (c *Client) CreateJob(ctx context.Context, title, description, location, category, urgency string, price int) (Job, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"location":    location,
		"category":    category,
		"urgency":     urgency,
		"price":       price,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs", body, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListJobs returns a page of jobs.
func (c *Client) ListJobs(ctx context.Context, opts JobListOptions) (PaginatedJobs, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.OwnerID != "" {
		q.Set("owner_id", opts.OwnerID)
	}
	if opts.WorkerID != "" {
		q.Set("worker_id", opts.WorkerID)
	}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	endpoint := "jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedJobs
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AssignWorker binds a worker to an open job. Only the poster may call it.
func (c *Client) AssignWorker(ctx context.Context, jobID, workerID string) (Job, error) {
	body := map[string]any{"worker_id": workerID}
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs/"+url.PathEscape(jobID)+"/assign", body, &resp)
	return resp, err
}

// SetJobStatus requests a lifecycle transition (open, completed, cancelled).
func (c *Client) SetJobStatus(ctx context.Context, jobID, status string) (Job, error) {
	body := map[string]any{"status": status}
	var resp Job
	err := c.do(ctx, http.MethodPatch, "jobs/"+url.PathEscape(jobID)+"/status", body, &resp)
	return resp, err
}

// DeleteJob removes a job and everything attached to it.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "jobs/"+url.PathEscape(jobID), nil, nil)
}

// Apply opens (or returns) the caller's conversation on a job.
func (c *Client) Apply(ctx context.Context, jobID string) (Conversation, error) {
	var resp Conversation
	err := c.do(ctx, http.MethodPost, "jobs/"+url.PathEscape(jobID)+"/apply", nil, &resp)
	return resp, err
}

// Applicants lists applicant conversations for the caller's job.
func (c *Client) Applicants(ctx context.Context, jobID string) ([]Applicant, error) {
	var resp []Applicant
	err := c.do(ctx, http.MethodGet, "jobs/"+url.PathEscape(jobID)+"/applicants", nil, &resp)
	return resp, err
}

// SendMessage appends a message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (Message, error) {
	body := map[string]any{"content": content}
	var resp Message
	err := c.do(ctx, http.MethodPost, "conversations/"+url.PathEscape(conversationID)+"/messages", body, &resp)
	return resp, err
}

// Messages lists a conversation's messages, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp []Message
	err := c.do(ctx, http.MethodGet, "conversations/"+url.PathEscape(conversationID)+"/messages", nil, &resp)
	return resp, err
}

// Inbox returns the caller's message digest.
func (c *Client) Inbox(ctx context.Context) (Inbox, error) {
	var resp Inbox
	err := c.do(ctx, http.MethodGet, "me/inbox", nil, &resp)
	return resp, err
}

// MarkInboxRead clears the caller's unread counter.
func (c *Client) MarkInboxRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "me/inbox/read", nil, nil)
}

// SubmitRating rates the counterpart on a completed job.
func (c *Client) SubmitRating(ctx context.Context, jobID, direction string, rating int, review string) (Rating, error) {
	body := map[string]any{
		"rating":    rating,
		"review":    review,
		"direction": direction,
	}
	var resp Rating
	err := c.do(ctx, http.MethodPost, "jobs/"+url.PathEscape(jobID)+"/ratings", body, &resp)
	return resp, err
}

// JobRatings lists the ratings attached to a job.
func (c *Client) JobRatings(ctx context.Context, jobID string) ([]Rating, error) {
	var resp []Rating
	err := c.do(ctx, http.MethodGet, "jobs/"+url.PathEscape(jobID)+"/ratings", nil, &resp)
	return resp, err
}

// UserRatings lists ratings received by a user.
func (c *Client) UserRatings(ctx context.Context, userID string) ([]Rating, error) {
	var resp []Rating
	err := c.do(ctx, http.MethodGet, "users/"+url.PathEscape(userID)+"/ratings", nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
