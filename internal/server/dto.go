package server

import (
	"gigboard/internal/config"
	"gigboard/internal/domain"
	"gigboard/internal/notify"
)

// Request payloads

type CreateJobRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Price       int     `json:"price" minimum:"0"`
	Urgency     *string `json:"urgency,omitempty" enum:"flexible,this_week,three_days,today,asap"`
	Location    string  `json:"location"`
	Category    *string `json:"category,omitempty"`
}

type AssignWorkerRequest struct {
	WorkerID string `json:"worker_id"`
}

type SetJobStatusRequest struct {
	Status string `json:"status" enum:"open,completed,cancelled"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type SubmitRatingRequest struct {
	Rating    int     `json:"rating" minimum:"1" maximum:"5"`
	Review    *string `json:"review,omitempty"`
	Direction string  `json:"direction" enum:"poster_to_helper,helper_to_poster"`
	RatedID   *string `json:"rated_id,omitempty"`
}

type CreateKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type JobResponse struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	Price            int     `json:"price"`
	Urgency          string  `json:"urgency"`
	Location         string  `json:"location"`
	Category         *string `json:"category,omitempty"`
	Status           string  `json:"status"`
	OwnerID          string  `json:"owner_id"`
	AssignedWorkerID *string `json:"assigned_worker_id,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type ConversationResponse struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	WorkerID  string `json:"worker_id"`
	CreatedAt string `json:"created_at"`
}

type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

type ApplicantResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	WorkerID     string               `json:"worker_id"`
	LastMessage  *MessageResponse     `json:"last_message,omitempty"`
}

type ThreadResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	JobID        string               `json:"job_id"`
	JobTitle     string               `json:"job_title"`
	PosterID     string               `json:"poster_id"`
	LastMessage  MessageResponse      `json:"last_message"`
	Mine         bool                 `json:"mine"`
}

type RatingResponse struct {
	ID        string  `json:"id"`
	JobID     string  `json:"job_id"`
	RaterID   string  `json:"rater_id"`
	RatedID   string  `json:"rated_id"`
	Rating    int     `json:"rating"`
	Review    *string `json:"review,omitempty"`
	Direction string  `json:"direction"`
	CreatedAt string  `json:"created_at"`
}

type InboxResponse struct {
	Entries []notify.Entry   `json:"entries"`
	Unread  int              `json:"unread"`
	Threads []ThreadResponse `json:"threads,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

type MarketplaceConfigResponse struct {
	Config *config.Config `json:"config"`
}

type paginatedJobs struct {
	Items      []JobResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Mappers

func jobResponse(j domain.Job) JobResponse {
	return JobResponse{
		ID:               j.ID,
		Title:            j.Title,
		Description:      j.Description,
		Price:            j.Price,
		Urgency:          j.Urgency,
		Location:         j.Location,
		Category:         j.Category,
		Status:           j.Status,
		OwnerID:          j.OwnerID,
		AssignedWorkerID: j.AssignedWorkerID,
		CompletedAt:      j.CompletedAt,
		CreatedAt:        j.CreatedAt,
	}
}

func mapJobs(jobs []domain.Job) []JobResponse {
	res := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, jobResponse(j))
	}
	return res
}

func conversationResponse(c domain.Conversation) ConversationResponse {
	return ConversationResponse{ID: c.ID, JobID: c.JobID, WorkerID: c.WorkerID, CreatedAt: c.CreatedAt}
}

func messageResponse(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Kind:           m.Kind,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func mapMessages(msgs []domain.Message) []MessageResponse {
	res := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, messageResponse(m))
	}
	return res
}

func applicantResponse(a domain.Applicant) ApplicantResponse {
	res := ApplicantResponse{
		Conversation: conversationResponse(a.Conversation),
		WorkerID:     a.WorkerID,
	}
	if a.LastMessage != nil {
		m := messageResponse(*a.LastMessage)
		res.LastMessage = &m
	}
	return res
}

func mapApplicants(items []domain.Applicant) []ApplicantResponse {
	res := make([]ApplicantResponse, 0, len(items))
	for _, a := range items {
		res = append(res, applicantResponse(a))
	}
	return res
}

func threadResponse(t domain.Thread) ThreadResponse {
	return ThreadResponse{
		Conversation: conversationResponse(t.Conversation),
		JobID:        t.JobID,
		JobTitle:     t.JobTitle,
		PosterID:     t.PosterID,
		LastMessage:  messageResponse(t.LastMessage),
		Mine:         t.Mine,
	}
}

func mapThreads(items []domain.Thread) []ThreadResponse {
	res := make([]ThreadResponse, 0, len(items))
	for _, t := range items {
		res = append(res, threadResponse(t))
	}
	return res
}

func ratingResponse(rt domain.Rating) RatingResponse {
	return RatingResponse{
		ID:        rt.ID,
		JobID:     rt.JobID,
		RaterID:   rt.RaterID,
		RatedID:   rt.RatedID,
		Rating:    rt.Rating,
		Review:    rt.Review,
		Direction: rt.Direction,
		CreatedAt: rt.CreatedAt,
	}
}

func mapRatings(items []domain.Rating) []RatingResponse {
	res := make([]RatingResponse, 0, len(items))
	for _, rt := range items {
		res = append(res, ratingResponse(rt))
	}
	return res
}

func keyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
