package domain

// Job statuses.
const (
	JobOpen       = "open"
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobCancelled  = "cancelled"
)

// Urgency buckets a poster can pick from.
const (
	UrgencyFlexible  = "flexible"
	UrgencyThisWeek  = "this_week"
	UrgencyThreeDays = "three_days"
	UrgencyToday     = "today"
	UrgencyASAP      = "asap"
)

// Message kinds. Lifecycle transitions write system messages with an explicit
// kind; clients never have to sniff content to tell them apart.
const (
	MessageUserText        = "user_text"
	MessageSystemAssigned  = "system_assigned"
	MessageSystemCompleted = "system_completed"
	MessageSystemCancelled = "system_cancelled"
)

// Rating directions.
const (
	RatingPosterToHelper = "poster_to_helper"
	RatingHelperToPoster = "helper_to_poster"
)

type Job struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	Price            int     `json:"price"`
	Urgency          string  `json:"urgency" enum:"flexible,this_week,three_days,today,asap"`
	Location         string  `json:"location"`
	Category         *string `json:"category,omitempty"`
	Status           string  `json:"status" enum:"open,in_progress,completed,cancelled"`
	OwnerID          string  `json:"owner_id"`
	AssignedWorkerID *string `json:"assigned_worker_id,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// Bound reports whether the job currently has an assigned worker.
func (j Job) Bound() bool {
	return j.AssignedWorkerID != nil && *j.AssignedWorkerID != ""
}

type Conversation struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	WorkerID  string `json:"worker_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind" enum:"user_text,system_assigned,system_completed,system_cancelled"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Rating struct {
	ID        string  `json:"id"`
	JobID     string  `json:"job_id"`
	RaterID   string  `json:"rater_id"`
	RatedID   string  `json:"rated_id"`
	Rating    int     `json:"rating" minimum:"1" maximum:"5"`
	Review    *string `json:"review,omitempty"`
	Direction string  `json:"direction" enum:"poster_to_helper,helper_to_poster"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Applicant pairs a conversation with its worker and the latest message, if
// any. Drives the poster's applicant-selection surface.
type Applicant struct {
	Conversation Conversation `json:"conversation"`
	WorkerID     string       `json:"worker_id"`
	LastMessage  *Message     `json:"last_message,omitempty"`
}

// Thread is one inbox row: the latest message of a conversation the user
// participates in, as poster or as worker.
type Thread struct {
	Conversation Conversation `json:"conversation"`
	JobID        string       `json:"job_id"`
	JobTitle     string       `json:"job_title"`
	PosterID     string       `json:"poster_id"`
	LastMessage  Message      `json:"last_message"`
	Mine         bool         `json:"mine"`
}

// Event is one audit log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
