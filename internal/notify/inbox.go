// Package notify keeps a per-user inbox digest fed by the in-process event
// bus. The digest is ephemeral: it holds one entry per conversation with the
// latest message and an unread flag, and a restarted process rebuilds its view
// from the message store on demand.
package notify

import (
	"context"
	"sort"
	"sync"

	"gigboard/internal/events"
)

// Entry is one inbox line: the latest activity in a conversation as seen by a
// particular user.
type Entry struct {
	ConversationID string `json:"conversation_id"`
	JobID          string `json:"job_id"`
	JobTitle       string `json:"job_title"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind"`
	Preview        string `json:"preview"`
	At             string `json:"at" format:"date-time"`
	Unread         bool   `json:"unread"`
}

// Inbox aggregates message events into per-user digests. A burst of messages
// in one conversation collapses into a single entry that carries the latest
// message; the unread counter only moves when a conversation flips from read
// to unread.
type Inbox struct {
	mu     sync.Mutex
	users  map[string]map[string]*Entry
	unread map[string]int
}

func NewInbox() *Inbox {
	return &Inbox{
		users:  make(map[string]map[string]*Entry),
		unread: make(map[string]int),
	}
}

// Run consumes bus events until the context is cancelled or the subscription
// channel closes. Meant to be started once per process.
func (in *Inbox) Run(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if m, ok := evt.(events.MessageInserted); ok {
				in.Observe(m)
			}
		}
	}
}

// Observe folds one message event into the digests of both participants. The
// sender's own entry is updated but stays read.
func (in *Inbox) Observe(evt events.MessageInserted) {
	posterID, workerID := evt.Participants()
	in.record(posterID, evt)
	in.record(workerID, evt)
}

func (in *Inbox) record(userID string, evt events.MessageInserted) {
	if userID == "" {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	convs := in.users[userID]
	if convs == nil {
		convs = make(map[string]*Entry)
		in.users[userID] = convs
	}
	mine := evt.Message.SenderID == userID
	cur, exists := convs[evt.Message.ConversationID]
	if exists && cur.Unread && mine {
		// Replying from elsewhere implies the thread was seen.
		in.unread[userID]--
	}
	if !mine && (!exists || !cur.Unread) {
		in.unread[userID]++
	}
	convs[evt.Message.ConversationID] = &Entry{
		ConversationID: evt.Message.ConversationID,
		JobID:          evt.JobID,
		JobTitle:       evt.JobTitle,
		SenderID:       evt.Message.SenderID,
		Kind:           evt.Message.Kind,
		Preview:        evt.Message.Content,
		At:             evt.Message.CreatedAt,
		Unread:         !mine,
	}
}

// Snapshot returns the user's digest, newest activity first, plus the unread
// conversation count.
func (in *Inbox) Snapshot(userID string) ([]Entry, int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	convs := in.users[userID]
	res := make([]Entry, 0, len(convs))
	for _, e := range convs {
		res = append(res, *e)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].At != res[j].At {
			return res[i].At > res[j].At
		}
		return res[i].ConversationID > res[j].ConversationID
	})
	return res, in.unread[userID]
}

// Unread returns the number of conversations with unseen activity.
func (in *Inbox) Unread(userID string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unread[userID]
}

// MarkAllRead clears the unread state for every conversation in the user's
// digest.
func (in *Inbox) MarkAllRead(userID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, e := range in.users[userID] {
		e.Unread = false
	}
	in.unread[userID] = 0
}
