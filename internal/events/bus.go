package events

import (
	"sync"

	"gigboard/internal/domain"
)

// MessageInserted is published after a message insert commits. It carries
// enough participant context for a subscriber to decide whether the event is
// addressed to it without a store round trip.
type MessageInserted struct {
	Message  domain.Message
	JobID    string
	JobTitle string
	PosterID string
	WorkerID string
}

// JobTransitioned is published after a job status change commits.
type JobTransitioned struct {
	Job  domain.Job
	From string
	To   string
}

// Bus is a small in-process publish/subscribe channel. Subscribers get a
// buffered channel and an unsubscribe func; delivery never blocks the
// publisher — a subscriber that falls behind loses events and is expected to
// refetch from the store.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan any
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan any)}
}

const subscriberBuffer = 64

// Subscribe registers a listener for all bus events. Callers filter by type
// and addressing themselves.
func (b *Bus) Subscribe() (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan any, subscriberBuffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish fans the event out to every subscriber, dropping it for any whose
// buffer is full.
func (b *Bus) Publish(evt any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Participants returns the two user ids party to the conversation the
// message belongs to.
func (e MessageInserted) Participants() (posterID, workerID string) {
	return e.PosterID, e.WorkerID
}

// AddressedTo reports whether the event concerns the given user as a
// conversation participant.
func (e MessageInserted) AddressedTo(userID string) bool {
	return e.PosterID == userID || e.WorkerID == userID
}
