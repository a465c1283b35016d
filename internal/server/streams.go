package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"gigboard/internal/engine"
	"gigboard/internal/events"
)

// InboxEvent is one live inbox update pushed over SSE.
type InboxEvent struct {
	ConversationID string          `json:"conversation_id"`
	JobID          string          `json:"job_id"`
	JobTitle       string          `json:"job_title"`
	Message        MessageResponse `json:"message"`
	Mine           bool            `json:"mine"`
}

// registerStreams exposes the live views as server-sent events. Delivery is
// best-effort on top of the in-process bus: a dropped event is recovered by
// refetching the snapshot endpoints.
func registerStreams(api huma.API, e engine.Engine) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-conversation",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}/stream",
		Summary:     "Stream new conversation messages",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, map[string]any{
		"message": MessageResponse{},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}, send sse.Sender) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return
		}
		// Participant check happens once up front; the conversation's member
		// set is immutable.
		if _, err := e.ListMessages(ctx, input.ID, userID); err != nil {
			return
		}
		ch, cancel := e.Bus.Subscribe()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				m, ok := evt.(events.MessageInserted)
				if !ok || m.Message.ConversationID != input.ID {
					continue
				}
				if err := send.Data(messageResponse(m.Message)); err != nil {
					return
				}
			}
		}
	})

	sse.Register(api, huma.Operation{
		OperationID: "stream-inbox",
		Method:      http.MethodGet,
		Path:        "/me/inbox/stream",
		Summary:     "Stream inbox updates for the caller",
	}, map[string]any{
		"inbox": InboxEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return
		}
		ch, cancel := e.Bus.Subscribe()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				m, ok := evt.(events.MessageInserted)
				if !ok || !m.AddressedTo(userID) {
					continue
				}
				update := InboxEvent{
					ConversationID: m.Message.ConversationID,
					JobID:          m.JobID,
					JobTitle:       m.JobTitle,
					Message:        messageResponse(m.Message),
					Mine:           m.Message.SenderID == userID,
				}
				if err := send.Data(update); err != nil {
					return
				}
			}
		}
	})
}
