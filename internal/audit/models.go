package audit

import "time"

// Event is an immutable, append-only record of queue activity.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - Recording is best-effort; dialing never blocks on audit failures.
type Event struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`

	Type EventType `json:"type"`

	// ActorUserID is the agent who caused the event; empty for automatic actions
	// (auto-advance, provider callbacks).
	ActorUserID string `json:"actor_user_id,omitempty"`

	QueueID string `json:"queue_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	CallSID string `json:"call_sid,omitempty"`
	BatchID string `json:"batch_id,omitempty"`

	Message string `json:"message,omitempty"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventQueueStarted   EventType = "queue_started"
	EventQueuePaused    EventType = "queue_paused"
	EventQueueResumed   EventType = "queue_resumed"
	EventQueueCompleted EventType = "queue_completed"
	EventCallPlaced     EventType = "call_placed"
	EventCallEnded      EventType = "call_ended"
	EventBatchWon       EventType = "batch_won"
	EventItemSkipped    EventType = "item_skipped"
	EventItemRequeued   EventType = "item_requeued"
	EventDisposition    EventType = "disposition_set"
)
