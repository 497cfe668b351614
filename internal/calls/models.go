package calls

import "time"

// CallState is the record of one outbound call leg.
//
// It is owned by a Machine; everything else sees copies returned by Machine.State
// or delivered to listeners.
type CallState struct {
	Status Status `json:"status"`

	// CallSID is the provider's identifier for the leg, empty until the provider accepts it.
	CallSID string `json:"call_sid,omitempty"`

	Target      Contact     `json:"target"`
	CallingMode CallingMode `json:"calling_mode"`
	FromNumber  string      `json:"from_number"`

	// ParallelGroupID ties legs of one parallel launch together.
	ParallelGroupID string `json:"parallel_group_id,omitempty"`
	TransferID      string `json:"transfer_id,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	AnsweredAt time.Time     `json:"answered_at,omitempty"`
	Duration   time.Duration `json:"duration"`

	// AnsweredBy is "human" or "machine" when the provider ran answering-machine detection.
	AnsweredBy string `json:"answered_by,omitempty"`
	// EndReason is the provider's reason for ending or failing the leg (busy, no-answer, ...).
	EndReason string `json:"end_reason,omitempty"`
}

// Contact is the dial target of a leg.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusRinging    Status = "ringing"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a leg in this status is finished.
func (s Status) Terminal() bool { return s == StatusEnded || s == StatusFailed }

// Live reports whether a leg in this status can still be hung up.
func (s Status) Live() bool {
	return s == StatusConnecting || s == StatusRinging || s == StatusActive
}

type CallingMode string

const (
	CallingModeBrowser CallingMode = "browser"
	CallingModePhone   CallingMode = "phone"
)

// ProviderEvent is a transport-layer signal about one leg.
type ProviderEvent struct {
	CallSID string    `json:"call_sid"`
	Kind    EventKind `json:"kind"`

	// Reason carries the provider's detail, e.g. "busy" on a disconnect.
	Reason string `json:"reason,omitempty"`
	// AnsweredBy is set on answered events when machine detection ran.
	AnsweredBy string `json:"answered_by,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

type EventKind string

const (
	EventRinging      EventKind = "ringing"
	EventAnswered     EventKind = "answered"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
)
