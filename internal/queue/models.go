package queue

import (
	"time"

	"outbound-dialer/internal/calls"
)

// CallQueue is an ordered dialing list.
//
// Invariants:
// - Status == completed implies every item is completed or skipped (when driven by a Session).
// - 0 <= CurrentIndex <= len(Items). CurrentIndex points past the last handed-out item.
// - WorkspaceID is required on every queue.
type CallQueue struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Name        string `json:"name" db:"name"`

	Status   Status   `json:"status" db:"status"`
	Settings Settings `json:"settings" db:"settings"`

	Items        []QueueItem `json:"items"`
	CurrentIndex int         `json:"current_index" db:"current_index"`

	// CurrentItemID is the item whose call is in progress or awaiting retry.
	CurrentItemID string `json:"current_item_id,omitempty" db:"current_item_id"`

	ParallelDialingEnabled bool     `json:"parallel_dialing_enabled" db:"parallel_dialing_enabled"`
	ParallelDialingActive  bool     `json:"parallel_dialing_active" db:"parallel_dialing_active"`
	ParallelCurrentBatch   []string `json:"parallel_current_batch,omitempty"`
	ParallelActiveCalls    []string `json:"parallel_active_calls,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// QueueItem is one contact's place in a queue.
// Attempts never decreases. Status moves pending -> calling -> completed|skipped,
// and only Requeue moves a terminal item back to pending.
type QueueItem struct {
	ID      string        `json:"id" db:"id"`
	Contact calls.Contact `json:"contact"`

	Status      ItemStatus `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	LastOutcome Outcome    `json:"last_outcome,omitempty" db:"last_outcome"`
	Note        string     `json:"note,omitempty" db:"note"`

	History []Attempt `json:"history,omitempty"`
}

// Attempt is one recorded call result for an item.
type Attempt struct {
	Outcome Outcome   `json:"outcome"`
	Note    string    `json:"note,omitempty"`
	LegID   string    `json:"leg_id,omitempty"`
	At      time.Time `json:"at"`
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCalling   ItemStatus = "calling"
	ItemCompleted ItemStatus = "completed"
	ItemSkipped   ItemStatus = "skipped"
)

func (s ItemStatus) Terminal() bool { return s == ItemCompleted || s == ItemSkipped }

type Outcome string

const (
	OutcomeNone          Outcome = ""
	OutcomeConnected     Outcome = "connected"
	OutcomeNoAnswer      Outcome = "no-answer"
	OutcomeVoicemail     Outcome = "voicemail"
	OutcomeBusy          Outcome = "busy"
	OutcomeWrongNumber   Outcome = "wrong-number"
	OutcomeNotInterested Outcome = "not-interested"
	OutcomeDNC           Outcome = "dnc"
)

// NoteVoicemailSkipped is the note on items skipped automatically on voicemail.
const NoteVoicemailSkipped = "Voicemail - auto-skipped"

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeConnected, OutcomeNoAnswer, OutcomeVoicemail, OutcomeBusy,
		OutcomeWrongNumber, OutcomeNotInterested, OutcomeDNC:
		return true
	default:
		return false
	}
}

// Settings configures how a queue advances. Delays are milliseconds to match
// what clients send; use the helpers for durations.
type Settings struct {
	MaxAttempts             int  `json:"max_attempts" yaml:"max_attempts"`
	AutoAdvance             bool `json:"auto_advance" yaml:"auto_advance"`
	AutoAdvanceDelayMs      int  `json:"auto_advance_delay_ms" yaml:"auto_advance_delay_ms"`
	AutoSkipVoicemail       bool `json:"auto_skip_voicemail" yaml:"auto_skip_voicemail"`
	VoicemailSkipDelayMs    int  `json:"voicemail_skip_delay_ms" yaml:"voicemail_skip_delay_ms"`
	ParallelDialingMaxLines int  `json:"parallel_dialing_max_lines" yaml:"parallel_dialing_max_lines"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxAttempts:             3,
		AutoAdvance:             true,
		AutoAdvanceDelayMs:      3000,
		AutoSkipVoicemail:       false,
		VoicemailSkipDelayMs:    0,
		ParallelDialingMaxLines: 3,
	}
}

// Validate checks settings a client may submit.
func (s Settings) Validate() error {
	if s.MaxAttempts < 1 {
		return invalidf("max_attempts must be >= 1, got %d", s.MaxAttempts)
	}
	if s.AutoAdvanceDelayMs < 0 || s.VoicemailSkipDelayMs < 0 {
		return invalidf("delays must be >= 0")
	}
	if s.ParallelDialingMaxLines < 1 {
		return invalidf("parallel_dialing_max_lines must be >= 1, got %d", s.ParallelDialingMaxLines)
	}
	return nil
}

// Progress is derived from the item list on every call; it is never stored.
type Progress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Skipped   int     `json:"skipped"`
	Remaining int     `json:"remaining"`
	Percent   float64 `json:"percent_complete"`
}
