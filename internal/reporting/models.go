package reporting

import (
	"time"

	"outbound-dialer/internal/queue"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// QueueSummaryRequest asks for the outcome summary of one queue.
// Workspace isolation: WorkspaceID is required. A zero Range counts every attempt.
type QueueSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	QueueID     string    `json:"queue_id"`
	Range       TimeRange `json:"range"`
}

// QueueSummary aggregates item states and call attempts of a queue.
type QueueSummary struct {
	WorkspaceID string         `json:"workspace_id"`
	QueueID     string         `json:"queue_id"`
	Name        string         `json:"name"`
	Status      queue.Status   `json:"status"`
	Progress    queue.Progress `json:"progress"`

	Items map[queue.ItemStatus]int `json:"items"`
	// FinalOutcomes counts the latest outcome of every terminal item.
	FinalOutcomes map[queue.Outcome]int `json:"final_outcomes"`

	// Attempts counts calls recorded in Range, by outcome.
	Attempts        int                   `json:"attempts"`
	AttemptOutcomes map[queue.Outcome]int `json:"attempt_outcomes"`
	Connected       int                   `json:"connected"`

	ConnectionRate     float64 `json:"connection_rate"`
	AttemptsPerContact float64 `json:"attempts_per_contact"`

	// VoicemailSkipped counts items skipped automatically on voicemail.
	VoicemailSkipped int `json:"voicemail_skipped"`
}
