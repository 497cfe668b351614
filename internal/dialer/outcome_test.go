package dialer

import (
	"testing"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/queue"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeFromCall(t *testing.T) {
	tests := []struct {
		name string
		st   calls.CallState
		want queue.Outcome
	}{
		{"human answer", calls.CallState{AnsweredAt: t0, AnsweredBy: "human"}, queue.OutcomeConnected},
		{"answer without detection", calls.CallState{AnsweredAt: t0}, queue.OutcomeConnected},
		{"machine answer", calls.CallState{AnsweredAt: t0, AnsweredBy: "machine"}, queue.OutcomeVoicemail},
		{"busy", calls.CallState{Status: calls.StatusEnded, EndReason: "busy"}, queue.OutcomeBusy},
		{"busy in caps", calls.CallState{Status: calls.StatusFailed, EndReason: "USER_BUSY"}, queue.OutcomeBusy},
		{"no answer", calls.CallState{Status: calls.StatusEnded, EndReason: "no-answer"}, queue.OutcomeNoAnswer},
		{"transport failure", calls.CallState{Status: calls.StatusFailed, EndReason: "transport_failure"}, queue.OutcomeNoAnswer},
		{"no reason", calls.CallState{Status: calls.StatusEnded}, queue.OutcomeNoAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeFromCall(tt.st))
		})
	}
}

func TestCountdownSeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(1))
	assert.Equal(t, 2, retrySeconds(2))
	assert.Equal(t, 16, retrySeconds(5))
	assert.Equal(t, 30, retrySeconds(9))

	s := queue.DefaultSettings()
	s.AutoAdvanceDelayMs = 2500
	s.VoicemailSkipDelayMs = 1200
	assert.Equal(t, 3, advanceSeconds(s, queue.OutcomeConnected))
	assert.Equal(t, 5, advanceSeconds(s, queue.OutcomeVoicemail))

	s.AutoAdvanceDelayMs = 0
	s.VoicemailSkipDelayMs = 0
	assert.Equal(t, 1, advanceSeconds(s, queue.OutcomeNoAnswer))
	assert.Equal(t, 1, advanceSeconds(s, queue.OutcomeVoicemail))
}
