package dialer

import (
	"strings"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/queue"
)

// VoicemailSkipReason is the note left on items skipped by auto-skip-voicemail.
const VoicemailSkipReason = queue.NoteVoicemailSkipped

// OutcomeFromCall maps a finished leg to a queue outcome. A machine answer is
// voicemail, any other answer is connected, a busy signal is busy, and every
// other ending (including transport errors) is no-answer.
func OutcomeFromCall(st calls.CallState) queue.Outcome {
	switch {
	case st.AnsweredBy == "machine":
		return queue.OutcomeVoicemail
	case !st.AnsweredAt.IsZero():
		return queue.OutcomeConnected
	case strings.Contains(strings.ToLower(st.EndReason), "busy"):
		return queue.OutcomeBusy
	default:
		return queue.OutcomeNoAnswer
	}
}

type resolution int

const (
	resolvedNone resolution = iota
	resolvedDone
	resolvedRetry
	resolvedSkipped
)

// resolveItem settles an item whose leg just ended: auto-skip a voicemail,
// keep it for a retry, or complete it.
func resolveItem(q *queue.CallQueue, itemID string, auto bool) (resolution, error) {
	it, _, err := q.Item(itemID)
	if err != nil {
		return resolvedNone, err
	}
	if it.Status.Terminal() {
		return resolvedDone, nil
	}
	if auto && q.Settings.AutoSkipVoicemail && it.LastOutcome == queue.OutcomeVoicemail {
		return resolvedSkipped, q.Skip(itemID, VoicemailSkipReason)
	}
	if queue.ShouldRetry(*it, q.Settings) {
		return resolvedRetry, nil
	}
	return resolvedDone, q.Complete(itemID)
}

// retrySeconds is the countdown before re-dialing an item with the given attempts.
func retrySeconds(attempts int) int {
	return ceilSeconds(queue.RetryDelay(attempts), 1)
}

// advanceSeconds is the countdown before moving on after an outcome.
func advanceSeconds(s queue.Settings, o queue.Outcome) int {
	secs := ceilSeconds(time.Duration(s.AutoAdvanceDelayMs)*time.Millisecond, 1)
	if o == queue.OutcomeVoicemail {
		secs += ceilSeconds(time.Duration(s.VoicemailSkipDelayMs)*time.Millisecond, 0)
	}
	return secs
}

func ceilSeconds(d time.Duration, floor int) int {
	n := int((d + time.Second - 1) / time.Second)
	if n < floor {
		return floor
	}
	return n
}
