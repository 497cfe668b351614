package queue

import "time"

const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// ShouldRetry decides whether an item gets another call.
// Only no-answer, voicemail and busy are retryable; connected, wrong-number,
// not-interested and dnc are final, as is an item with no recorded outcome.
func ShouldRetry(item QueueItem, s Settings) bool {
	if item.Attempts >= s.MaxAttempts {
		return false
	}
	switch item.LastOutcome {
	case OutcomeNoAnswer, OutcomeVoicemail, OutcomeBusy:
		return true
	default:
		return false
	}
}

// RetryDelay is min(1s * 2^(attempts-1), 30s), where attempts is the count before the retry.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := retryBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}
