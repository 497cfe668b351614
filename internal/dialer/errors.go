package dialer

import "errors"

var (
	ErrSessionClosed  = errors.New("dialer: session closed")
	ErrNoActiveCall   = errors.New("dialer: no active call")
	ErrCallInProgress = errors.New("dialer: call in progress")
	ErrQueueNotActive = errors.New("dialer: queue not active")
	ErrQueueNotPaused = errors.New("dialer: queue not paused")
	ErrQueueCompleted = errors.New("dialer: queue completed")
	ErrLinesExhausted = errors.New("dialer: no outbound line available")
	ErrUnknownLeg     = errors.New("dialer: unknown call leg")
)
