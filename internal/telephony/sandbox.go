package telephony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outbound-dialer/internal/calls"

	"github.com/google/uuid"
)

// SandboxTransport is an in-memory transport for tests and local development.
// It never reaches a carrier; call progress is injected with Signal.
type SandboxTransport struct {
	mu      sync.Mutex
	placed  []PlacedLeg
	hangups []string
	failN   int

	// Events receives signals injected through Signal. Optional.
	Events EventRouter
	Now    func() time.Time
}

// PlacedLeg is a leg the sandbox accepted.
type PlacedLeg struct {
	Leg     Leg
	Request PlaceLegRequest
}

func NewSandboxTransport() *SandboxTransport {
	return &SandboxTransport{Now: time.Now}
}

func (s *SandboxTransport) Name() string { return "sandbox" }

func (s *SandboxTransport) PlaceLeg(ctx context.Context, req PlaceLegRequest) (Leg, error) {
	if req.WorkspaceID == "" || req.To == "" {
		return Leg{}, fmt.Errorf("%w: workspace_id and to required", ErrTransportFailure)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return Leg{}, fmt.Errorf("%w: sandbox rejected leg to %s", ErrTransportFailure, req.To)
	}
	leg := Leg{CallSID: "SB" + uuid.NewString(), Provider: s.Name()}
	s.placed = append(s.placed, PlacedLeg{Leg: leg, Request: req})
	return leg, nil
}

func (s *SandboxTransport) HangUp(ctx context.Context, callSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangups = append(s.hangups, callSID)
	return nil
}

// FailNext makes the next n PlaceLeg calls fail with ErrTransportFailure.
func (s *SandboxTransport) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN = n
}

func (s *SandboxTransport) Placed() []PlacedLeg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlacedLeg(nil), s.placed...)
}

func (s *SandboxTransport) HangUps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hangups...)
}

// HangUpCount returns how many hang-ups were sent for callSID.
func (s *SandboxTransport) HangUpCount(callSID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hangups {
		if h == callSID {
			n++
		}
	}
	return n
}

// Signal injects a provider event as if the carrier had reported it.
func (s *SandboxTransport) Signal(ctx context.Context, callSID string, kind calls.EventKind, reason string) error {
	if s.Events == nil {
		return fmt.Errorf("telephony: sandbox has no event router")
	}
	return s.Events.RouteProviderEvent(ctx, calls.ProviderEvent{
		CallSID:    callSID,
		Kind:       kind,
		Reason:     reason,
		OccurredAt: s.Now(),
	})
}
