package calls

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var ErrInvalidTransition = errors.New("calls: invalid transition")

// Listener observes status changes. It is called after the Machine releases its
// own lock, on the goroutine that caused the transition.
type Listener func(prev, next CallState)

// Machine tracks the lifecycle of exactly one leg:
//
//	idle -> connecting -> ringing -> active -> ended
//	connecting|ringing|active -> failed
//
// ended and failed are terminal; a new leg needs a new Machine.
type Machine struct {
	mu        sync.Mutex
	state     CallState
	listeners []Listener

	log *slog.Logger
	Now func() time.Time
}

func NewMachine(log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{state: CallState{Status: StatusIdle}, log: log, Now: time.Now}
}

// Subscribe registers l for every subsequent transition.
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Machine) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PlaceCall moves an idle leg to connecting.
func (m *Machine) PlaceCall(target Contact, from string, mode CallingMode, groupID string) error {
	return m.transition(func(s *CallState) error {
		if s.Status != StatusIdle {
			return fmt.Errorf("%w: place call from %s", ErrInvalidTransition, s.Status)
		}
		s.Status = StatusConnecting
		s.Target = target
		s.FromNumber = from
		s.CallingMode = mode
		s.ParallelGroupID = groupID
		s.StartedAt = m.Now()
		return nil
	})
}

// Bind records the provider identifier once the transport accepted the leg.
// It is not a status transition and notifies nobody.
func (m *Machine) Bind(callSID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CallSID = callSID
}

// SetTransfer records a transfer of an active leg.
func (m *Machine) SetTransfer(transferID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TransferID = transferID
}

// HangUp ends a live leg.
func (m *Machine) HangUp() error {
	return m.transition(func(s *CallState) error {
		if !s.Status.Live() {
			return fmt.Errorf("%w: hang up from %s", ErrInvalidTransition, s.Status)
		}
		m.finish(s, StatusEnded, "hangup")
		return nil
	})
}

// Fail marks a live leg failed, typically after a transport error.
func (m *Machine) Fail(reason string) error {
	return m.transition(func(s *CallState) error {
		if !s.Status.Live() {
			return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, s.Status)
		}
		m.finish(s, StatusFailed, reason)
		return nil
	})
}

// OnProviderEvent applies a transport signal. Events that do not fit the current
// status are logged and dropped; it reports whether the status changed.
func (m *Machine) OnProviderEvent(ev ProviderEvent) bool {
	var changed bool
	err := m.transition(func(s *CallState) error {
		next, ok := nextStatus(s.Status, ev.Kind)
		if !ok {
			return errIgnored
		}
		switch next {
		case StatusActive:
			s.AnsweredAt = m.eventTime(ev)
			s.AnsweredBy = normalizeAnsweredBy(ev.AnsweredBy)
			s.Status = StatusActive
		case StatusEnded, StatusFailed:
			m.finish(s, next, ev.Reason)
		default:
			s.Status = next
		}
		changed = true
		return nil
	})
	if errors.Is(err, errIgnored) {
		st := m.State()
		m.log.Debug("provider event ignored", "call_sid", ev.CallSID, "event", ev.Kind, "status", st.Status)
	}
	return changed
}

var errIgnored = errors.New("calls: event ignored")

func nextStatus(cur Status, kind EventKind) (Status, bool) {
	switch kind {
	case EventRinging:
		if cur == StatusConnecting {
			return StatusRinging, true
		}
	case EventAnswered:
		if cur == StatusConnecting || cur == StatusRinging {
			return StatusActive, true
		}
	case EventDisconnected:
		if cur.Live() {
			return StatusEnded, true
		}
	case EventError:
		if cur.Live() {
			return StatusFailed, true
		}
	}
	return cur, false
}

func (m *Machine) finish(s *CallState, status Status, reason string) {
	if s.Status == StatusActive && !s.AnsweredAt.IsZero() {
		s.Duration = m.Now().Sub(s.AnsweredAt)
	}
	s.Status = status
	if s.EndReason == "" {
		s.EndReason = reason
	}
}

func (m *Machine) eventTime(ev ProviderEvent) time.Time {
	if !ev.OccurredAt.IsZero() {
		return ev.OccurredAt
	}
	return m.Now()
}

func (m *Machine) transition(fn func(s *CallState) error) error {
	m.mu.Lock()
	prev := m.state
	next := prev
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = next
	ls := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range ls {
		l(prev, next)
	}
	return nil
}

func normalizeAnsweredBy(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch {
	case v == "":
		return ""
	case strings.HasPrefix(v, "machine"), v == "fax":
		return "machine"
	default:
		return "human"
	}
}
