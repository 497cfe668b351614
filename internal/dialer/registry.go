package dialer

import (
	"context"
	"fmt"
	"sync"

	"outbound-dialer/internal/calls"
)

// Registry holds the open session of every queue and routes provider events to
// the session owning the leg. Sessions are independent; the registry lock only
// guards its own maps and is never held while calling into a session.
type Registry struct {
	deps Deps
	base Config

	mu       sync.Mutex
	sessions map[string]*Session
	legs     map[string]*Session
}

// NewRegistry builds a registry. base supplies the process-level settings
// (line ceiling, stagger, machine detection) for every session it opens.
func NewRegistry(deps Deps, base Config) *Registry {
	return &Registry{
		deps:     deps,
		base:     base,
		sessions: map[string]*Session{},
		legs:     map[string]*Session{},
	}
}

func sessionKey(workspaceID, queueID string) string { return workspaceID + "|" + queueID }

// Open returns the queue's session, opening it on first use. Agent, mode and
// local presence come from cfg; unset process-level fields come from the base.
func (r *Registry) Open(ctx context.Context, cfg Config) (*Session, error) {
	key := sessionKey(cfg.WorkspaceID, cfg.QueueID)
	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	if cfg.MaxLines <= 0 {
		cfg.MaxLines = r.base.MaxLines
	}
	if cfg.Stagger <= 0 {
		cfg.Stagger = r.base.Stagger
	}
	if !cfg.MachineDetection {
		cfg.MachineDetection = r.base.MachineDetection
	}
	s, err := Open(ctx, cfg, r.deps)
	if err != nil {
		return nil, err
	}
	s.legHook = func(callSID string, live bool) { r.trackLeg(s, callSID, live) }

	r.mu.Lock()
	existing, ok := r.sessions[key]
	if !ok {
		r.sessions[key] = s
	}
	r.mu.Unlock()
	if ok {
		// Lost an open race; the new session never placed a leg.
		_ = s.Close(ctx)
		return existing, nil
	}
	return s, nil
}

func (r *Registry) Get(workspaceID, queueID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey(workspaceID, queueID)]
	return s, ok
}

// Close tears down and forgets a queue's session. Closing an unknown session is a no-op.
func (r *Registry) Close(ctx context.Context, workspaceID, queueID string) error {
	key := sessionKey(workspaceID, queueID)
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// CloseAll tears down every session, used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = map[string]*Session{}
	r.mu.Unlock()
	for _, s := range all {
		_ = s.Close(ctx)
	}
}

// RouteProviderEvent implements telephony.EventRouter.
func (r *Registry) RouteProviderEvent(ctx context.Context, ev calls.ProviderEvent) error {
	r.mu.Lock()
	s, ok := r.legs[ev.CallSID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLeg, ev.CallSID)
	}
	return s.HandleProviderEvent(ctx, ev)
}

// trackLeg is called by sessions with their own lock held; it must not call back.
func (r *Registry) trackLeg(s *Session, callSID string, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if live {
		r.legs[callSID] = s
		return
	}
	if r.legs[callSID] == s {
		delete(r.legs, callSID)
	}
}
