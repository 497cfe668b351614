package telephony

import (
	"context"
	"errors"

	"outbound-dialer/internal/calls"
)

// Transport is the provider-agnostic outbound call contract used by the dialer.
//
// Rules:
// - No provider SDK or REST calls outside telephony adapters.
// - PlaceLeg returns as soon as the provider accepted the leg; progress arrives later
//   as calls.ProviderEvent values through an EventRouter.
// - Every request is workspace-scoped.
type Transport interface {
	Name() string
	PlaceLeg(ctx context.Context, req PlaceLegRequest) (Leg, error)
	HangUp(ctx context.Context, callSID string) error
}

// EventRouter receives normalized provider events (webhooks, sandbox signals).
type EventRouter interface {
	RouteProviderEvent(ctx context.Context, ev calls.ProviderEvent) error
}

// PlaceLegRequest describes one outbound leg.
type PlaceLegRequest struct {
	WorkspaceID string `json:"workspace_id"`
	QueueID     string `json:"queue_id"`
	ItemID      string `json:"item_id"`

	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	Mode calls.CallingMode `json:"mode"`

	// AgentIdentity is the browser client identity (browser mode) or the agent's
	// phone number (phone mode) the answered leg is bridged to.
	AgentIdentity string `json:"agent_identity,omitempty"`

	// MachineDetection asks the provider to report whether a human or machine answered.
	MachineDetection bool `json:"machine_detection"`
}

type Leg struct {
	CallSID  string `json:"call_sid"`
	Provider string `json:"provider"`
}

// ErrTransportFailure wraps every provider-side failure. The dialer converts it into
// a call outcome instead of surfacing it.
var ErrTransportFailure = errors.New("telephony: transport failure")
