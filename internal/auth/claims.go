package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: WorkspaceID must be present on every token.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`

	// ClientIdentity is the agent's browser softphone identity; answered legs
	// bridge to it in browser mode.
	ClientIdentity string `json:"client_identity,omitempty"`
	// AgentPhone is where answered legs bridge in phone mode (E.164).
	AgentPhone string `json:"agent_phone,omitempty"`
}

// Identity is the verified caller, as handlers see it.
type Identity struct {
	UserID         string `json:"user_id"`
	WorkspaceID    string `json:"workspace_id"`
	Role           string `json:"role"`
	ClientIdentity string `json:"client_identity,omitempty"`
	AgentPhone     string `json:"agent_phone,omitempty"`
}

func (c Claims) Identity() Identity {
	return Identity{
		UserID:         c.UserID,
		WorkspaceID:    c.WorkspaceID,
		Role:           c.Role,
		ClientIdentity: c.ClientIdentity,
		AgentPhone:     c.AgentPhone,
	}
}
