package httpapi

import (
	"errors"
	"net/http"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/dialer"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Queues   queue.Repository
	Sessions *dialer.Registry
	Reports  *reporting.Service
	// Lines reports outbound line usage; nil hides the endpoint.
	Lines dialer.LineUsage

	// Defaults apply to queues created without settings.
	Defaults queue.Settings

	// Sandbox, when set, exposes an endpoint that injects provider events.
	Sandbox *telephony.SandboxTransport

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// --- Auth ---

type tokenRequest struct {
	UserID         string `json:"user_id"`
	WorkspaceID    string `json:"workspace_id"`
	Role           string `json:"role"`
	ClientIdentity string `json:"client_identity"`
	AgentPhone     string `json:"agent_phone"`
}

// IssueToken mints an access token for the posted identity.
//
// NOTE: development only. Real deployments take tokens from the identity provider.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	token, err := h.Auth.Issue(h.now(), auth.Identity(req))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "Bearer"})
}

// --- Queues ---

type createQueueRequest struct {
	Name     string          `json:"name"`
	Contacts []calls.Contact `json:"contacts"`
	Settings *queue.Settings `json:"settings"`
}

func (h Handlers) CreateQueue(c *gin.Context) {
	ws := workspace(c)
	var req createQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	settings := h.Defaults
	if req.Settings != nil {
		settings = *req.Settings
	}
	q, err := queue.New(ws, req.Name, req.Contacts, settings, h.now())
	if err != nil {
		abortErr(c, err)
		return
	}
	q, err = h.Queues.CreateQueue(c.Request.Context(), q)
	if err != nil {
		abortErr(c, err)
		return
	}
	logger.FromGin(c).Info("queue created", "queue_id", q.ID, "items", len(q.Items))
	c.JSON(http.StatusCreated, q)
}

// GetQueue returns the queue as the open session sees it, else as stored.
func (h Handlers) GetQueue(c *gin.Context) {
	ws := workspace(c)
	queueID := c.Param("queue_id")
	if s, ok := h.Sessions.Get(ws, queueID); ok {
		c.JSON(http.StatusOK, s.Queue())
		return
	}
	q, err := h.Queues.GetQueue(c.Request.Context(), ws, queueID)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// --- Reports ---

func (h Handlers) QueueSummary(c *gin.Context) {
	var r reporting.TimeRange
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &r.From}, {"to", &r.To}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.key + " must be RFC3339"})
			return
		}
		*p.dst = t
	}
	sum, err := h.Reports.QueueSummary(c.Request.Context(), reporting.QueueSummaryRequest{
		WorkspaceID: workspace(c),
		QueueID:     c.Param("queue_id"),
		Range:       r,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) QueueActivity(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit < 1 || limit > 500 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	events, err := h.Reports.Activity(c.Request.Context(), workspace(c), c.Param("queue_id"), limit)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- Lines ---

// LineUsage reports how many outbound lines the workspace holds right now.
func (h Handlers) LineUsage(c *gin.Context) {
	ws := workspace(c)
	n, err := h.Lines.LinesInUse(c.Request.Context(), ws)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace_id": ws, "in_use": n})
}

// --- Sandbox ---

type signalRequest struct {
	Kind   calls.EventKind `json:"kind"`
	Reason string          `json:"reason"`
}

// SandboxSignal plays the carrier: it reports ringing, answer, hang-up or failure of a sandbox leg.
func (h Handlers) SandboxSignal(c *gin.Context) {
	if h.Sandbox == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "sandbox transport not enabled"})
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	switch req.Kind {
	case calls.EventRinging, calls.EventAnswered, calls.EventDisconnected, calls.EventError:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "kind must be ringing, answered, disconnected or error"})
		return
	}
	if err := h.Sandbox.Signal(c.Request.Context(), c.Param("call_sid"), req.Kind, req.Reason); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- helpers ---

// withActor stamps the caller on audit events written while serving the request.
func withActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := auth.FromContext(c.Request.Context()); err == nil {
			c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), id.UserID))
		}
		c.Next()
	}
}

func workspace(c *gin.Context) string {
	ws, _ := auth.WorkspaceID(c.Request.Context())
	return ws
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrQueueNotFound),
		errors.Is(err, queue.ErrItemNotFound),
		errors.Is(err, dialer.ErrUnknownLeg):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrItemTerminal),
		errors.Is(err, queue.ErrConflict),
		errors.Is(err, dialer.ErrCallInProgress),
		errors.Is(err, dialer.ErrQueueNotActive),
		errors.Is(err, dialer.ErrQueueNotPaused),
		errors.Is(err, dialer.ErrQueueCompleted),
		errors.Is(err, dialer.ErrNoActiveCall),
		errors.Is(err, dialer.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, dialer.ErrLinesExhausted):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func abortErr(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
