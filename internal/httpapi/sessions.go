package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/dialer"
	"outbound-dialer/internal/queue"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

type openSessionRequest struct {
	Mode calls.CallingMode `json:"mode"`
	// Agent overrides the bridge target taken from the access token.
	Agent         string `json:"agent"`
	LocalPresence bool   `json:"local_presence"`
}

// OpenSession opens the queue's dialing session, or returns the one already open.
func (h Handlers) OpenSession(c *gin.Context) {
	id, err := auth.FromContext(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var req openSessionRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = calls.CallingModeBrowser
	}
	agent := strings.TrimSpace(req.Agent)
	switch req.Mode {
	case calls.CallingModeBrowser:
		if agent == "" {
			agent = id.ClientIdentity
		}
		if agent == "" {
			agent = id.UserID
		}
	case calls.CallingModePhone:
		if agent == "" {
			agent = id.AgentPhone
		}
		if agent == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent phone required in phone mode"})
			return
		}
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mode must be browser or phone"})
		return
	}

	s, err := h.Sessions.Open(c.Request.Context(), dialer.Config{
		WorkspaceID:   id.WorkspaceID,
		QueueID:       c.Param("queue_id"),
		Agent:         agent,
		Mode:          req.Mode,
		LocalPresence: req.LocalPresence,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	logger.FromGin(c).Info("session opened", "queue_id", c.Param("queue_id"), "mode", req.Mode)
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h Handlers) CloseSession(c *gin.Context) {
	if err := h.Sessions.Close(c.Request.Context(), workspace(c), c.Param("queue_id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// sessionOp adapts a session operation that takes no input to a handler
// replying with the resulting snapshot.
func (h Handlers) sessionOp(op func(s *dialer.Session, c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		if err := op(s, c); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	}
}

func (h Handlers) Start() gin.HandlerFunc {
	return h.sessionOp(func(s *dialer.Session, c *gin.Context) error { return s.Start(c.Request.Context()) })
}

func (h Handlers) Next() gin.HandlerFunc {
	return h.sessionOp(func(s *dialer.Session, c *gin.Context) error { return s.Next(c.Request.Context()) })
}

func (h Handlers) Pause() gin.HandlerFunc {
	return h.sessionOp(func(s *dialer.Session, c *gin.Context) error { return s.Pause(c.Request.Context()) })
}

func (h Handlers) Resume() gin.HandlerFunc {
	return h.sessionOp(func(s *dialer.Session, c *gin.Context) error { return s.Resume(c.Request.Context()) })
}

func (h Handlers) HangUp() gin.HandlerFunc {
	return h.sessionOp(func(s *dialer.Session, c *gin.Context) error { return s.HangUp(c.Request.Context()) })
}

func (h Handlers) HangUpLeg() gin.HandlerFunc {
	return h.sessionOp(func(s *dialer.Session, c *gin.Context) error {
		return s.HangUpLeg(c.Request.Context(), c.Param("call_sid"))
	})
}

func (h Handlers) Requeue() gin.HandlerFunc {
	return h.sessionOp(func(s *dialer.Session, c *gin.Context) error {
		return s.Requeue(c.Request.Context(), c.Param("item_id"))
	})
}

type skipRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) Skip(c *gin.Context) {
	var req skipRequest
	if !bindOptional(c, &req) {
		return
	}
	h.sessionOp(func(s *dialer.Session, c *gin.Context) error {
		return s.Skip(c.Request.Context(), c.Param("item_id"), req.Reason)
	})(c)
}

type resultRequest struct {
	Outcome queue.Outcome `json:"outcome"`
	Note    string        `json:"note"`
}

// RecordResult records the agent's outcome for the item's current call.
func (h Handlers) RecordResult(c *gin.Context) {
	var req resultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.sessionOp(func(s *dialer.Session, c *gin.Context) error {
		return s.RecordResult(c.Request.Context(), c.Param("item_id"), req.Outcome, req.Note)
	})(c)
}

func (h Handlers) SetDisposition(c *gin.Context) {
	var req resultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.sessionOp(func(s *dialer.Session, c *gin.Context) error {
		return s.SetDisposition(c.Request.Context(), c.Param("item_id"), req.Outcome, req.Note)
	})(c)
}

func (h Handlers) UpdateSettings(c *gin.Context) {
	var req queue.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.sessionOp(func(s *dialer.Session, c *gin.Context) error {
		return s.UpdateSettings(c.Request.Context(), req)
	})(c)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func bindToggle(c *gin.Context) (bool, bool) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "enabled required"})
		return false, false
	}
	return *req.Enabled, true
}

func (h Handlers) SetParallel(c *gin.Context) {
	enabled, ok := bindToggle(c)
	if !ok {
		return
	}
	h.sessionOp(func(s *dialer.Session, c *gin.Context) error {
		return s.SetParallelDialing(c.Request.Context(), enabled)
	})(c)
}

// --- Caller ID ---

type callerIDRequest struct {
	Number string `json:"number"`
}

func (h Handlers) SetCallerID(c *gin.Context) {
	var req callerIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Number) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.SetCallerID(strings.TrimSpace(req.Number)))
}

func (h Handlers) SetLocalPresence(c *gin.Context) {
	enabled, ok := bindToggle(c)
	if !ok {
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.SetLocalPresence(enabled))
}

func (h Handlers) RefreshNumbers(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	sel, err := s.RefreshNumbers(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Warn("caller id refresh failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "number inventory unavailable"})
		return
	}
	c.JSON(http.StatusOK, sel)
}

// --- helpers ---

// session returns the open session of the path's queue in the caller's
// workspace, or aborts with 404.
func (h Handlers) session(c *gin.Context) (*dialer.Session, bool) {
	s, ok := h.Sessions.Get(workspace(c), c.Param("queue_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no open session for queue"})
		return nil, false
	}
	return s, true
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
