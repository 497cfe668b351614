package main

import (
	"strings"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

const (
	twilioAnswerPath = "/webhooks/twilio/answer"
	twilioStatusPath = "/webhooks/twilio/status"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, m *auth.Manager, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public, signature-checked when an auth token is configured).
	if cfg.TwilioEnabled() {
		base := strings.TrimRight(cfg.Twilio.PublicBaseURL, "/")
		status := telephony.StatusCallbackHandler{
			Events:    h.Sessions,
			AuthToken: cfg.Twilio.AuthToken,
			// Twilio signs the URL it was given, not what the proxy forwards.
			PublicURL: func(c *gin.Context) string { return base + c.Request.URL.RequestURI() },
		}
		answer := telephony.AnswerHandler{Record: cfg.Twilio.Record}
		r.POST(twilioStatusPath, status.HandleStatusCallback)
		r.POST(twilioAnswerPath, answer.HandleAnswer)
	}

	// Token issuance for local testing; production tokens come from the identity provider.
	if !cfg.IsProduction() {
		r.POST("/v1/auth/token", h.IssueToken)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m))
	v1.GET("/me", func(c *gin.Context) {
		id, _ := auth.FromContext(c.Request.Context())
		c.JSON(200, id)
	})
	h.Mount(v1)
}
