package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/dialer"
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

func testEngine(t *testing.T, cfg config.Config) (*gin.Engine, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	repo := queue.NewMemoryRepo()
	reg := dialer.NewRegistry(dialer.Deps{Queues: repo, Transport: telephony.NewSandboxTransport()}, dialer.Config{})
	r := gin.New()
	registerRoutes(r, cfg, m, httpapi.Handlers{Auth: m, Queues: repo, Sessions: reg})
	return r, m
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoutes_Health(t *testing.T) {
	r, _ := testEngine(t, config.Config{App: config.AppConfig{Env: "local"}})
	if w := serve(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestRoutes_MeRequiresToken(t *testing.T) {
	r, m := testEngine(t, config.Config{App: config.AppConfig{Env: "local"}})
	if w := serve(r, http.MethodGet, "/v1/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	tok, err := m.Issue(time.Now(), auth.Identity{UserID: "u1", WorkspaceID: "ws1", Role: "agent"})
	if err != nil {
		t.Fatal(err)
	}
	w := serve(r, http.MethodGet, "/v1/me", tok)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"workspace_id":"ws1"`) {
		t.Fatalf("unexpected /me: %d %s", w.Code, w.Body.String())
	}
}

func TestRoutes_TokenIssuanceOffInProduction(t *testing.T) {
	r, _ := testEngine(t, config.Config{App: config.AppConfig{Env: "production"}})
	if w := serve(r, http.MethodPost, "/v1/auth/token", ""); w.Code != http.StatusUnauthorized && w.Code != http.StatusNotFound {
		t.Fatalf("token route should not be public in production, got %d", w.Code)
	}
}

func TestRoutes_TwilioWebhooksOnlyWhenConfigured(t *testing.T) {
	r, _ := testEngine(t, config.Config{App: config.AppConfig{Env: "local"}})
	if w := serve(r, http.MethodPost, twilioStatusPath, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without twilio, got %d", w.Code)
	}

	r, _ = testEngine(t, config.Config{
		App:    config.AppConfig{Env: "local"},
		Twilio: config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", PublicBaseURL: "https://dialer.example.com"},
	})
	// unsigned callback is rejected
	req := httptest.NewRequest(http.MethodPost, twilioStatusPath, strings.NewReader("CallSid=CA1&CallStatus=ringing"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unsigned callback, got %d", w.Code)
	}
}
