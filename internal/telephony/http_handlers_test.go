package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"outbound-dialer/internal/calls"

	"github.com/gin-gonic/gin"
)

type recordingRouter struct {
	events []calls.ProviderEvent
}

func (r *recordingRouter) RouteProviderEvent(ctx context.Context, ev calls.ProviderEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func TestStatusCallbackHandler_RoutesEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := &recordingRouter{}
	r := gin.New()
	r.POST("/webhooks/twilio/status", StatusCallbackHandler{Events: router}.HandleStatusCallback)

	for _, status := range []string{"initiated", "ringing", "busy"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallSid=CA1&CallStatus="+status))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	}
	if len(router.events) != 2 {
		t.Fatalf("expected 2 routed events, got %d", len(router.events))
	}
	if router.events[1].Reason != "busy" {
		t.Fatalf("unexpected event: %+v", router.events[1])
	}
}

func TestStatusCallbackHandler_RejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := &recordingRouter{}
	r := gin.New()
	r.POST("/webhooks/twilio/status", StatusCallbackHandler{Events: router, AuthToken: "tok"}.HandleStatusCallback)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallSid=CA1&CallStatus=ringing"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(router.events) != 0 {
		t.Fatalf("expected no routed events")
	}
}

func TestAnswerHandler_RendersBridge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/answer", AnswerHandler{}.HandleAnswer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/answer?mode=browser&agent=agent-7&caller_id=%2B12125550100", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Client>agent-7</Client>") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
