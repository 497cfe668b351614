package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestTwilioProvider_PlaceLeg(t *testing.T) {
	var gotForm url.Values
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = r.ParseForm()
		gotForm = r.PostForm
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA999"}`))
	}))
	defer srv.Close()

	p, err := NewTwilioProvider(TwilioConfig{
		AccountSID:        "AC1",
		AuthToken:         "tok",
		AnswerURL:         "https://dialer.example.com/webhooks/twilio/answer",
		StatusCallbackURL: "https://dialer.example.com/webhooks/twilio/status",
		BaseURL:           srv.URL,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	leg, err := p.PlaceLeg(context.Background(), PlaceLegRequest{
		WorkspaceID:      "w",
		QueueID:          "q",
		To:               "+15551234567",
		From:             "+12125550100",
		Mode:             "browser",
		AgentIdentity:    "agent-7",
		MachineDetection: true,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if leg.CallSID != "CA999" {
		t.Fatalf("unexpected leg: %+v", leg)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotForm.Get("To") != "+15551234567" || gotForm.Get("MachineDetection") != "Enable" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
	if len(gotForm["StatusCallbackEvent"]) != 4 {
		t.Fatalf("expected 4 status callback events, got %v", gotForm["StatusCallbackEvent"])
	}
	if !strings.Contains(gotForm.Get("Url"), "agent=agent-7") {
		t.Fatalf("answer url should carry the agent: %s", gotForm.Get("Url"))
	}
}

func TestTwilioProvider_ErrorsAreTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	p, _ := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", AnswerURL: "https://x/answer", BaseURL: srv.URL})
	_, err := p.PlaceLeg(context.Background(), PlaceLegRequest{WorkspaceID: "w", To: "+1", From: "+2"})
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Fatalf("expected twilio code in error: %v", err)
	}
	if err := p.HangUp(context.Background(), "CA1"); !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
}

func TestTwilioProvider_ListNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"incoming_phone_numbers":[{"phone_number":"+12125550100","friendly_name":"NY"},{"phone_number":""}]}`))
	}))
	defer srv.Close()

	p, _ := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL})
	nums, err := p.ListNumbers(context.Background(), "w")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(nums) != 1 || nums[0].AreaCode != "212" {
		t.Fatalf("unexpected numbers: %+v", nums)
	}
}

func TestNewTwilioProvider_RequiresCredentials(t *testing.T) {
	if _, err := NewTwilioProvider(TwilioConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
