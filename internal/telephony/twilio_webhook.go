package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"outbound-dialer/internal/calls"
)

// TwilioStatusForm captures the status-callback fields we care about.
// Twilio sends application/x-www-form-urlencoded.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
type TwilioStatusForm struct {
	CallSid         string
	AccountSid      string
	CallStatus      string
	AnsweredBy      string
	From            string
	To              string
	Direction       string
	CallDuration    string
	SipResponseCode string
	ErrorCode       string
	Timestamp       string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:         r.PostFormValue("CallSid"),
		AccountSid:      r.PostFormValue("AccountSid"),
		CallStatus:      strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		AnsweredBy:      r.PostFormValue("AnsweredBy"),
		From:            strings.TrimSpace(r.PostFormValue("From")),
		To:              strings.TrimSpace(r.PostFormValue("To")),
		Direction:       r.PostFormValue("Direction"),
		CallDuration:    r.PostFormValue("CallDuration"),
		SipResponseCode: r.PostFormValue("SipResponseCode"),
		ErrorCode:       r.PostFormValue("ErrorCode"),
		Timestamp:       r.PostFormValue("Timestamp"),
	}, nil
}

// ToProviderEvent maps a Twilio call status onto a leg event. Statuses that carry
// no state change for the leg (queued, initiated) report ok=false.
func (f TwilioStatusForm) ToProviderEvent(now time.Time) (calls.ProviderEvent, bool) {
	ev := calls.ProviderEvent{CallSID: f.CallSid, OccurredAt: f.occurredAt(now)}
	switch f.CallStatus {
	case "ringing":
		ev.Kind = calls.EventRinging
	case "in-progress", "answered":
		ev.Kind = calls.EventAnswered
		ev.AnsweredBy = f.AnsweredBy
	case "completed":
		ev.Kind = calls.EventDisconnected
	case "busy", "no-answer", "canceled":
		ev.Kind = calls.EventDisconnected
		ev.Reason = f.CallStatus
	case "failed":
		ev.Kind = calls.EventError
		ev.Reason = "failed"
		if f.ErrorCode != "" {
			ev.Reason = "failed:" + f.ErrorCode
		}
	default:
		return calls.ProviderEvent{}, false
	}
	if f.CallSid == "" {
		return calls.ProviderEvent{}, false
	}
	return ev, true
}

func (f TwilioStatusForm) occurredAt(now time.Time) time.Time {
	if f.Timestamp != "" {
		if t, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}

// ValidateTwilioSignature checks X-Twilio-Signature: base64(HMAC-SHA1(authToken,
// fullURL + each POST param name and value, sorted by name)).
func ValidateTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vs := append([]string(nil), params[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
