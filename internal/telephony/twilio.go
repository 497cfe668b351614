package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outbound-dialer/internal/callerid"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

// TwilioConfig holds what the REST adapter needs. Credentials come from config.TwilioConfig.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// AnswerURL serves TwiML once a leg is answered (see AnswerHandler).
	AnswerURL string
	// StatusCallbackURL receives call progress (see StatusCallbackHandler).
	StatusCallbackURL string

	// BaseURL overrides the API host, used by tests.
	BaseURL string
	Timeout time.Duration
}

// TwilioProvider places and tears down outbound legs through the Twilio REST API.
// It talks plain HTTP; no provider SDK.
type TwilioProvider struct {
	cfg  TwilioConfig
	http *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TwilioProvider{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) PlaceLeg(ctx context.Context, req PlaceLegRequest) (Leg, error) {
	if req.WorkspaceID == "" || req.To == "" || req.From == "" {
		return Leg{}, fmt.Errorf("%w: workspace_id, to and from required", ErrTransportFailure)
	}

	answer, err := withQuery(p.cfg.AnswerURL, url.Values{
		"workspace_id": {req.WorkspaceID},
		"queue_id":     {req.QueueID},
		"mode":         {string(req.Mode)},
		"agent":        {req.AgentIdentity},
		"caller_id":    {req.From},
	})
	if err != nil {
		return Leg{}, fmt.Errorf("%w: answer url: %v", ErrTransportFailure, err)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", answer)
	if p.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", p.cfg.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := p.do(ctx, http.MethodPost, p.accountPath("Calls.json"), form, &out); err != nil {
		return Leg{}, err
	}
	if out.SID == "" {
		return Leg{}, fmt.Errorf("%w: twilio returned no call sid", ErrTransportFailure)
	}
	return Leg{CallSID: out.SID, Provider: p.Name()}, nil
}

func (p *TwilioProvider) HangUp(ctx context.Context, callSID string) error {
	if callSID == "" {
		return fmt.Errorf("%w: call sid required", ErrTransportFailure)
	}
	form := url.Values{"Status": {"completed"}}
	return p.do(ctx, http.MethodPost, p.accountPath("Calls/"+url.PathEscape(callSID)+".json"), form, nil)
}

// ListNumbers returns the account's voice-capable numbers. It satisfies callerid.Inventory.
func (p *TwilioProvider) ListNumbers(ctx context.Context, workspaceID string) ([]callerid.Number, error) {
	var out struct {
		Numbers []struct {
			PhoneNumber  string `json:"phone_number"`
			FriendlyName string `json:"friendly_name"`
		} `json:"incoming_phone_numbers"`
	}
	if err := p.do(ctx, http.MethodGet, p.accountPath("IncomingPhoneNumbers.json?PageSize=1000"), nil, &out); err != nil {
		return nil, err
	}
	numbers := make([]callerid.Number, 0, len(out.Numbers))
	for _, n := range out.Numbers {
		numbers = append(numbers, callerid.Number{PhoneNumber: n.PhoneNumber, FriendlyName: n.FriendlyName})
	}
	return callerid.Normalize(numbers), nil
}

func (p *TwilioProvider) accountPath(rest string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID) + "/" + rest
}

func (p *TwilioProvider) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransportFailure, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("%w: twilio %d (code %d): %s", ErrTransportFailure, res.StatusCode, apiErr.Code, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransportFailure, err)
	}
	return nil
}

func withQuery(base string, q url.Values) (string, error) {
	if base == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			if v != "" {
				existing.Add(k, v)
			}
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}
