package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"

	"outbound-dialer/internal/calls"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Record   string   `xml:"record,attr,omitempty"`
	Client   string   `xml:"Client,omitempty"`
	Number   string   `xml:"Number,omitempty"`
}

// Bridge describes how an answered outbound leg reaches the agent.
type Bridge struct {
	Mode calls.CallingMode
	// Agent is the browser client identity (browser mode) or E.164 number (phone mode).
	Agent    string
	CallerID string
	Record   bool
}

// RenderBridgeTwiML connects an answered leg to the agent. An empty Bridge (no
// agent, e.g. a leg that lost a parallel race) renders a hangup.
func RenderBridgeTwiML(b Bridge) (string, error) {
	var r twimlResponse

	agent := strings.TrimSpace(b.Agent)
	if agent == "" {
		r.Verbs = append(r.Verbs, twimlHangup{})
		return encodeTwiML(r)
	}

	d := twimlDial{CallerID: b.CallerID}
	if b.Record {
		d.Record = "record-from-answer"
	}
	switch b.Mode {
	case calls.CallingModeBrowser, "":
		d.Client = agent
	case calls.CallingModePhone:
		d.Number = agent
	default:
		return "", errors.New("telephony: unknown calling mode")
	}
	r.Verbs = append(r.Verbs, d)
	return encodeTwiML(r)
}

func encodeTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
