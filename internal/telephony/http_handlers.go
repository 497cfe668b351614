package telephony

import (
	"net/http"
	"strings"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

const headerTwilioSignature = "X-Twilio-Signature"

// StatusCallbackHandler converts Twilio status callbacks into provider events and
// hands them to the router. No business logic here.
type StatusCallbackHandler struct {
	Events EventRouter

	// AuthToken enables signature validation when set.
	AuthToken string
	// PublicURL is the externally visible URL Twilio signed. Defaults to the request URL.
	PublicURL func(c *gin.Context) string

	Now func() time.Time
}

func (h StatusCallbackHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event router not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.AuthToken != "" {
		full := requestURL(c)
		if h.PublicURL != nil {
			full = h.PublicURL(c)
		}
		if !ValidateTwilioSignature(h.AuthToken, full, c.Request.PostForm, c.GetHeader(headerTwilioSignature)) {
			log.Warn("twilio signature rejected", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev, ok := form.ToProviderEvent(h.Now())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.Events.RouteProviderEvent(c.Request.Context(), ev); err != nil {
		// Unknown legs are common (late callbacks after a session closed); Twilio must not retry.
		log.Info("provider event not routed", "call_sid", ev.CallSID, "event", ev.Kind, "err", err)
	}
	c.Status(http.StatusNoContent)
}

// AnswerHandler serves TwiML when an outbound leg is answered, bridging it to the agent
// encoded in the answer URL by TwilioProvider.PlaceLeg.
type AnswerHandler struct {
	// Record enables call recording on the bridge.
	Record bool
}

func (h AnswerHandler) HandleAnswer(c *gin.Context) {
	log := logger.FromGin(c)

	b := Bridge{
		Mode:     calls.CallingMode(strings.TrimSpace(c.Query("mode"))),
		Agent:    c.Query("agent"),
		CallerID: c.Query("caller_id"),
		Record:   h.Record,
	}
	twiml, err := RenderBridgeTwiML(b)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func requestURL(c *gin.Context) string {
	scheme := "https"
	if c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
