// Package telephony abstracts the voice provider that dials participants into
// the session conference.
package telephony

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acme/call-session-orchestrator/internal/domain"
)

// PlaceCallRequest describes one outbound leg.
type PlaceCallRequest struct {
	To                string
	From              string
	Instructions      string
	ConferenceName    string
	StatusCallbackURL string
	Timeout           time.Duration
	MachineDetection  bool
}

// Provider places and cancels outbound calls.
type Provider interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error)
	CancelCall(ctx context.Context, callID string) error
}

// Webhook routes, relative to the callback base URL.
const (
	ParticipantWebhookPath = "/webhooks/telephony/participant"
	ConferenceWebhookPath  = "/webhooks/telephony/conference"
	RecordingWebhookPath   = "/webhooks/telephony/recording"
)

// Callbacks builds the provider callback URLs for a session.
type Callbacks struct {
	BaseURL string
}

// Participant returns the status callback for one dial attempt of a participant.
func (c Callbacks) Participant(sessionID string, role domain.Role, attempt int) string {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("role", string(role))
	q.Set("attempt", strconv.Itoa(attempt))
	return c.url(ParticipantWebhookPath, q)
}

// Conference returns the conference status callback.
func (c Callbacks) Conference(sessionID string) string {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	return c.url(ConferenceWebhookPath, q)
}

// Recording returns the recording status callback.
func (c Callbacks) Recording(sessionID string) string {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	return c.url(RecordingWebhookPath, q)
}

func (c Callbacks) url(path string, q url.Values) string {
	return strings.TrimRight(c.BaseURL, "/") + path + "?" + q.Encode()
}
