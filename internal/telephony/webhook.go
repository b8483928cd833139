package telephony

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acme/call-session-orchestrator/internal/domain"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

// ParticipantEvent is a call status callback for one participant leg.
type ParticipantEvent struct {
	SessionID  string
	Role       domain.Role
	Attempt    int
	CallID     string
	Status     string
	AnsweredBy string
	Timestamp  time.Time
}

// Conference event kinds.
const (
	ConferenceStart = "start"
	ConferenceEnd   = "end"
	ConferenceJoin  = "join"
	ConferenceLeave = "leave"
)

// ConferenceEvent is a conference status callback.
type ConferenceEvent struct {
	SessionID     string
	ConferenceSID string
	Name          string
	Event         string
	CallID        string
	Duration      *int
	Timestamp     time.Time
}

// RecordingEvent is a recording status callback.
type RecordingEvent struct {
	SessionID     string
	ConferenceSID string
	RecordingSID  string
	RecordingURL  string
	Status        string
	Duration      int
}

// ParseParticipantEvent reads a call status callback. Session, role and attempt
// come from the callback query string when present.
func ParseParticipantEvent(query, form url.Values, now time.Time) (ParticipantEvent, error) {
	evt := ParticipantEvent{
		SessionID:  strings.TrimSpace(query.Get("sessionId")),
		Role:       domain.Role(strings.TrimSpace(query.Get("role"))),
		CallID:     strings.TrimSpace(form.Get("CallSid")),
		Status:     strings.ToLower(strings.TrimSpace(form.Get("CallStatus"))),
		AnsweredBy: strings.ToLower(strings.TrimSpace(form.Get("AnsweredBy"))),
		Timestamp:  parseTimestamp(form.Get("Timestamp"), now),
	}
	if raw := query.Get("attempt"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return ParticipantEvent{}, apperrors.NewValidation("attempt", "must be a positive integer")
		}
		evt.Attempt = n
	}
	if evt.CallID == "" {
		return ParticipantEvent{}, apperrors.NewValidation("CallSid", "is required")
	}
	if evt.Status == "" {
		return ParticipantEvent{}, apperrors.NewValidation("CallStatus", "is required")
	}
	if evt.Role != "" && !evt.Role.Valid() {
		return ParticipantEvent{}, apperrors.NewValidation("role", fmt.Sprintf("unknown role %q", evt.Role))
	}
	return evt, nil
}

// ParseConferenceEvent reads a conference status callback.
func ParseConferenceEvent(query, form url.Values, now time.Time) (ConferenceEvent, error) {
	evt := ConferenceEvent{
		SessionID:     strings.TrimSpace(query.Get("sessionId")),
		ConferenceSID: strings.TrimSpace(form.Get("ConferenceSid")),
		Name:          strings.TrimSpace(form.Get("FriendlyName")),
		Event:         conferenceEventKind(form.Get("StatusCallbackEvent")),
		CallID:        strings.TrimSpace(form.Get("CallSid")),
		Timestamp:     parseTimestamp(form.Get("Timestamp"), now),
	}
	if raw := strings.TrimSpace(form.Get("Duration")); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 {
			evt.Duration = &d
		}
	}
	if evt.Name == "" && evt.SessionID == "" {
		return ConferenceEvent{}, apperrors.NewValidation("FriendlyName", "is required")
	}
	if evt.Event == "" {
		return ConferenceEvent{}, apperrors.NewValidation("StatusCallbackEvent", "is required")
	}
	return evt, nil
}

// ParseRecordingEvent reads a recording status callback.
func ParseRecordingEvent(query, form url.Values) (RecordingEvent, error) {
	evt := RecordingEvent{
		SessionID:     strings.TrimSpace(query.Get("sessionId")),
		ConferenceSID: strings.TrimSpace(form.Get("ConferenceSid")),
		RecordingSID:  strings.TrimSpace(form.Get("RecordingSid")),
		RecordingURL:  strings.TrimSpace(form.Get("RecordingUrl")),
		Status:        strings.ToLower(strings.TrimSpace(form.Get("RecordingStatus"))),
	}
	if d, err := strconv.Atoi(form.Get("RecordingDuration")); err == nil {
		evt.Duration = d
	}
	if evt.SessionID == "" {
		return RecordingEvent{}, apperrors.NewValidation("sessionId", "is required")
	}
	return evt, nil
}

// MapCallStatus translates a provider call status into a participant status.
// ok is false for progress statuses (queued, initiated, ringing) that change nothing.
func MapCallStatus(status, answeredBy string) (domain.ParticipantStatus, bool) {
	if IsMachine(answeredBy) {
		return domain.ParticipantNoAnswer, true
	}
	switch status {
	case "in-progress", "answered":
		return domain.ParticipantConnected, true
	case "completed":
		return domain.ParticipantDisconnected, true
	case "busy", "no-answer", "failed", "canceled":
		return domain.ParticipantNoAnswer, true
	}
	return "", false
}

// IsMachine reports whether answering-machine detection flagged the leg.
func IsMachine(answeredBy string) bool {
	return strings.HasPrefix(answeredBy, "machine") || answeredBy == "fax"
}

func conferenceEventKind(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "conference-start", "start":
		return ConferenceStart
	case "conference-end", "end":
		return ConferenceEnd
	case "participant-join", "join":
		return ConferenceJoin
	case "participant-leave", "leave":
		return ConferenceLeave
	}
	return raw
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
