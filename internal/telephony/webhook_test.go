package telephony

import (
	"net/url"
	"testing"
	"time"

	"github.com/acme/call-session-orchestrator/internal/domain"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

func TestParseParticipantEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	query := url.Values{"sessionId": {"s1"}, "role": {"client"}, "attempt": {"2"}}
	form := url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"In-Progress"},
		"Timestamp":  {"Sun, 01 Mar 2026 09:59:30 +0000"},
	}

	evt, err := ParseParticipantEvent(query, form, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.SessionID != "s1" || evt.Role != domain.RoleClient || evt.Attempt != 2 || evt.CallID != "CA1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Status != "in-progress" {
		t.Fatalf("expected lower-cased status, got %q", evt.Status)
	}
	if !evt.Timestamp.Equal(now.Add(-30 * time.Second)) {
		t.Fatalf("unexpected timestamp %s", evt.Timestamp)
	}
}

func TestParseParticipantEventValidation(t *testing.T) {
	cases := []struct {
		query url.Values
		form  url.Values
	}{
		{url.Values{}, url.Values{"CallStatus": {"completed"}}},
		{url.Values{}, url.Values{"CallSid": {"CA1"}}},
		{url.Values{"role": {"agent"}}, url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}},
		{url.Values{"attempt": {"zero"}}, url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}},
	}
	for i, tc := range cases {
		if _, err := ParseParticipantEvent(tc.query, tc.form, time.Now()); !apperrors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestMapCallStatus(t *testing.T) {
	cases := []struct {
		status     string
		answeredBy string
		want       domain.ParticipantStatus
		ok         bool
	}{
		{"in-progress", "", domain.ParticipantConnected, true},
		{"answered", "human", domain.ParticipantConnected, true},
		{"completed", "", domain.ParticipantDisconnected, true},
		{"busy", "", domain.ParticipantNoAnswer, true},
		{"no-answer", "", domain.ParticipantNoAnswer, true},
		{"failed", "", domain.ParticipantNoAnswer, true},
		{"canceled", "", domain.ParticipantNoAnswer, true},
		{"in-progress", "machine_end_beep", domain.ParticipantNoAnswer, true},
		{"ringing", "", "", false},
		{"initiated", "", "", false},
	}
	for _, tc := range cases {
		got, ok := MapCallStatus(tc.status, tc.answeredBy)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("MapCallStatus(%q, %q) = %q, %v; want %q, %v", tc.status, tc.answeredBy, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseConferenceEvent(t *testing.T) {
	form := url.Values{
		"ConferenceSid":       {"CF1"},
		"FriendlyName":        {"conf-p-s1"},
		"StatusCallbackEvent": {"conference-end"},
		"Duration":            {"130"},
	}
	evt, err := ParseConferenceEvent(url.Values{}, form, time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Event != ConferenceEnd || evt.Name != "conf-p-s1" || evt.ConferenceSID != "CF1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Duration == nil || *evt.Duration != 130 {
		t.Fatalf("expected advisory duration 130, got %v", evt.Duration)
	}

	if _, err := ParseConferenceEvent(url.Values{}, url.Values{"StatusCallbackEvent": {"conference-start"}}, time.Now()); err == nil {
		t.Fatalf("expected error without conference name or session")
	}
}

func TestCallbacks(t *testing.T) {
	cb := Callbacks{BaseURL: "https://cb.example/"}
	if got := cb.Participant("s1", domain.RoleProvider, 1); got != "https://cb.example/webhooks/telephony/participant?attempt=1&role=provider&sessionId=s1" {
		t.Fatalf("unexpected participant url %q", got)
	}
}
