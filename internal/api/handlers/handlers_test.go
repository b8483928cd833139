package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

type fakeSessions struct {
	sessions     map[string]*domain.CallSession
	participants []telephony.ParticipantEvent
	conferences  []telephony.ConferenceEvent
	recordings   []telephony.RecordingEvent
	cancelled    map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: map[string]*domain.CallSession{
			"s1": {ID: "s1", Status: domain.SessionStatusPending},
			"s2": {ID: "s2", Status: domain.SessionStatusCompleted},
		},
		cancelled: map[string]string{},
	}
}

func (f *fakeSessions) Session(_ context.Context, id string) (*domain.CallSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("store: get %s: %w", id, apperrors.ErrNotFound)
	}
	return s, nil
}

func (f *fakeSessions) Attempts(_ context.Context, id string) ([]domain.DialAttempt, error) {
	return []domain.DialAttempt{{SessionID: id, Role: domain.RoleProvider, AttemptNum: 1, Connected: true}}, nil
}

func (f *fakeSessions) History(context.Context, string) ([]domain.AuditRecord, error) {
	return nil, nil
}

func (f *fakeSessions) CancelSession(_ context.Context, id, reason, by string) error {
	s, err := f.Session(context.Background(), id)
	if err != nil {
		return err
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: session %s is already %s", apperrors.ErrConflict, id, s.Status)
	}
	f.cancelled[id] = reason + "/" + by
	s.Status = domain.SessionStatusCancelled
	return nil
}

func (f *fakeSessions) HandleParticipantStatus(_ context.Context, evt telephony.ParticipantEvent) error {
	if _, ok := f.sessions[evt.SessionID]; !ok {
		return fmt.Errorf("webhook: %w", apperrors.ErrNotFound)
	}
	f.participants = append(f.participants, evt)
	return nil
}

func (f *fakeSessions) HandleConferenceStatus(_ context.Context, evt telephony.ConferenceEvent) error {
	f.conferences = append(f.conferences, evt)
	return nil
}

func (f *fakeSessions) HandleRecordingStatus(_ context.Context, evt telephony.RecordingEvent) error {
	f.recordings = append(f.recordings, evt)
	return nil
}

func newTestApp(sessions Sessions, checks map[string]HealthCheck) *fiber.App {
	h := NewHandlerSet(sessions, checks, logger.Nop())
	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler})
	h.Register(app)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func formRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHealth(t *testing.T) {
	app := newTestApp(newFakeSessions(), map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	if code, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/healthz", nil)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	app = newTestApp(newFakeSessions(), map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("down") },
	})
	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "redis") {
		t.Fatalf("expected 503 naming redis, got %d %s", code, body)
	}
}

func TestGetSession(t *testing.T) {
	app := newTestApp(newFakeSessions(), nil)

	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1", nil))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var s domain.CallSession
	if err := json.Unmarshal([]byte(body), &s); err != nil || s.ID != "s1" {
		t.Fatalf("unexpected body %s (%v)", body, err)
	}

	if code, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestListAttemptsAndAudit(t *testing.T) {
	app := newTestApp(newFakeSessions(), nil)

	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/attempts", nil))
	if code != http.StatusOK || !strings.Contains(body, `"attempt":1`) {
		t.Fatalf("unexpected attempts response %d %s", code, body)
	}
	code, body = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/audit", nil))
	if code != http.StatusOK || !strings.Contains(body, `"records":[]`) {
		t.Fatalf("unexpected audit response %d %s", code, body)
	}
}

func TestCancelSession(t *testing.T) {
	sessions := newFakeSessions()
	app := newTestApp(sessions, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/cancel", strings.NewReader(`{"reason":"client_request","cancelled_by":"client-1"}`))
	req.Header.Set("Content-Type", "application/json")
	if code, body := do(t, app, req); code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", code, body)
	}
	if sessions.cancelled["s1"] != "client_request/client-1" {
		t.Fatalf("unexpected cancel call %v", sessions.cancelled)
	}

	if code, _ := do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s2/cancel", nil)); code != http.StatusConflict {
		t.Fatalf("expected 409 for a terminal session, got %d", code)
	}
}

func TestParticipantWebhook(t *testing.T) {
	sessions := newFakeSessions()
	app := newTestApp(sessions, nil)

	req := formRequest("/webhooks/telephony/participant?sessionId=s1&role=provider&attempt=2", "CallSid=CA1&CallStatus=in-progress")
	if code, body := do(t, app, req); code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", code, body)
	}
	if len(sessions.participants) != 1 {
		t.Fatalf("expected one participant event")
	}
	evt := sessions.participants[0]
	if evt.Role != domain.RoleProvider || evt.Attempt != 2 || evt.CallID != "CA1" || evt.Status != "in-progress" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestParticipantWebhookUnknownSessionAcknowledged(t *testing.T) {
	app := newTestApp(newFakeSessions(), nil)
	req := formRequest("/webhooks/telephony/participant?sessionId=gone&role=client", "CallSid=CA9&CallStatus=completed")
	if code, _ := do(t, app, req); code != http.StatusOK {
		t.Fatalf("unknown sessions must be acknowledged, got %d", code)
	}
}

func TestParticipantWebhookMalformed(t *testing.T) {
	app := newTestApp(newFakeSessions(), nil)
	req := formRequest("/webhooks/telephony/participant?sessionId=s1", "CallStatus=completed")
	if code, _ := do(t, app, req); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without CallSid, got %d", code)
	}
}

func TestConferenceAndRecordingWebhooks(t *testing.T) {
	sessions := newFakeSessions()
	app := newTestApp(sessions, nil)

	req := formRequest("/webhooks/telephony/conference?sessionId=s1", "ConferenceSid=CF1&FriendlyName=conf-p-s1&StatusCallbackEvent=conference-end&Duration=130")
	if code, _ := do(t, app, req); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(sessions.conferences) != 1 || sessions.conferences[0].Event != telephony.ConferenceEnd {
		t.Fatalf("unexpected conference events %+v", sessions.conferences)
	}
	if d := sessions.conferences[0].Duration; d == nil || *d != 130 {
		t.Fatalf("expected advisory duration 130")
	}

	req = formRequest("/webhooks/telephony/recording?sessionId=s1", "RecordingSid=RE1&RecordingUrl=https%3A%2F%2Frec.example%2FRE1&RecordingStatus=completed")
	if code, _ := do(t, app, req); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(sessions.recordings) != 1 || sessions.recordings[0].RecordingURL != "https://rec.example/RE1" {
		t.Fatalf("unexpected recording events %+v", sessions.recordings)
	}
}
