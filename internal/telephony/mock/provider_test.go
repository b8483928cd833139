package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acme/call-session-orchestrator/internal/config"
	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

type recordingSink struct {
	mu           sync.Mutex
	participants []telephony.ParticipantEvent
	conferences  []telephony.ConferenceEvent
	ended        chan struct{}
}

func (s *recordingSink) HandleParticipantStatus(_ context.Context, evt telephony.ParticipantEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append(s.participants, evt)
	return nil
}

func (s *recordingSink) HandleConferenceStatus(_ context.Context, evt telephony.ConferenceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conferences = append(s.conferences, evt)
	if evt.Event == telephony.ConferenceEnd {
		close(s.ended)
	}
	return nil
}

func TestProviderBridgesBothLegs(t *testing.T) {
	p := NewProvider(config.MockTelephony{AnswerRate: 1, RingDelay: time.Millisecond, TalkTime: 10 * time.Millisecond}, logger.Nop())
	sink := &recordingSink{ended: make(chan struct{})}
	p.Attach(sink)

	cb := telephony.Callbacks{BaseURL: "http://localhost"}
	ctx := context.Background()
	for _, role := range []domain.Role{domain.RoleProvider, domain.RoleClient} {
		if _, err := p.PlaceCall(ctx, telephony.PlaceCallRequest{
			ConferenceName:    "conf-p-s1",
			StatusCallbackURL: cb.Participant("s1", role, 1),
		}); err != nil {
			t.Fatalf("place call: %v", err)
		}
	}

	select {
	case <-sink.ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("conference never ended")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.conferences) != 2 || sink.conferences[0].Event != telephony.ConferenceStart {
		t.Fatalf("expected start then end, got %+v", sink.conferences)
	}
	statuses := map[string]int{}
	for _, evt := range sink.participants {
		if evt.SessionID != "s1" {
			t.Fatalf("unexpected session %q", evt.SessionID)
		}
		statuses[evt.Status]++
	}
	if statuses["in-progress"] != 2 || statuses["completed"] != 2 {
		t.Fatalf("unexpected participant statuses %v", statuses)
	}
}

func TestCancelRingingCall(t *testing.T) {
	p := NewProvider(config.MockTelephony{AnswerRate: 1, RingDelay: time.Hour}, logger.Nop())
	sink := &recordingSink{ended: make(chan struct{})}
	p.Attach(sink)

	id, _ := p.PlaceCall(context.Background(), telephony.PlaceCallRequest{
		ConferenceName:    "c",
		StatusCallbackURL: telephony.Callbacks{}.Participant("s2", domain.RoleClient, 1),
	})
	if err := p.CancelCall(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.participants) != 1 || sink.participants[0].Status != "completed" {
		t.Fatalf("expected a single completed callback, got %+v", sink.participants)
	}
}
