package request

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/service/session"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

type fakeReader struct {
	mu        sync.Mutex
	committed int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed += len(msgs)
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeSessions struct {
	err       error
	created   []session.CreateParams
	scheduled map[string]int
}

func (f *fakeSessions) CreateSession(_ context.Context, p session.CreateParams) (*domain.CallSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, p)
	return &domain.CallSession{ID: "sess-" + p.RequestID}, nil
}

func (f *fakeSessions) Schedule(id string, delay int) {
	f.scheduled[id] = delay
}

type fakeQueue struct{ ids []string }

func (q *fakeQueue) Enqueue(id string) { q.ids = append(q.ids, id) }

type fakeEvents struct{ events []queue.SessionEvent }

func (e *fakeEvents) PublishEvent(_ context.Context, evt queue.SessionEvent) error {
	e.events = append(e.events, evt)
	return nil
}

func message(t *testing.T, req queue.SessionRequestMessage) kafka.Message {
	t.Helper()
	value, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Value: value}
}

func newWorker(sessions *fakeSessions) (*Worker, *fakeReader, *fakeQueue, *fakeEvents) {
	reader := &fakeReader{}
	q := &fakeQueue{}
	events := &fakeEvents{}
	return New(reader, sessions, q, events, logger.Nop()), reader, q, events
}

func TestProcessSchedulesOrQueues(t *testing.T) {
	sessions := &fakeSessions{scheduled: map[string]int{}}
	w, reader, q, _ := newWorker(sessions)
	ctx := context.Background()

	if err := w.processMessage(ctx, message(t, queue.SessionRequestMessage{RequestID: "r1", ProviderID: "p", DelayMinutes: 3})); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := w.processMessage(ctx, message(t, queue.SessionRequestMessage{RequestID: "r2", ProviderID: "p", Queue: true})); err != nil {
		t.Fatalf("process: %v", err)
	}

	if sessions.scheduled["sess-r1"] != 3 {
		t.Fatalf("expected r1 scheduled with delay 3, got %v", sessions.scheduled)
	}
	if len(q.ids) != 1 || q.ids[0] != "sess-r2" {
		t.Fatalf("expected r2 queued, got %v", q.ids)
	}
	if reader.committed != 2 {
		t.Fatalf("expected both messages committed, got %d", reader.committed)
	}
}

func TestProcessRejectsFailedCreation(t *testing.T) {
	sessions := &fakeSessions{err: &apperrors.ConcurrencyLimitError{Active: 50, Limit: 50}, scheduled: map[string]int{}}
	w, reader, _, events := newWorker(sessions)

	if err := w.processMessage(context.Background(), message(t, queue.SessionRequestMessage{RequestID: "r3"})); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(events.events) != 1 || events.events[0].Type != queue.EventRequestRejected {
		t.Fatalf("expected rejection event, got %+v", events.events)
	}
	if reader.committed != 1 {
		t.Fatalf("rejected message must still be committed")
	}
}

func TestProcessMalformedMessage(t *testing.T) {
	w, reader, _, events := newWorker(&fakeSessions{scheduled: map[string]int{}})
	if err := w.processMessage(context.Background(), kafka.Message{Value: []byte("{")}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(events.events) != 1 || reader.committed != 1 {
		t.Fatalf("malformed message must be rejected and committed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w, _, _, _ := newWorker(&fakeSessions{scheduled: map[string]int{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
