package session

import (
	"context"
	"testing"
	"time"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
	"github.com/acme/call-session-orchestrator/internal/repository/memory"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

func seedDialling(t *testing.T, store *memory.SessionStore, id string) {
	t.Helper()
	err := store.Set(context.Background(), &domain.CallSession{
		ID:     id,
		Status: domain.SessionStatusProviderConnecting,
		Participants: domain.Participants{
			Provider: domain.Participant{Phone: providerPhone, Status: domain.ParticipantPending, AttemptCount: 1},
			Client:   domain.Participant{Phone: clientPhone, Status: domain.ParticipantPending},
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestWatcherNotifyWakesWaiter(t *testing.T) {
	store := memory.NewSessionStore()
	seedDialling(t, store, "w1")
	w := NewWatcher(store, time.Hour, time.Second, logger.Nop())

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Notify("w1", domain.RoleProvider, 1, domain.ParticipantConnected)
	}()
	start := time.Now()
	if !w.WaitForConnection(context.Background(), "w1", domain.RoleProvider, 1) {
		t.Fatalf("expected connection")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("notify should wake the waiter without polling")
	}
}

func TestWatcherIgnoresOtherAttempts(t *testing.T) {
	store := memory.NewSessionStore()
	seedDialling(t, store, "w2")
	w := NewWatcher(store, time.Hour, 100*time.Millisecond, logger.Nop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Notify("w2", domain.RoleProvider, 3, domain.ParticipantConnected)
	}()
	if w.WaitForConnection(context.Background(), "w2", domain.RoleProvider, 1) {
		t.Fatalf("a callback for another attempt must not connect this one")
	}
}

func TestWatcherPollFallback(t *testing.T) {
	store := memory.NewSessionStore()
	seedDialling(t, store, "w3")
	w := NewWatcher(store, 10*time.Millisecond, time.Second, logger.Nop())

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = store.Update(context.Background(), "w3", repository.Fields{"participants.provider.status": domain.ParticipantConnected})
	}()
	if !w.WaitForConnection(context.Background(), "w3", domain.RoleProvider, 1) {
		t.Fatalf("expected poll to observe the connection")
	}
}

func TestWatcherStopsOnFailureStatuses(t *testing.T) {
	for _, status := range []domain.ParticipantStatus{domain.ParticipantNoAnswer, domain.ParticipantDisconnected} {
		store := memory.NewSessionStore()
		seedDialling(t, store, "w4")
		w := NewWatcher(store, time.Hour, 5*time.Second, logger.Nop())
		go func() {
			time.Sleep(10 * time.Millisecond)
			w.Notify("w4", domain.RoleProvider, 1, status)
		}()
		start := time.Now()
		if w.WaitForConnection(context.Background(), "w4", domain.RoleProvider, 1) {
			t.Fatalf("%s must not count as connected", status)
		}
		if time.Since(start) > time.Second {
			t.Fatalf("%s should end the wait immediately", status)
		}
	}
}

func TestWatcherTimeoutAndCancellation(t *testing.T) {
	store := memory.NewSessionStore()
	seedDialling(t, store, "w5")
	w := NewWatcher(store, 10*time.Millisecond, 50*time.Millisecond, logger.Nop())
	if w.WaitForConnection(context.Background(), "w5", domain.RoleProvider, 1) {
		t.Fatalf("expected timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w = NewWatcher(store, time.Hour, time.Hour, logger.Nop())
	if w.WaitForConnection(ctx, "w5", domain.RoleProvider, 1) {
		t.Fatalf("cancelled context must not connect")
	}
}

func TestWatcherTerminalSession(t *testing.T) {
	store := memory.NewSessionStore()
	seedDialling(t, store, "w6")
	_ = store.Update(context.Background(), "w6", repository.Fields{"status": domain.SessionStatusCancelled})
	w := NewWatcher(store, time.Hour, time.Hour, logger.Nop())
	if w.WaitForConnection(context.Background(), "w6", domain.RoleProvider, 1) {
		t.Fatalf("terminal session must not connect")
	}
}

func TestHandlesLifecycle(t *testing.T) {
	h := newHandles()
	fired := make(chan struct{}, 1)
	h.setTimer("s", time.AfterFunc(time.Hour, func() { fired <- struct{}{} }))
	if !h.clearTimer("s") || h.clearTimer("s") {
		t.Fatalf("clearTimer should report a pending timer exactly once")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !h.begin("s", cancel) || h.begin("s", func() {}) {
		t.Fatalf("only one sequence may run per session")
	}
	h.abort("s")
	if ctx.Err() == nil {
		t.Fatalf("abort must cancel the running sequence")
	}
	h.end("s")
	if h.len() != 0 {
		t.Fatalf("expected empty registry, got %d", h.len())
	}
}
