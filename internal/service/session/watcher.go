package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

type waiter struct {
	attempt int
	ch      chan domain.ParticipantStatus
}

// Watcher waits for a dialled participant to connect. Webhooks handled in this
// process wake it through Notify; a store poll covers callbacks that land elsewhere.
type Watcher struct {
	store        repository.SessionStore
	pollInterval time.Duration
	maxWait      time.Duration
	log          *logger.Logger

	mu      sync.Mutex
	waiters map[string]*waiter
}

// NewWatcher constructs a connection watcher.
func NewWatcher(store repository.SessionStore, pollInterval, maxWait time.Duration, log *logger.Logger) *Watcher {
	return &Watcher{
		store:        store,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		log:          log,
		waiters:      make(map[string]*waiter),
	}
}

func waiterKey(sessionID string, role domain.Role) string {
	return sessionID + "/" + string(role)
}

// Notify delivers a participant status to a pending wait for the same attempt.
func (w *Watcher) Notify(sessionID string, role domain.Role, attempt int, status domain.ParticipantStatus) {
	w.mu.Lock()
	wt, ok := w.waiters[waiterKey(sessionID, role)]
	w.mu.Unlock()
	if !ok || (attempt > 0 && attempt != wt.attempt) {
		return
	}
	select {
	case wt.ch <- status:
	default:
	}
}

// WaitForConnection blocks until the participant's attempt connects, fails, or
// the wait is exhausted. It returns true only on connection.
func (w *Watcher) WaitForConnection(ctx context.Context, sessionID string, role domain.Role, attempt int) bool {
	key := waiterKey(sessionID, role)
	wt := &waiter{attempt: attempt, ch: make(chan domain.ParticipantStatus, 4)}
	w.mu.Lock()
	w.waiters[key] = wt
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.waiters[key] == wt {
			delete(w.waiters, key)
		}
		w.mu.Unlock()
	}()

	if done, connected := w.poll(ctx, sessionID, role, attempt); done {
		return connected
	}

	deadline := time.NewTimer(w.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			w.log.ForSession(sessionID).Info("watcher: connection wait timed out",
				zap.String("role", string(role)), zap.Int("attempt", attempt))
			return false
		case status := <-wt.ch:
			if done, connected := decide(status); done {
				return connected
			}
		case <-ticker.C:
			if done, connected := w.poll(ctx, sessionID, role, attempt); done {
				return connected
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context, sessionID string, role domain.Role, attempt int) (done, connected bool) {
	s, err := w.store.Get(ctx, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			w.log.ForSession(sessionID).Warn("watcher: poll session failed", zap.Error(err))
		}
		return false, false
	}
	if s.Status.IsTerminal() {
		return true, false
	}
	p := s.Participant(role)
	if p.AttemptCount != attempt {
		return false, false
	}
	return decide(p.Status)
}

func decide(status domain.ParticipantStatus) (done, connected bool) {
	switch status {
	case domain.ParticipantConnected:
		return true, true
	case domain.ParticipantDisconnected, domain.ParticipantNoAnswer:
		return true, false
	}
	return false, false
}
