// Package scheduler drains sessions that were queued for a later start.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// Starter launches a queued session. started is false when the session is no
// longer pending.
type Starter interface {
	StartQueued(ctx context.Context, sessionID string) (started bool, err error)
}

// Queue is a FIFO of session ids started one per tick.
type Queue struct {
	starter  Starter
	interval time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	ids      []string
	draining atomic.Bool
}

// New constructs a queue draining every interval.
func New(starter Starter, interval time.Duration, log *logger.Logger) *Queue {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Queue{starter: starter, interval: interval, log: log}
}

// Enqueue appends a session to the back of the queue.
func (q *Queue) Enqueue(sessionID string) {
	q.mu.Lock()
	q.ids = append(q.ids, sessionID)
	n := len(q.ids)
	q.mu.Unlock()
	q.log.ForSession(sessionID).Info("scheduler: session queued", zap.Int("queue_length", n))
}

// Len returns the number of waiting sessions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Run drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		q.tick(ctx)
	}
}

func (q *Queue) tick(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	id, ok := q.pop()
	if !ok {
		return
	}

	tracer := otel.Tracer("callsession.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))
	log := q.log.WithContext(sctx).ForSession(id)

	started, err := q.starter.StartQueued(sctx, id)
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		log.Warn("scheduler: queued session vanished", zap.Error(err))
	case err != nil:
		span.RecordError(err)
		log.Error("scheduler: start queued session failed, requeueing", zap.Error(err))
		q.Enqueue(id)
	case !started:
		log.Info("scheduler: queued session no longer pending")
	default:
		log.Info("scheduler: queued session started")
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}
