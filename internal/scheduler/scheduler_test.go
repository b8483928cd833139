package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

type fakeStarter struct {
	mu      sync.Mutex
	started []string
	errs    map[string]error
	pending map[string]bool
}

func (f *fakeStarter) StartQueued(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		delete(f.errs, id)
		return false, err
	}
	if !f.pending[id] {
		return false, nil
	}
	f.started = append(f.started, id)
	return true, nil
}

func (f *fakeStarter) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func TestQueueStartsOnePerTickInOrder(t *testing.T) {
	starter := &fakeStarter{pending: map[string]bool{"a": true, "b": true, "c": true}}
	q := New(starter, time.Hour, logger.Nop())
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	q.tick(context.Background())
	if got := starter.order(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only a after one tick, got %v", got)
	}
	q.tick(context.Background())
	q.tick(context.Background())
	got := starter.order()
	if len(got) != 3 || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected FIFO order, got %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueSkipsNonPendingAndRequeuesErrors(t *testing.T) {
	starter := &fakeStarter{
		pending: map[string]bool{"retry": true},
		errs: map[string]error{
			"retry": errors.New("store unavailable"),
			"gone":  apperrors.ErrNotFound,
		},
	}
	q := New(starter, time.Hour, logger.Nop())
	q.Enqueue("done")
	q.Enqueue("retry")
	q.Enqueue("gone")

	for i := 0; i < 3; i++ {
		q.tick(context.Background())
	}
	if q.Len() != 1 {
		t.Fatalf("expected the failed session requeued, got %d queued", q.Len())
	}
	q.tick(context.Background())
	if got := starter.order(); len(got) != 1 || got[0] != "retry" {
		t.Fatalf("expected retry started on second pass, got %v", got)
	}
}

func TestQueueRunDrains(t *testing.T) {
	starter := &fakeStarter{pending: map[string]bool{"a": true, "b": true}}
	q := New(starter, 5*time.Millisecond, logger.Nop())
	q.Enqueue("a")
	q.Enqueue("b")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	deadline := time.After(time.Second)
	for len(starter.order()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("queue not drained, started %v", starter.order())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected run error %v", err)
	}
}
