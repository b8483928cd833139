package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

func newSession(id string) *domain.CallSession {
	return &domain.CallSession{
		ID:     id,
		Status: domain.SessionStatusPending,
		Participants: domain.Participants{
			Provider: domain.Participant{Phone: "+33611111111", Status: domain.ParticipantPending},
			Client:   domain.Participant{Phone: "+33622222222", Status: domain.ParticipantPending},
		},
		Payment:  domain.Payment{IntentID: "pi_1", Status: domain.PaymentAuthorized, Amount: 5000},
		Metadata: domain.Metadata{ProviderID: "prov", ClientID: "cli", CreatedAt: time.Now().UTC()},
	}
}

func TestSetRejectsDuplicateID(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	if err := store.Set(ctx, newSession("s1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, newSession("s1")); !apperrors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateNestedFields(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Set(ctx, newSession("s1"))

	now := time.Now().UTC().Truncate(time.Second)
	err := store.Update(ctx, "s1", repository.Fields{
		"participants.provider.status":      domain.ParticipantConnected,
		"participants.provider.connectedAt": now,
		"conference.duration":               130,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Participants.Provider.Status != domain.ParticipantConnected {
		t.Fatalf("expected connected, got %s", got.Participants.Provider.Status)
	}
	if got.Participants.Provider.ConnectedAt == nil || !got.Participants.Provider.ConnectedAt.Equal(now) {
		t.Fatalf("unexpected connectedAt %v", got.Participants.Provider.ConnectedAt)
	}
	if got.Conference.DurationSeconds() != 130 {
		t.Fatalf("unexpected duration %d", got.Conference.DurationSeconds())
	}
	if got.Participants.Client.Status != domain.ParticipantPending {
		t.Fatalf("expected client untouched, got %s", got.Participants.Client.Status)
	}
}

func TestUpdateCondition(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Set(ctx, newSession("s1"))

	if err := store.Update(ctx, "s1", repository.Fields{"status": domain.SessionStatusCancelled}, repository.NotTerminal()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	err := store.Update(ctx, "s1", repository.Fields{"status": domain.SessionStatusCompleted}, repository.NotTerminal())
	if !apperrors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict after terminal, got %v", err)
	}
	got, _ := store.Get(ctx, "s1")
	if got.Status != domain.SessionStatusCancelled {
		t.Fatalf("expected cancelled to stick, got %s", got.Status)
	}

	if err := store.Update(ctx, "missing", repository.Fields{"status": "x"}); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIncrementFieldConcurrent(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Set(ctx, newSession("s1"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementField(ctx, "s1", "participants.client.attemptCount"); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "s1")
	if got.Participants.Client.AttemptCount != 20 {
		t.Fatalf("expected 20 attempts, got %d", got.Participants.Client.AttemptCount)
	}
}

func TestQueryFilters(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	a := newSession("a")
	b := newSession("b")
	b.Status = domain.SessionStatusCompleted
	c := newSession("c")
	c.Participants.Provider.CallID = "CA123"
	for _, s := range []*domain.CallSession{a, b, c} {
		_ = store.Set(ctx, s)
	}

	active, err := store.Query(ctx, repository.Filter{Field: "status", In: []string{"pending", "provider_connecting"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "c" {
		t.Fatalf("unexpected active sessions: %d", len(active))
	}

	byCall, _ := store.Query(ctx, repository.Eq("participants.provider.callId", "CA123"))
	if len(byCall) != 1 || byCall[0].ID != "c" {
		t.Fatalf("expected to find session by call id, got %d", len(byCall))
	}
}
