package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
)

func TestPgPath(t *testing.T) {
	if got := pgPath("participants.provider.status"); got != "{participants,provider,status}" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := pgPath("status"); got != "{status}" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	query, args, err := buildUpdate("s1", repository.Fields{
		"status":                     domain.SessionStatusCompleted,
		"participants.client.status": domain.ParticipantConnected,
	}, []repository.Condition{repository.NotTerminal(), {Field: "payment.status", In: []string{"authorized"}}}, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if !strings.HasPrefix(query, "UPDATE call_sessions SET doc = jsonb_set(jsonb_set(jsonb_set(doc, $2::text[], $3::jsonb, true)") {
		t.Fatalf("unexpected query prefix: %s", query)
	}
	if !strings.Contains(query, "AND status = ANY($8)") {
		t.Fatalf("expected status condition on the generated column: %s", query)
	}
	if !strings.Contains(query, "AND doc #>> $9::text[] = ANY($10)") {
		t.Fatalf("expected payment condition: %s", query)
	}
	if len(args) != 10 {
		t.Fatalf("expected 10 args, got %d", len(args))
	}
	if args[1] != "{participants,client,status}" || args[2] != `"connected"` {
		t.Fatalf("expected sorted paths first, got %v %v", args[1], args[2])
	}
	if args[3] != "{status}" || args[4] != `"completed"` {
		t.Fatalf("unexpected status args %v %v", args[3], args[4])
	}
	if args[5] != "{metadata,updatedAt}" {
		t.Fatalf("expected updatedAt touch, got %v", args[5])
	}
}
