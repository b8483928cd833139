package domain

import "testing"

func TestCanTransitionForwardPath(t *testing.T) {
	path := []SessionStatus{
		SessionStatusPending,
		SessionStatusProviderConnecting,
		SessionStatusClientConnecting,
		SessionStatusBothConnecting,
		SessionStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}

	if CanTransition(SessionStatusPending, SessionStatusClientConnecting) {
		t.Fatalf("expected skipping a stage to be rejected")
	}
	if CanTransition(SessionStatusClientConnecting, SessionStatusProviderConnecting) {
		t.Fatalf("expected backwards transition to be rejected")
	}
}

func TestCanTransitionTerminalStates(t *testing.T) {
	terminal := []SessionStatus{SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled}
	all := append(append([]SessionStatus{}, ActiveStatuses...), terminal...)

	for _, from := range terminal {
		for _, to := range all {
			if CanTransition(from, to) {
				t.Fatalf("expected no transition out of terminal %s (to %s)", from, to)
			}
		}
	}

	for _, from := range ActiveStatuses {
		if !CanTransition(from, SessionStatusFailed) {
			t.Fatalf("expected %s -> failed to be allowed", from)
		}
		if !CanTransition(from, SessionStatusCancelled) {
			t.Fatalf("expected %s -> cancelled to be allowed", from)
		}
	}
}

func TestPredecessorsOf(t *testing.T) {
	preds := PredecessorsOf(SessionStatusClientConnecting)
	if len(preds) != 1 || preds[0] != SessionStatusProviderConnecting {
		t.Fatalf("unexpected predecessors: %v", preds)
	}
	if got := len(PredecessorsOf(SessionStatusFailed)); got != len(ActiveStatuses) {
		t.Fatalf("expected every active status to reach failed, got %d", got)
	}
}

func TestEarlyDisconnectReason(t *testing.T) {
	if got := EarlyDisconnectReason(RoleClient); got != "early_disconnect_client" {
		t.Fatalf("unexpected reason %q", got)
	}
}
