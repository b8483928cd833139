package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/repository"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

// CancelSession stops a session that has not finished yet and releases its hold.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID, reason, cancelledBy string) error {
	ctx, span := tracer.Start(ctx, "session.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))
	log := o.log.WithContext(ctx).ForSession(sessionID)

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load session: %w", err)
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: session %s is already %s", apperrors.ErrConflict, sessionID, s.Status)
	}

	// The pending timer or sequence stays armed until the cancellation is stored.
	err = o.transition(ctx, sessionID, domain.SessionStatusCancelled, repository.Fields{
		"cancelReason": reason,
		"cancelledBy":  cancelledBy,
		"cancelledAt":  o.now(),
	})
	if err != nil {
		return fmt.Errorf("orchestrator: cancel session: %w", err)
	}
	o.handles.abort(sessionID)
	log.Info("orchestrator: session cancelled", zap.String("reason", reason), zap.String("cancelled_by", cancelledBy))

	ctx = context.WithoutCancel(ctx)
	// Legs dialed while the cancellation was being written are only on the reloaded document.
	if latest, err := o.store.Get(ctx, sessionID); err == nil {
		s = latest
	}
	o.hangUpLive(ctx, log, s)
	if err := o.compensator.Refund(ctx, sessionID, domain.ReasonCancelled); err != nil {
		log.Error("orchestrator: compensation failed", zap.Error(err))
	}
	o.notify(ctx, log, messageVars(sessionID, 0), cancellationMessages(s))

	o.record(ctx, log, sessionID, "session.cancelled", cancelledBy, map[string]any{"reason": reason})
	o.publish(ctx, log, queue.SessionEvent{
		Type:      queue.EventSessionCancelled,
		SessionID: sessionID,
		Status:    string(domain.SessionStatusCancelled),
		Reason:    reason,
		Actor:     cancelledBy,
	})
	return nil
}

// Session returns the current session document.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*domain.CallSession, error) {
	return o.store.Get(ctx, sessionID)
}

// Attempts lists the dial attempts recorded for a session.
func (o *Orchestrator) Attempts(ctx context.Context, sessionID string) ([]domain.DialAttempt, error) {
	return o.dialer.attempts.ListAttempts(ctx, sessionID)
}

// History lists the audit trail of a session.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]domain.AuditRecord, error) {
	return o.audit.List(ctx, sessionID)
}
