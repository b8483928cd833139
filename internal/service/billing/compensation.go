package billing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/payment"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/repository"
	"github.com/acme/call-session-orchestrator/internal/service/lease"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// Compensator releases or returns a session's funds after a failure or cancellation.
type Compensator struct {
	store    repository.SessionStore
	payments payment.Provider
	locker   lease.Locker
	audit    repository.AuditLog
	events   Events
	log      *logger.Logger
	now      func() time.Time
}

// NewCompensator constructs a compensation handler.
func NewCompensator(
	store repository.SessionStore,
	payments payment.Provider,
	locker lease.Locker,
	audit repository.AuditLog,
	events Events,
	log *logger.Logger,
) *Compensator {
	return &Compensator{
		store:    store,
		payments: payments,
		locker:   locker,
		audit:    audit,
		events:   events,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Refund cancels an authorized hold or refunds a captured payment.
// Sessions whose payment is already refunded or canceled are left untouched.
func (c *Compensator) Refund(ctx context.Context, sessionID, reason string) error {
	ctx, span := tracer.Start(ctx, "billing.refund")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("reason", reason))
	log := c.log.WithContext(ctx).ForSession(sessionID)

	release, err := c.locker.Lock(ctx, "refund:"+sessionID)
	if err != nil {
		return fmt.Errorf("billing: acquire refund lease: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("billing: release refund lease failed", zap.Error(err))
		}
	}()

	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("billing: load session: %w", err)
	}

	switch s.Payment.Status {
	case domain.PaymentAuthorized:
		return c.cancelHold(ctx, log, s, reason)
	case domain.PaymentCaptured:
		return c.refundCapture(ctx, log, s, reason)
	default:
		log.Debug("billing: payment already settled", zap.String("payment_status", string(s.Payment.Status)))
		return nil
	}
}

func (c *Compensator) cancelHold(ctx context.Context, log *logger.Logger, s *domain.CallSession, reason string) error {
	if err := c.payments.Cancel(ctx, s.Payment.IntentID, "cancel-"+s.ID); err != nil {
		log.Error("billing: cancel hold failed", zap.String("intent_id", s.Payment.IntentID), zap.Error(err))
		return &apperrors.SystemError{Op: "billing: cancel hold", Err: err}
	}

	now := c.now()
	err := c.store.Update(ctx, s.ID, repository.Fields{
		"payment.status":     domain.PaymentCanceled,
		"payment.canceledAt": now,
	}, repository.Condition{Field: "payment.status", In: []string{string(domain.PaymentAuthorized)}})
	if err != nil && !apperrors.Is(err, apperrors.ErrConflict) {
		return fmt.Errorf("billing: persist cancel: %w", err)
	}

	log.Info("billing: payment hold canceled", zap.String("reason", reason))
	appendAudit(ctx, c.audit, log, s.ID, "payment.canceled", "system", map[string]any{
		"intentId": s.Payment.IntentID,
		"reason":   reason,
	}, now)
	publish(ctx, c.events, log, queue.SessionEvent{
		Type:       queue.EventPaymentCanceled,
		SessionID:  s.ID,
		Reason:     reason,
		OccurredAt: now,
	})
	return nil
}

func (c *Compensator) refundCapture(ctx context.Context, log *logger.Logger, s *domain.CallSession, reason string) error {
	refundID, err := c.payments.Refund(ctx, s.Payment.IntentID, s.Payment.Amount, "refund-"+s.ID)
	if err != nil {
		log.Error("billing: refund failed", zap.String("intent_id", s.Payment.IntentID), zap.Error(err))
		return &apperrors.SystemError{Op: "billing: refund", Err: err}
	}

	now := c.now()
	err = c.store.Update(ctx, s.ID, repository.Fields{
		"payment.status":     domain.PaymentRefunded,
		"payment.refundId":   refundID,
		"payment.refundedAt": now,
	}, repository.Condition{Field: "payment.status", In: []string{string(domain.PaymentCaptured)}})
	if err != nil && !apperrors.Is(err, apperrors.ErrConflict) {
		return fmt.Errorf("billing: persist refund: %w", err)
	}

	log.Info("billing: payment refunded", zap.String("refund_id", refundID), zap.String("reason", reason))
	appendAudit(ctx, c.audit, log, s.ID, "payment.refunded", "system", map[string]any{
		"intentId": s.Payment.IntentID,
		"refundId": refundID,
		"amount":   s.Payment.Amount,
		"reason":   reason,
	}, now)
	publish(ctx, c.events, log, queue.SessionEvent{
		Type:       queue.EventPaymentRefunded,
		SessionID:  s.ID,
		Reason:     reason,
		Data:       map[string]any{"refundId": refundID, "amount": s.Payment.Amount},
		OccurredAt: now,
	})
	return nil
}
