// Package billing decides when a session's payment hold is captured and
// releases it on every failure path.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/payment"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/repository"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

var tracer = otel.Tracer("callsession.billing")

// Events publishes session lifecycle events.
type Events interface {
	PublishEvent(ctx context.Context, evt queue.SessionEvent) error
}

// Gate captures the payment hold once a session has earned it.
type Gate struct {
	store       repository.SessionStore
	payments    payment.Provider
	reviews     repository.ReviewRequests
	audit       repository.AuditLog
	events      Events
	minDuration time.Duration
	log         *logger.Logger
	now         func() time.Time
}

// NewGate constructs a payment gate.
func NewGate(
	store repository.SessionStore,
	payments payment.Provider,
	reviews repository.ReviewRequests,
	audit repository.AuditLog,
	events Events,
	minDuration time.Duration,
	log *logger.Logger,
) *Gate {
	return &Gate{
		store:       store,
		payments:    payments,
		reviews:     reviews,
		audit:       audit,
		events:      events,
		minDuration: minDuration,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ShouldCapture reports whether both participants were bridged for at least
// minDuration while the hold is still authorized.
func ShouldCapture(s *domain.CallSession, minDuration time.Duration) bool {
	if s == nil {
		return false
	}
	return s.Participants.Provider.Status == domain.ParticipantConnected &&
		s.Participants.Client.Status == domain.ParticipantConnected &&
		s.Conference.StartedAt != nil &&
		time.Duration(s.Conference.DurationSeconds())*time.Second >= minDuration &&
		s.Payment.Status == domain.PaymentAuthorized
}

// ShouldCapture evaluates the capture predicate with the configured minimum.
func (g *Gate) ShouldCapture(s *domain.CallSession) bool {
	return ShouldCapture(s, g.minDuration)
}

// Capture loads the session and charges the hold. An already captured payment is a no-op.
func (g *Gate) Capture(ctx context.Context, sessionID string) error {
	s, err := g.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("billing: load session: %w", err)
	}
	return g.CaptureSnapshot(ctx, s)
}

// CaptureSnapshot charges the hold when s satisfies the capture predicate.
// s is the state the caller decided on; participant writes that landed after it
// was read do not change the outcome. The store only re-checks that the
// payment is still authorized.
func (g *Gate) CaptureSnapshot(ctx context.Context, s *domain.CallSession) error {
	sessionID := s.ID
	ctx, span := tracer.Start(ctx, "billing.capture")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))
	log := g.log.WithContext(ctx).ForSession(sessionID)

	if s.Payment.Status == domain.PaymentCaptured {
		return nil
	}
	if !g.ShouldCapture(s) {
		return fmt.Errorf("%w: session %s does not satisfy capture conditions", apperrors.ErrConflict, sessionID)
	}

	if err := g.payments.Capture(ctx, s.Payment.IntentID, "capture-"+sessionID); err != nil {
		log.Error("billing: capture failed", zap.String("intent_id", s.Payment.IntentID), zap.Error(err))
		return &apperrors.SystemError{Op: "billing: capture", Err: err}
	}

	now := g.now()
	err := g.store.Update(ctx, sessionID, repository.Fields{
		"payment.status":     domain.PaymentCaptured,
		"payment.capturedAt": now,
	}, repository.Condition{Field: "payment.status", In: []string{string(domain.PaymentAuthorized)}})
	if apperrors.Is(err, apperrors.ErrConflict) {
		current, getErr := g.store.Get(ctx, sessionID)
		if getErr == nil && current.Payment.Status == domain.PaymentCaptured {
			return nil
		}
		log.Error("billing: payment changed under capture", zap.Error(err))
		return fmt.Errorf("billing: persist capture: %w", err)
	}
	if err != nil {
		log.Error("billing: persist capture failed", zap.Error(err))
		return fmt.Errorf("billing: persist capture: %w", err)
	}

	log.Info("billing: payment captured",
		zap.String("intent_id", s.Payment.IntentID),
		zap.Int64("amount", s.Payment.Amount),
		zap.Int("duration_seconds", s.Conference.DurationSeconds()),
	)
	g.RequestReview(ctx, s)
	appendAudit(ctx, g.audit, log, sessionID, "payment.captured", "system", map[string]any{
		"intentId": s.Payment.IntentID,
		"amount":   s.Payment.Amount,
	}, now)
	publish(ctx, g.events, log, queue.SessionEvent{
		Type:       queue.EventPaymentCaptured,
		SessionID:  sessionID,
		Data:       map[string]any{"amount": s.Payment.Amount, "currency": s.Payment.Currency},
		OccurredAt: now,
	})
	return nil
}

// RequestReview creates the session's review request if none exists yet.
func (g *Gate) RequestReview(ctx context.Context, s *domain.CallSession) {
	log := g.log.WithContext(ctx).ForSession(s.ID)
	created, err := g.reviews.Create(ctx, domain.ReviewRequest{
		SessionID:  s.ID,
		ProviderID: s.Metadata.ProviderID,
		ClientID:   s.Metadata.ClientID,
		Duration:   s.Conference.DurationSeconds(),
		CreatedAt:  g.now(),
	})
	if err != nil {
		log.Warn("billing: create review request failed", zap.Error(err))
		return
	}
	if !created {
		return
	}
	publish(ctx, g.events, log, queue.SessionEvent{
		Type:       queue.EventReviewRequested,
		SessionID:  s.ID,
		Data:       map[string]any{"clientId": s.Metadata.ClientID, "providerId": s.Metadata.ProviderID},
		OccurredAt: g.now(),
	})
}

func appendAudit(ctx context.Context, audit repository.AuditLog, log *logger.Logger, sessionID, action, actor string, details map[string]any, at time.Time) {
	err := audit.Append(ctx, domain.AuditRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Action:    action,
		Actor:     actor,
		Details:   details,
		CreatedAt: at,
	})
	if err != nil {
		log.Warn("billing: audit append failed", zap.String("action", action), zap.Error(err))
	}
}

func publish(ctx context.Context, events Events, log *logger.Logger, evt queue.SessionEvent) {
	if err := events.PublishEvent(ctx, evt); err != nil {
		log.Warn("billing: publish event failed", zap.String("type", evt.Type), zap.Error(err))
	}
}
