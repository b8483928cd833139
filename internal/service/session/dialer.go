package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// errSessionClosed stops dialling once the session has reached a terminal state.
var errSessionClosed = fmt.Errorf("%w: session already closed", apperrors.ErrConflict)

// DialOptions carries per-session dial settings.
type DialOptions struct {
	ConferenceName string
	TimeLimit      time.Duration
	MaxRetries     int
}

// Dialer places calls to one participant until it answers or attempts run out.
type Dialer struct {
	store       repository.SessionStore
	telephony   telephony.Provider
	attempts    repository.AttemptLog
	watcher     *Watcher
	callbacks   telephony.Callbacks
	from        string
	record      bool
	callTimeout time.Duration
	backoffBase time.Duration
	backoffStep time.Duration
	log         *logger.Logger
	now         func() time.Time
}

// CallWithRetries dials role until the watcher reports a connection.
// It returns a NoAnswerError once every attempt failed.
func (d *Dialer) CallWithRetries(ctx context.Context, sessionID string, role domain.Role, phone string, opts DialOptions) error {
	ctx, span := tracer.Start(ctx, "session.dial")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("role", string(role)))
	log := d.log.WithContext(ctx).ForSession(sessionID).With(zap.String("role", string(role)))
	prefix := "participants." + string(role)

	for i := 1; i <= opts.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := d.store.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("dialer: load session: %w", err)
		}
		if s.Status.IsTerminal() {
			return errSessionClosed
		}

		attempt, err := d.store.IncrementField(ctx, sessionID, prefix+".attemptCount")
		if err != nil {
			return fmt.Errorf("dialer: count attempt: %w", err)
		}
		err = d.store.Update(ctx, sessionID, repository.Fields{
			prefix + ".status": domain.ParticipantPending,
			prefix + ".callId": "",
		}, repository.NotTerminal())
		if apperrors.Is(err, apperrors.ErrConflict) {
			return errSessionClosed
		}
		if err != nil {
			return fmt.Errorf("dialer: reset participant: %w", err)
		}

		record := domain.DialAttempt{SessionID: sessionID, Role: role, AttemptNum: attempt, StartedAt: d.now()}
		connected, err := d.attempt(ctx, log, sessionID, role, phone, attempt, opts, &record)
		record.Connected = connected
		record.FinishedAt = d.now()
		if err != nil && !apperrors.Is(err, errSessionClosed) {
			record.Error = err.Error()
		}
		if logErr := d.attempts.AppendAttempt(context.WithoutCancel(ctx), record); logErr != nil {
			log.Warn("dialer: append attempt failed", zap.Error(logErr))
		}

		if connected {
			log.Info("dialer: participant connected", zap.Int("attempt", attempt))
			return nil
		}
		if apperrors.Is(err, errSessionClosed) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Info("dialer: attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if i < opts.MaxRetries {
			wait := d.backoffBase + time.Duration(attempt)*d.backoffStep
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	err := d.store.Update(context.WithoutCancel(ctx), sessionID, repository.Fields{
		prefix + ".status": domain.ParticipantNoAnswer,
	}, repository.NotTerminal())
	if err != nil && !apperrors.Is(err, apperrors.ErrConflict) {
		log.Warn("dialer: mark no answer failed", zap.Error(err))
	}
	return &apperrors.NoAnswerError{Role: string(role), Attempts: opts.MaxRetries}
}

func (d *Dialer) attempt(
	ctx context.Context,
	log *logger.Logger,
	sessionID string,
	role domain.Role,
	phone string,
	attempt int,
	opts DialOptions,
	record *domain.DialAttempt,
) (bool, error) {
	instructions, err := telephony.RenderConferenceJoin(telephony.ConferenceParams{
		Name:                 opts.ConferenceName,
		TimeLimitSeconds:     int(opts.TimeLimit / time.Second),
		StartOnEnter:         role == domain.RoleClient,
		StatusCallbackURL:    d.callbacks.Conference(sessionID),
		RecordingCallbackURL: d.callbacks.Recording(sessionID),
		Record:               d.record,
	})
	if err != nil {
		return false, fmt.Errorf("dialer: render instructions: %w", err)
	}

	callID, err := d.telephony.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                phone,
		From:              d.from,
		Instructions:      instructions,
		ConferenceName:    opts.ConferenceName,
		StatusCallbackURL: d.callbacks.Participant(sessionID, role, attempt),
		Timeout:           d.callTimeout,
		MachineDetection:  true,
	})
	if err != nil {
		log.Warn("dialer: place call failed", zap.Int("attempt", attempt), zap.Error(err))
		return false, fmt.Errorf("dialer: place call: %w", err)
	}
	record.CallID = callID

	err = d.store.Update(ctx, sessionID, repository.Fields{
		"participants." + string(role) + ".callId": callID,
	}, repository.NotTerminal())
	if apperrors.Is(err, apperrors.ErrConflict) {
		d.hangUp(ctx, log, callID)
		return false, errSessionClosed
	}
	if err != nil {
		log.Warn("dialer: persist call id failed", zap.String("call_id", callID), zap.Error(err))
	}

	if d.watcher.WaitForConnection(ctx, sessionID, role, attempt) {
		return true, nil
	}
	d.hangUp(ctx, log, callID)
	return false, fmt.Errorf("%w: attempt %d", apperrors.ErrNoAnswer, attempt)
}

func (d *Dialer) hangUp(ctx context.Context, log *logger.Logger, callID string) {
	if err := d.telephony.CancelCall(context.WithoutCancel(ctx), callID); err != nil {
		log.Warn("dialer: hang up failed", zap.String("call_id", callID), zap.Error(err))
	}
}
