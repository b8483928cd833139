package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/repository"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// HandleParticipantStatus applies a call status callback to the participant it belongs to.
func (o *Orchestrator) HandleParticipantStatus(ctx context.Context, evt telephony.ParticipantEvent) error {
	ctx, span := tracer.Start(ctx, "session.participant_status")
	defer span.End()

	s, role, err := o.resolveParticipant(ctx, evt)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("session.id", s.ID), attribute.String("role", string(role)))
	log := o.log.WithContext(ctx).ForSession(s.ID).With(zap.String("role", string(role)), zap.String("call_id", evt.CallID))

	p := s.Participant(role)
	if isStale(p, evt) {
		log.Debug("orchestrator: stale participant callback ignored", zap.Int("attempt", evt.Attempt))
		return nil
	}
	status, ok := telephony.MapCallStatus(evt.Status, evt.AnsweredBy)
	if !ok {
		return nil
	}
	if telephony.IsMachine(evt.AnsweredBy) {
		log.Info("orchestrator: answering machine detected", zap.String("answered_by", evt.AnsweredBy))
		if err := o.telephony.CancelCall(ctx, evt.CallID); err != nil {
			log.Warn("orchestrator: hang up machine failed", zap.Error(err))
		}
	}

	prefix := "participants." + string(role)
	fields := repository.Fields{prefix + ".status": status}
	if p.CallID == "" {
		fields[prefix+".callId"] = evt.CallID
	}
	switch status {
	case domain.ParticipantConnected:
		fields[prefix+".connectedAt"] = evt.Timestamp
	case domain.ParticipantDisconnected:
		fields[prefix+".disconnectedAt"] = evt.Timestamp
	}
	attempt := evt.Attempt
	if attempt == 0 {
		attempt = p.AttemptCount
	}

	if status == domain.ParticipantDisconnected && p.Status == domain.ParticipantConnected && earlyDisconnectApplies(s.Status, role) {
		elapsed := elapsedSeconds(s, evt.Timestamp)
		if time.Duration(elapsed)*time.Second >= o.cfg.MinCallDuration {
			// Completion is judged on the snapshot where both legs are still connected.
			if err := o.complete(ctx, s, elapsed); err != nil {
				log.Error("orchestrator: completion after disconnect failed", zap.Error(err))
			}
			return o.applyParticipant(ctx, s.ID, role, attempt, status, fields)
		}
		if err := o.applyParticipant(ctx, s.ID, role, attempt, status, fields); err != nil {
			return err
		}
		log.Warn("orchestrator: participant left early",
			zap.Error(&apperrors.EarlyDisconnectError{Role: string(role), Elapsed: time.Duration(elapsed) * time.Second}))
		return o.HandleFailure(ctx, s.ID, domain.EarlyDisconnectReason(role))
	}

	return o.applyParticipant(ctx, s.ID, role, attempt, status, fields)
}

func (o *Orchestrator) applyParticipant(ctx context.Context, sessionID string, role domain.Role, attempt int, status domain.ParticipantStatus, fields repository.Fields) error {
	if err := o.store.Update(ctx, sessionID, fields); err != nil {
		return fmt.Errorf("orchestrator: persist participant status: %w", err)
	}
	o.watcher.Notify(sessionID, role, attempt, status)
	return nil
}

func (o *Orchestrator) resolveParticipant(ctx context.Context, evt telephony.ParticipantEvent) (*domain.CallSession, domain.Role, error) {
	if evt.SessionID != "" {
		s, err := o.store.Get(ctx, evt.SessionID)
		if err != nil {
			return nil, "", fmt.Errorf("orchestrator: load session: %w", err)
		}
		if evt.Role.Valid() {
			return s, evt.Role, nil
		}
		for _, role := range []domain.Role{domain.RoleProvider, domain.RoleClient} {
			if s.Participant(role).CallID == evt.CallID {
				return s, role, nil
			}
		}
		return nil, "", fmt.Errorf("%w: call %s is not part of session %s", apperrors.ErrNotFound, evt.CallID, evt.SessionID)
	}

	for _, role := range []domain.Role{domain.RoleProvider, domain.RoleClient} {
		found, err := o.store.Query(ctx, repository.Eq("participants."+string(role)+".callId", evt.CallID))
		if err != nil {
			return nil, "", fmt.Errorf("orchestrator: find session by call: %w", err)
		}
		if len(found) > 0 {
			return found[0], role, nil
		}
	}
	return nil, "", fmt.Errorf("%w: no session for call %s", apperrors.ErrNotFound, evt.CallID)
}

// isStale reports whether the callback belongs to an earlier dial attempt.
func isStale(p domain.Participant, evt telephony.ParticipantEvent) bool {
	if evt.Attempt > 0 && evt.Attempt != p.AttemptCount {
		return true
	}
	return p.CallID != "" && p.CallID != evt.CallID
}

func earlyDisconnectApplies(status domain.SessionStatus, role domain.Role) bool {
	switch status {
	case domain.SessionStatusBothConnecting:
		return true
	case domain.SessionStatusClientConnecting:
		return role == domain.RoleProvider
	}
	return false
}

func elapsedSeconds(s *domain.CallSession, at time.Time) int {
	if s.Conference.Duration != nil {
		return *s.Conference.Duration
	}
	if s.Conference.StartedAt == nil {
		return 0
	}
	return nonNegative(at.Sub(*s.Conference.StartedAt))
}

func nonNegative(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// HandleConferenceStatus records conference lifecycle callbacks and ends the
// session when the conference ends.
func (o *Orchestrator) HandleConferenceStatus(ctx context.Context, evt telephony.ConferenceEvent) error {
	ctx, span := tracer.Start(ctx, "session.conference_status")
	defer span.End()

	s, err := o.resolveConference(ctx, evt)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("session.id", s.ID), attribute.String("event", evt.Event))
	log := o.log.WithContext(ctx).ForSession(s.ID).With(zap.String("conference", s.Conference.Name))

	fields := repository.Fields{}
	if evt.ConferenceSID != "" && s.Conference.ProviderConferenceID == "" {
		fields["conference.providerConferenceId"] = evt.ConferenceSID
	}
	var duration int
	switch evt.Event {
	case telephony.ConferenceStart:
		if s.Conference.StartedAt == nil {
			fields["conference.startedAt"] = evt.Timestamp
		}
	case telephony.ConferenceEnd:
		duration = conferenceDuration(log, s.Conference, evt)
		endedAt := evt.Timestamp
		fields["conference.endedAt"] = endedAt
		fields["conference.duration"] = duration
		s.Conference.EndedAt = &endedAt
		s.Conference.Duration = &duration
	default:
		log.Debug("orchestrator: conference event", zap.String("event", evt.Event), zap.String("call_id", evt.CallID))
	}
	if len(fields) > 0 {
		if err := o.store.Update(ctx, s.ID, fields); err != nil {
			return fmt.Errorf("orchestrator: persist conference: %w", err)
		}
	}

	if evt.Event != telephony.ConferenceEnd || s.Status.IsTerminal() {
		return nil
	}
	log.Info("orchestrator: conference ended", zap.Int("duration_seconds", duration))
	if time.Duration(duration)*time.Second < o.cfg.MinCallDuration {
		return o.HandleFailure(ctx, s.ID, domain.ReasonConferenceEarly)
	}
	if s.Participants.Provider.Status == domain.ParticipantConnected && s.Participants.Client.Status == domain.ParticipantConnected {
		return o.complete(ctx, s, duration)
	}
	return nil
}

func (o *Orchestrator) resolveConference(ctx context.Context, evt telephony.ConferenceEvent) (*domain.CallSession, error) {
	if evt.SessionID != "" {
		s, err := o.store.Get(ctx, evt.SessionID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load session: %w", err)
		}
		return s, nil
	}
	found, err := o.store.Query(ctx, repository.Eq("conference.name", evt.Name))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: find session by conference: %w", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no session for conference %s", apperrors.ErrNotFound, evt.Name)
	}
	return found[0], nil
}

// conferenceDuration derives the duration from the recorded start. A duration
// supplied by the provider is used only when the start was never recorded.
func conferenceDuration(log *logger.Logger, c domain.Conference, evt telephony.ConferenceEvent) int {
	if c.StartedAt != nil {
		d := nonNegative(evt.Timestamp.Sub(*c.StartedAt))
		if evt.Duration != nil && abs(*evt.Duration-d) > 1 {
			log.Warn("orchestrator: provider duration disagrees with conference record",
				zap.Int("recorded_seconds", d), zap.Int("supplied_seconds", *evt.Duration))
		}
		return d
	}
	if evt.Duration != nil {
		return *evt.Duration
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// HandleRecordingStatus stores the recording location of a session.
func (o *Orchestrator) HandleRecordingStatus(ctx context.Context, evt telephony.RecordingEvent) error {
	if evt.RecordingURL == "" || (evt.Status != "" && evt.Status != "completed") {
		return nil
	}
	if err := o.store.Update(ctx, evt.SessionID, repository.Fields{"conference.recordingUrl": evt.RecordingURL}); err != nil {
		return fmt.Errorf("orchestrator: persist recording: %w", err)
	}
	o.log.ForSession(evt.SessionID).Info("orchestrator: recording stored", zap.String("recording_sid", evt.RecordingSID))
	return nil
}

// HandleCompletion closes a bridged session, captures the hold when earned and
// asks the client for a review.
func (o *Orchestrator) HandleCompletion(ctx context.Context, sessionID string, advisoryDuration int) error {
	s, err := o.store.Get(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load session: %w", err)
	}
	return o.complete(ctx, s, advisoryDuration)
}

// complete closes the session described by s, the snapshot that justified
// completion. The capture decision is made on s as well, so participant
// callbacks persisted meanwhile cannot strand the hold.
func (o *Orchestrator) complete(ctx context.Context, s *domain.CallSession, advisoryDuration int) error {
	sessionID := s.ID
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "session.complete")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))
	log := o.log.WithContext(ctx).ForSession(sessionID)

	if s.Status.IsTerminal() {
		return nil
	}

	now := o.now()
	duration := completionDuration(s, advisoryDuration, now)
	fields := repository.Fields{"status": domain.SessionStatusCompleted, "completedAt": now}
	if s.Conference.Duration == nil {
		fields["conference.duration"] = duration
	}
	err := o.store.Update(ctx, sessionID, fields, repository.NotTerminal())
	if apperrors.Is(err, apperrors.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("orchestrator: complete session: %w", err)
	}
	o.handles.abort(sessionID)
	log.Info("orchestrator: session completed", zap.Int("duration_seconds", duration))

	o.notify(ctx, log, messageVars(sessionID, duration), completionMessages(s))

	completed := *s
	completed.Status = domain.SessionStatusCompleted
	completed.CompletedAt = &now
	if completed.Conference.Duration == nil {
		completed.Conference.Duration = &duration
	}
	captured := false
	switch {
	case o.gate.ShouldCapture(&completed):
		if err := o.gate.CaptureSnapshot(ctx, &completed); err != nil {
			log.Error("orchestrator: capture failed", zap.Error(err))
		} else {
			captured = true
		}
	case completed.Payment.Status == domain.PaymentAuthorized:
		log.Info("orchestrator: capture conditions not met, releasing hold",
			zap.String("provider_status", string(completed.Participants.Provider.Status)),
			zap.String("client_status", string(completed.Participants.Client.Status)),
			zap.Int("duration_seconds", completed.Conference.DurationSeconds()))
		if err := o.compensator.Refund(ctx, sessionID, domain.ReasonCaptureDenied); err != nil {
			log.Error("orchestrator: release hold failed", zap.Error(err))
		}
	}
	o.gate.RequestReview(ctx, &completed)

	o.record(ctx, log, sessionID, "session.completed", "system", map[string]any{
		"duration": duration,
		"captured": captured,
	})
	o.publish(ctx, log, queue.SessionEvent{
		Type:      queue.EventSessionCompleted,
		SessionID: sessionID,
		Status:    string(domain.SessionStatusCompleted),
		Data:      map[string]any{"duration": duration, "captured": captured},
	})
	return nil
}

func completionDuration(s *domain.CallSession, advisory int, now time.Time) int {
	c := s.Conference
	switch {
	case c.Duration != nil:
		return *c.Duration
	case c.StartedAt != nil && c.EndedAt != nil:
		return nonNegative(c.EndedAt.Sub(*c.StartedAt))
	case advisory > 0:
		return advisory
	case c.StartedAt != nil:
		return nonNegative(now.Sub(*c.StartedAt))
	}
	return 0
}

// HandleFailure fails the session with reason, stops its sequence, notifies the
// parties and releases the payment hold.
func (o *Orchestrator) HandleFailure(ctx context.Context, sessionID, reason string) error {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "session.fail")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("reason", reason))
	log := o.log.WithContext(ctx).ForSession(sessionID)

	o.handles.abort(sessionID)
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load session: %w", err)
	}
	if s.Status.IsTerminal() {
		return nil
	}

	err = o.transition(ctx, sessionID, domain.SessionStatusFailed, repository.Fields{
		"failureReason": reason,
		"failedAt":      o.now(),
	})
	if apperrors.Is(err, apperrors.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("orchestrator: fail session: %w", err)
	}
	log.Warn("orchestrator: session failed", zap.String("reason", reason), zap.String("previous_status", string(s.Status)))

	o.hangUpLive(ctx, log, s)
	o.notify(ctx, log, messageVars(sessionID, 0), failureMessages(s, reason))
	if err := o.compensator.Refund(ctx, sessionID, reason); err != nil {
		log.Error("orchestrator: compensation failed", zap.Error(err))
	}

	o.record(ctx, log, sessionID, "session.failed", "system", map[string]any{"reason": reason})
	o.publish(ctx, log, queue.SessionEvent{
		Type:      queue.EventSessionFailed,
		SessionID: sessionID,
		Status:    string(domain.SessionStatusFailed),
		Reason:    reason,
	})
	return nil
}

// hangUpLive cancels every leg that may still be ringing or bridged.
func (o *Orchestrator) hangUpLive(ctx context.Context, log *logger.Logger, s *domain.CallSession) {
	for _, role := range []domain.Role{domain.RoleProvider, domain.RoleClient} {
		p := s.Participant(role)
		if p.CallID == "" || (p.Status != domain.ParticipantPending && p.Status != domain.ParticipantConnected) {
			continue
		}
		if err := o.telephony.CancelCall(ctx, p.CallID); err != nil {
			log.Warn("orchestrator: hang up failed", zap.String("role", string(role)), zap.String("call_id", p.CallID), zap.Error(err))
		}
	}
}
