// Package session runs the call-session workflow: it dials the provider and
// then the client into a shared conference, reacts to provider callbacks and
// settles the payment hold once the session ends.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/config"
	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/notification"
	"github.com/acme/call-session-orchestrator/internal/payment"
	"github.com/acme/call-session-orchestrator/internal/phone"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/repository"
	"github.com/acme/call-session-orchestrator/internal/service/billing"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

var tracer = otel.Tracer("callsession.orchestrator")

// Events publishes session lifecycle events.
type Events interface {
	PublishEvent(ctx context.Context, evt queue.SessionEvent) error
}

// Deps groups the collaborators of the orchestrator.
type Deps struct {
	Store       repository.SessionStore
	Attempts    repository.AttemptLog
	Audit       repository.AuditLog
	Telephony   telephony.Provider
	Payments    payment.Provider
	Notifier    notification.Notifier
	Events      Events
	Gate        *billing.Gate
	Compensator *billing.Compensator
	Callbacks   telephony.Callbacks
	CallerID    string
	RecordCalls bool
	Config      config.OrchestratorConfig
	Logger      *logger.Logger
}

// Orchestrator owns the lifecycle of call sessions.
type Orchestrator struct {
	store       repository.SessionStore
	audit       repository.AuditLog
	telephony   telephony.Provider
	payments    payment.Provider
	notifier    notification.Notifier
	events      Events
	gate        *billing.Gate
	compensator *billing.Compensator
	watcher     *Watcher
	dialer      *Dialer
	cfg         config.OrchestratorConfig
	log         *logger.Logger
	now         func() time.Time

	handles *handles
	wg      conc.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// New constructs an orchestrator. Background sequences run until Stop.
func New(d Deps) *Orchestrator {
	cfg := d.Config.WithDefaults()
	now := func() time.Time { return time.Now().UTC() }
	watcher := NewWatcher(d.Store, cfg.PollInterval, cfg.ConnectionWait, d.Logger)
	baseCtx, stop := context.WithCancel(context.Background())

	return &Orchestrator{
		store:       d.Store,
		audit:       d.Audit,
		telephony:   d.Telephony,
		payments:    d.Payments,
		notifier:    d.Notifier,
		events:      d.Events,
		gate:        d.Gate,
		compensator: d.Compensator,
		watcher:     watcher,
		dialer: &Dialer{
			store:       d.Store,
			telephony:   d.Telephony,
			attempts:    d.Attempts,
			watcher:     watcher,
			callbacks:   d.Callbacks,
			from:        d.CallerID,
			record:      d.RecordCalls,
			callTimeout: cfg.CallTimeout,
			backoffBase: cfg.RetryBackoffBase,
			backoffStep: cfg.RetryBackoffStep,
			log:         d.Logger,
			now:         now,
		},
		cfg:     cfg,
		log:     d.Logger,
		now:     now,
		handles: newHandles(),
		baseCtx: baseCtx,
		stop:    stop,
	}
}

// Watcher exposes the connection watcher.
func (o *Orchestrator) Watcher() *Watcher {
	return o.watcher
}

// Run blocks until ctx is done and then stops the orchestrator.
func (o *Orchestrator) Run(ctx context.Context) error {
	<-ctx.Done()
	o.Stop()
	return nil
}

// Stop cancels pending timers and running sequences and waits for them to return.
func (o *Orchestrator) Stop() {
	o.stop()
	o.handles.mu.Lock()
	ids := make([]string, 0, len(o.handles.m))
	for id := range o.handles.m {
		ids = append(ids, id)
	}
	o.handles.mu.Unlock()
	for _, id := range ids {
		o.handles.abort(id)
	}
	o.wg.Wait()
}

// CreateParams describes a new session request.
type CreateParams struct {
	SessionID         string
	RequestID         string
	ProviderID        string
	ClientID          string
	ProviderPhone     string
	ClientPhone       string
	PaymentIntentID   string
	Amount            int64
	Currency          string
	ServiceType       string
	ProviderType      string
	MaxDuration       int
	ClientLanguages   []string
	ProviderLanguages []string
}

// CreateSession validates and persists a pending session.
func (o *Orchestrator) CreateSession(ctx context.Context, p CreateParams) (*domain.CallSession, error) {
	ctx, span := tracer.Start(ctx, "session.create")
	defer span.End()

	providerPhone, clientPhone, err := validateCreate(p)
	if err != nil {
		return nil, err
	}

	active, err := o.store.Query(ctx, repository.Filter{Field: "status", In: statusStrings(domain.ActiveStatuses)})
	if err != nil {
		return nil, &apperrors.SystemError{Op: "orchestrator: count active sessions", Err: err}
	}
	if len(active) >= o.cfg.MaxConcurrentCalls {
		return nil, &apperrors.ConcurrencyLimitError{Active: len(active), Limit: o.cfg.MaxConcurrentCalls}
	}
	for _, s := range active {
		if s.Metadata.ProviderID == p.ProviderID && s.Metadata.ClientID == p.ClientID {
			return nil, fmt.Errorf("%w: session %s is already active for this provider and client", apperrors.ErrConflict, s.ID)
		}
	}

	id := strings.TrimSpace(p.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session.id", id))
	now := o.now()
	session := &domain.CallSession{
		ID:     id,
		Status: domain.SessionStatusPending,
		Participants: domain.Participants{
			Provider: domain.Participant{Phone: providerPhone, Status: domain.ParticipantPending},
			Client:   domain.Participant{Phone: clientPhone, Status: domain.ParticipantPending},
		},
		Conference: domain.Conference{Name: ConferenceName(p.ProviderID, id)},
		Payment: domain.Payment{
			IntentID: p.PaymentIntentID,
			Status:   domain.PaymentAuthorized,
			Amount:   p.Amount,
			Currency: p.Currency,
		},
		Metadata: domain.Metadata{
			ProviderID:        p.ProviderID,
			ClientID:          p.ClientID,
			ServiceType:       p.ServiceType,
			ProviderType:      p.ProviderType,
			MaxDuration:       p.MaxDuration,
			CreatedAt:         now,
			UpdatedAt:         now,
			RequestID:         p.RequestID,
			ClientLanguages:   p.ClientLanguages,
			ProviderLanguages: p.ProviderLanguages,
		},
	}
	if err := o.store.Set(ctx, session); err != nil {
		return nil, fmt.Errorf("orchestrator: create session: %w", err)
	}

	log := o.log.WithContext(ctx).ForSession(id)
	log.Info("orchestrator: session created",
		zap.String("provider_id", p.ProviderID),
		zap.String("client_id", p.ClientID),
		zap.Int("active_sessions", len(active)+1),
	)
	o.record(ctx, log, id, "session.created", "system", map[string]any{
		"providerId": p.ProviderID,
		"clientId":   p.ClientID,
		"amount":     p.Amount,
	})
	o.publish(ctx, log, queue.SessionEvent{Type: queue.EventSessionCreated, SessionID: id, Status: string(domain.SessionStatusPending)})
	return session, nil
}

// ConferenceName derives the provider conference name of a session.
func ConferenceName(providerID, sessionID string) string {
	return fmt.Sprintf("conf-%s-%s", providerID, sessionID)
}

func validateCreate(p CreateParams) (string, string, error) {
	required := []struct{ field, value string }{
		{"providerId", p.ProviderID},
		{"clientId", p.ClientID},
		{"providerPhone", p.ProviderPhone},
		{"clientPhone", p.ClientPhone},
		{"paymentIntentId", p.PaymentIntentID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return "", "", apperrors.NewValidation(r.field, "is required")
		}
	}
	if p.Amount <= 0 {
		return "", "", apperrors.NewValidation("amount", "must be positive")
	}
	if p.MaxDuration < 0 {
		return "", "", apperrors.NewValidation("maxDuration", "must not be negative")
	}
	providerPhone, err := phone.Normalize(p.ProviderPhone)
	if err != nil {
		return "", "", err
	}
	clientPhone, err := phone.Normalize(p.ClientPhone)
	if err != nil {
		return "", "", err
	}
	if providerPhone == clientPhone {
		return "", "", apperrors.NewValidation("clientPhone", "must differ from the provider phone")
	}
	return providerPhone, clientPhone, nil
}

// StartSequence starts dialling now, or arms a timer when delayMinutes is positive.
// Delays are capped at the configured maximum.
func (o *Orchestrator) StartSequence(ctx context.Context, sessionID string, delayMinutes int) error {
	if delayMinutes <= 0 {
		return o.ExecuteSequence(ctx, sessionID)
	}
	o.arm(sessionID, delayMinutes)
	return nil
}

// Schedule is StartSequence without blocking the caller: an immediate start runs
// in the background.
func (o *Orchestrator) Schedule(sessionID string, delayMinutes int) {
	if delayMinutes <= 0 {
		o.launch(sessionID)
		return
	}
	o.arm(sessionID, delayMinutes)
}

func (o *Orchestrator) arm(sessionID string, delayMinutes int) {
	if delayMinutes > o.cfg.MaxStartDelay {
		delayMinutes = o.cfg.MaxStartDelay
	}
	delay := time.Duration(delayMinutes) * o.cfg.DelayUnit
	timer := time.AfterFunc(delay, func() {
		if o.handles.clearTimer(sessionID) {
			o.launch(sessionID)
		}
	})
	o.handles.setTimer(sessionID, timer)
	o.log.ForSession(sessionID).Info("orchestrator: sequence scheduled", zap.Int("delay_minutes", delayMinutes))
}

// StartQueued launches a queued session if it is still pending.
func (o *Orchestrator) StartQueued(ctx context.Context, sessionID string) (bool, error) {
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("orchestrator: load queued session: %w", err)
	}
	if s.Status != domain.SessionStatusPending {
		return false, nil
	}
	o.handles.clearTimer(sessionID)
	o.launch(sessionID)
	return true, nil
}

func (o *Orchestrator) launch(sessionID string) {
	if o.baseCtx.Err() != nil {
		return
	}
	o.wg.Go(func() {
		if err := o.ExecuteSequence(o.baseCtx, sessionID); err != nil {
			o.log.ForSession(sessionID).Warn("orchestrator: sequence ended with error", zap.Error(err))
		}
	})
}

// ExecuteSequence verifies the payment hold and dials the provider, then the client.
// Completion is driven by the conference callbacks afterwards.
func (o *Orchestrator) ExecuteSequence(ctx context.Context, sessionID string) error {
	seqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.handles.begin(sessionID, cancel) {
		o.log.ForSession(sessionID).Info("orchestrator: sequence already running")
		return nil
	}
	defer o.handles.end(sessionID)

	ctx, span := tracer.Start(seqCtx, "session.execute_sequence")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))
	log := o.log.WithContext(ctx).ForSession(sessionID)

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load session: %w", err)
	}
	if s.Status != domain.SessionStatusPending {
		log.Info("orchestrator: sequence skipped", zap.String("status", string(s.Status)))
		return nil
	}

	intent, err := o.payments.GetPayment(ctx, s.Payment.IntentID)
	if err != nil || !intent.Actionable() {
		status := "unknown"
		if intent != nil {
			status = intent.Status
		}
		log.Warn("orchestrator: payment not actionable", zap.String("intent_id", s.Payment.IntentID), zap.String("intent_status", status), zap.Error(err))
		o.fail(ctx, sessionID, domain.ReasonPaymentInvalid)
		return &apperrors.PaymentInvalidError{IntentID: s.Payment.IntentID, Status: status}
	}

	timeLimit := time.Duration(s.Metadata.MaxDuration) * time.Second
	legs := []struct {
		to     domain.SessionStatus
		role   domain.Role
		phone  string
		reason string
	}{
		{domain.SessionStatusProviderConnecting, domain.RoleProvider, s.Participants.Provider.Phone, domain.ReasonProviderNoAnswer},
		{domain.SessionStatusClientConnecting, domain.RoleClient, s.Participants.Client.Phone, domain.ReasonClientNoAnswer},
	}
	for _, leg := range legs {
		if err := o.transition(ctx, sessionID, leg.to, nil); err != nil {
			return o.interrupted(ctx, log, sessionID, err)
		}
		if leg.to == domain.SessionStatusProviderConnecting {
			o.publish(ctx, log, queue.SessionEvent{Type: queue.EventSessionStarted, SessionID: sessionID, Status: string(leg.to)})
		}

		err := o.dialer.CallWithRetries(ctx, sessionID, leg.role, leg.phone, DialOptions{
			ConferenceName: s.Conference.Name,
			TimeLimit:      timeLimit,
			MaxRetries:     o.cfg.MaxRetries,
		})
		if err == nil {
			continue
		}
		if apperrors.Is(err, errSessionClosed) || ctx.Err() != nil {
			log.Info("orchestrator: sequence stopped", zap.String("role", string(leg.role)), zap.Error(err))
			return nil
		}
		reason := leg.reason
		if !apperrors.Is(err, apperrors.ErrNoAnswer) {
			reason = domain.ReasonSystemError
		}
		o.fail(ctx, sessionID, reason)
		return err
	}

	if err := o.transition(ctx, sessionID, domain.SessionStatusBothConnecting, nil); err != nil {
		return o.interrupted(ctx, log, sessionID, err)
	}
	log.Info("orchestrator: dial phase complete, awaiting conference")
	return nil
}

// interrupted handles a transition that could not be applied during the sequence.
func (o *Orchestrator) interrupted(ctx context.Context, log *logger.Logger, sessionID string, err error) error {
	if apperrors.Is(err, apperrors.ErrConflict) {
		log.Info("orchestrator: session changed during sequence", zap.Error(err))
		return nil
	}
	o.fail(ctx, sessionID, domain.ReasonSystemError)
	return err
}

// fail runs the failure path outside the sequence's cancellation.
func (o *Orchestrator) fail(ctx context.Context, sessionID, reason string) {
	if err := o.HandleFailure(context.WithoutCancel(ctx), sessionID, reason); err != nil {
		o.log.ForSession(sessionID).Error("orchestrator: failure handling failed", zap.String("reason", reason), zap.Error(err))
	}
}

// transition moves the session to status when its current status is a direct predecessor.
func (o *Orchestrator) transition(ctx context.Context, sessionID string, to domain.SessionStatus, extra repository.Fields) error {
	fields := repository.Fields{"status": to}
	for k, v := range extra {
		fields[k] = v
	}
	return o.store.Update(ctx, sessionID, fields, repository.StatusIn(domain.PredecessorsOf(to)...))
}

func (o *Orchestrator) record(ctx context.Context, log *logger.Logger, sessionID, action, actor string, details map[string]any) {
	err := o.audit.Append(context.WithoutCancel(ctx), domain.AuditRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Action:    action,
		Actor:     actor,
		Details:   details,
		CreatedAt: o.now(),
	})
	if err != nil {
		log.Warn("orchestrator: audit append failed", zap.String("action", action), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, log *logger.Logger, evt queue.SessionEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = o.now()
	}
	if err := o.events.PublishEvent(context.WithoutCancel(ctx), evt); err != nil {
		log.Warn("orchestrator: publish event failed", zap.String("type", evt.Type), zap.Error(err))
	}
}

func statusStrings(statuses []domain.SessionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
