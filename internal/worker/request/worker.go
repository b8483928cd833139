// Package request consumes session requests from Kafka and hands them to the orchestrator.
package request

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/internal/service/session"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// MessageReader is the subset of kafka.Reader the worker needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sessions creates and starts call sessions.
type Sessions interface {
	CreateSession(ctx context.Context, p session.CreateParams) (*domain.CallSession, error)
	Schedule(sessionID string, delayMinutes int)
}

// Enqueuer defers a session start to the drain queue.
type Enqueuer interface {
	Enqueue(sessionID string)
}

// Events publishes rejections.
type Events interface {
	PublishEvent(ctx context.Context, evt queue.SessionEvent) error
}

// Worker turns session request messages into running sessions.
type Worker struct {
	reader   MessageReader
	sessions Sessions
	queue    Enqueuer
	events   Events
	log      *logger.Logger
}

// New creates a request worker.
func New(reader MessageReader, sessions Sessions, q Enqueuer, events Events, log *logger.Logger) *Worker {
	return &Worker{reader: reader, sessions: sessions, queue: q, events: events, log: log}
}

// Run consumes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		m, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("request worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, m); err != nil {
			w.log.Error("request worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, m kafka.Message) error {
	var req queue.SessionRequestMessage
	if err := json.Unmarshal(m.Value, &req); err != nil {
		w.reject(ctx, req, fmt.Errorf("unmarshal request: %w", err))
		return w.commit(ctx, m)
	}

	tracer := otel.Tracer("callsession.requestworker")
	sctx, span := tracer.Start(ctx, "session.request", trace.WithAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.Int("delay_minutes", req.DelayMinutes),
		attribute.Bool("queued", req.Queue),
	))
	defer span.End()

	s, err := w.sessions.CreateSession(sctx, session.CreateParams{
		SessionID:         req.SessionID,
		RequestID:         req.RequestID,
		ProviderID:        req.ProviderID,
		ClientID:          req.ClientID,
		ProviderPhone:     req.ProviderPhone,
		ClientPhone:       req.ClientPhone,
		PaymentIntentID:   req.PaymentIntentID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		ServiceType:       req.ServiceType,
		ProviderType:      req.ProviderType,
		MaxDuration:       req.MaxDuration,
		ClientLanguages:   req.ClientLanguages,
		ProviderLanguages: req.ProviderLanguages,
	})
	if err != nil {
		span.RecordError(err)
		w.reject(sctx, req, err)
		return w.commit(sctx, m)
	}
	span.SetAttributes(attribute.String("session.id", s.ID))

	switch {
	case req.Queue:
		w.queue.Enqueue(s.ID)
	default:
		w.sessions.Schedule(s.ID, req.DelayMinutes)
	}
	w.log.ForSession(s.ID).Info("request worker: session accepted",
		zap.String("request_id", req.RequestID),
		zap.Int("delay_minutes", req.DelayMinutes),
		zap.Bool("queued", req.Queue),
	)
	return w.commit(sctx, m)
}

func (w *Worker) reject(ctx context.Context, req queue.SessionRequestMessage, cause error) {
	w.log.Warn("request worker: request rejected",
		zap.String("request_id", req.RequestID),
		zap.String("provider_id", req.ProviderID),
		zap.Error(cause),
	)
	err := w.events.PublishEvent(ctx, queue.SessionEvent{
		Type:       queue.EventRequestRejected,
		SessionID:  req.SessionID,
		Reason:     cause.Error(),
		Data:       map[string]any{"requestId": req.RequestID},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		w.log.Warn("request worker: publish rejection", zap.Error(err))
	}
}

func (w *Worker) commit(ctx context.Context, m kafka.Message) error {
	if err := w.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}
