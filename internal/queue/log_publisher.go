package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// LogPublisher writes events to the log instead of Kafka. Used when no brokers are configured.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishEvent(_ context.Context, evt SessionEvent) error {
	p.log.Info("event publisher: event",
		zap.String("type", evt.Type),
		zap.String("session_id", evt.SessionID),
		zap.String("status", evt.Status),
		zap.String("reason", evt.Reason),
	)
	return nil
}
