// Package notification delivers templated participant messages.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/queue"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// Template identifiers.
const (
	TemplateProviderUnavailable  = "session_failed_provider_unavailable"
	TemplateMissedProvider       = "session_missed_provider"
	TemplateMissedClient         = "session_missed_client"
	TemplateClientUnavailable    = "session_client_unavailable"
	TemplatePaymentInvalid       = "session_payment_invalid"
	TemplateInterruptedRefund    = "session_interrupted_refund"
	TemplateInterruptedProvider  = "session_interrupted_provider"
	TemplateInterruptedClientAck = "session_interrupted_client_ack"
	TemplateFailedRefund         = "session_failed_refund"
	TemplateCompletedClient      = "session_completed_client"
	TemplateCompletedProvider    = "session_completed_provider"
	TemplateCancelled            = "session_cancelled"
)

var fallbackText = map[string]string{
	TemplateProviderUnavailable:  "Your expert could not be reached. Your payment hold has been released.",
	TemplateMissedProvider:       "You missed a scheduled call. Please check your availability settings.",
	TemplateMissedClient:         "We could not reach you for your call. Your payment hold has been released.",
	TemplateClientUnavailable:    "The client could not be reached. The session has been closed.",
	TemplatePaymentInvalid:       "Your call could not start because the payment is no longer valid.",
	TemplateInterruptedRefund:    "Your call was interrupted before it could complete. You have not been charged.",
	TemplateInterruptedProvider:  "Your call ended early because you disconnected. The client has not been charged.",
	TemplateInterruptedClientAck: "The call ended early. The session has been closed without charge.",
	TemplateFailedRefund:         "Your call could not be completed. You have not been charged.",
	TemplateCompletedClient:      "Your call lasted {{duration}} minutes. Thank you!",
	TemplateCompletedProvider:    "Call completed: {{duration}} minutes.",
	TemplateCancelled:            "Your call has been cancelled.",
}

// Notifier sends a templated message to a phone number.
type Notifier interface {
	SendTemplated(ctx context.Context, to, templateID string, vars map[string]string) error
}

// FallbackText renders the plain-text body for a template.
func FallbackText(templateID string, vars map[string]string) string {
	text, ok := fallbackText[templateID]
	if !ok {
		text = "You have a new update about your call."
	}
	if len(vars) == 0 {
		return text
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(vars)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// KafkaNotifier hands messages to the delivery service through Kafka.
type KafkaNotifier struct {
	writer *kafka.Writer
	now    func() time.Time
}

// NewKafkaNotifier constructs a notifier writing to topic.
func NewKafkaNotifier(k *queue.Kafka, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: k.NewWriter(topic),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (n *KafkaNotifier) SendTemplated(ctx context.Context, to, templateID string, vars map[string]string) error {
	msg := queue.NotificationMessage{
		ID:           uuid.NewString(),
		SessionID:    vars["sessionId"],
		To:           to,
		TemplateID:   templateID,
		Vars:         vars,
		FallbackText: FallbackText(templateID, vars),
		CreatedAt:    n.now(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notifier: marshal message: %w", err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(to), Value: value, Time: msg.CreatedAt}); err != nil {
		return fmt.Errorf("notifier: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier logs the rendered message. Used when no brokers are configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendTemplated(_ context.Context, to, templateID string, vars map[string]string) error {
	n.log.Info("notifier: message",
		zap.String("to", to),
		zap.String("template", templateID),
		zap.String("text", FallbackText(templateID, vars)),
	)
	return nil
}
