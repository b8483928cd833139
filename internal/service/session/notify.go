package session

import (
	"context"
	"strconv"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/notification"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

type message struct {
	to       string
	template string
}

// failureMessages routes the failure notice for reason to each party.
func failureMessages(s *domain.CallSession, reason string) []message {
	client := s.Participants.Client.Phone
	provider := s.Participants.Provider.Phone
	switch reason {
	case domain.ReasonProviderNoAnswer:
		return []message{{client, notification.TemplateProviderUnavailable}, {provider, notification.TemplateMissedProvider}}
	case domain.ReasonClientNoAnswer:
		return []message{{client, notification.TemplateMissedClient}, {provider, notification.TemplateClientUnavailable}}
	case domain.ReasonPaymentInvalid:
		return []message{{client, notification.TemplatePaymentInvalid}}
	case domain.EarlyDisconnectReason(domain.RoleProvider):
		return []message{{client, notification.TemplateInterruptedRefund}, {provider, notification.TemplateInterruptedProvider}}
	case domain.EarlyDisconnectReason(domain.RoleClient), domain.ReasonConferenceEarly:
		return []message{{client, notification.TemplateInterruptedRefund}, {provider, notification.TemplateInterruptedClientAck}}
	default:
		return []message{{client, notification.TemplateFailedRefund}}
	}
}

func completionMessages(s *domain.CallSession) []message {
	return []message{
		{s.Participants.Client.Phone, notification.TemplateCompletedClient},
		{s.Participants.Provider.Phone, notification.TemplateCompletedProvider},
	}
}

func cancellationMessages(s *domain.CallSession) []message {
	return []message{
		{s.Participants.Client.Phone, notification.TemplateCancelled},
		{s.Participants.Provider.Phone, notification.TemplateCancelled},
	}
}

func messageVars(sessionID string, durationSeconds int) map[string]string {
	vars := map[string]string{"sessionId": sessionID}
	if durationSeconds > 0 {
		vars["duration"] = strconv.Itoa((durationSeconds + 59) / 60)
	}
	return vars
}

// notify sends every message concurrently. Delivery failures are logged only.
func (o *Orchestrator) notify(ctx context.Context, log *logger.Logger, vars map[string]string, msgs []message) {
	var wg conc.WaitGroup
	for _, m := range msgs {
		if m.to == "" {
			continue
		}
		m := m
		wg.Go(func() {
			if err := o.notifier.SendTemplated(ctx, m.to, m.template, vars); err != nil {
				log.Warn("orchestrator: notification failed", zap.String("template", m.template), zap.Error(err))
			}
		})
	}
	wg.Wait()
}
