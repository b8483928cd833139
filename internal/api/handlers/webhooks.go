package handlers

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/telephony"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

// Provider callbacks are acknowledged with 200 unless the payload is malformed.
// Unknown sessions are logged and acknowledged so the provider stops retrying.

func (h *HandlerSet) participantStatus(ctx *fiber.Ctx) error {
	query, form, err := callbackValues(ctx)
	if err != nil {
		return err
	}
	evt, err := telephony.ParseParticipantEvent(query, form, h.now())
	if err != nil {
		return translateError(err)
	}
	return h.acknowledge(ctx, "participant", evt.SessionID,
		h.sessions.HandleParticipantStatus(ctx.UserContext(), evt))
}

func (h *HandlerSet) conferenceStatus(ctx *fiber.Ctx) error {
	query, form, err := callbackValues(ctx)
	if err != nil {
		return err
	}
	evt, err := telephony.ParseConferenceEvent(query, form, h.now())
	if err != nil {
		return translateError(err)
	}
	return h.acknowledge(ctx, "conference", evt.SessionID,
		h.sessions.HandleConferenceStatus(ctx.UserContext(), evt))
}

func (h *HandlerSet) recordingStatus(ctx *fiber.Ctx) error {
	query, form, err := callbackValues(ctx)
	if err != nil {
		return err
	}
	evt, err := telephony.ParseRecordingEvent(query, form)
	if err != nil {
		return translateError(err)
	}
	return h.acknowledge(ctx, "recording", evt.SessionID,
		h.sessions.HandleRecordingStatus(ctx.UserContext(), evt))
}

func (h *HandlerSet) acknowledge(ctx *fiber.Ctx, kind, sessionID string, err error) error {
	if err == nil {
		return ctx.SendStatus(fiber.StatusOK)
	}
	log := h.log.WithContext(ctx.UserContext()).ForSession(sessionID)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("webhook: unknown session", zap.String("kind", kind), zap.Error(err))
		return ctx.SendStatus(fiber.StatusOK)
	}
	log.Error("webhook: handling failed", zap.String("kind", kind), zap.Error(err))
	return translateError(err)
}

func callbackValues(ctx *fiber.Ctx) (url.Values, url.Values, error) {
	query, err := url.ParseQuery(string(ctx.Request().URI().QueryString()))
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "invalid query string")
	}
	form, err := url.ParseQuery(string(ctx.Body()))
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "invalid form body")
	}
	return query, form, nil
}
