package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/call-session-orchestrator/internal/domain"
)

type cancelSessionRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

func (h *HandlerSet) getSession(ctx *fiber.Ctx) error {
	s, err := h.sessions.Session(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(s)
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	attempts, err := h.sessions.Attempts(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	if attempts == nil {
		attempts = []domain.DialAttempt{}
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"attempts": attempts})
}

func (h *HandlerSet) listAudit(ctx *fiber.Ctx) error {
	records, err := h.sessions.History(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"records": records})
}

func (h *HandlerSet) cancelSession(ctx *fiber.Ctx) error {
	var req cancelSessionRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = domain.ReasonCancelled
	}
	if req.CancelledBy == "" {
		req.CancelledBy = "api"
	}

	id := ctx.Params("id")
	if err := h.sessions.CancelSession(ctx.UserContext(), id, req.Reason, req.CancelledBy); err != nil {
		return translateError(err)
	}

	s, err := h.sessions.Session(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(s)
}
