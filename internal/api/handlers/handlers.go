package handlers

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// Sessions is the orchestrator surface exposed over HTTP.
type Sessions interface {
	Session(ctx context.Context, sessionID string) (*domain.CallSession, error)
	Attempts(ctx context.Context, sessionID string) ([]domain.DialAttempt, error)
	History(ctx context.Context, sessionID string) ([]domain.AuditRecord, error)
	CancelSession(ctx context.Context, sessionID, reason, cancelledBy string) error
	HandleParticipantStatus(ctx context.Context, evt telephony.ParticipantEvent) error
	HandleConferenceStatus(ctx context.Context, evt telephony.ConferenceEvent) error
	HandleRecordingStatus(ctx context.Context, evt telephony.RecordingEvent) error
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	sessions Sessions
	checks   map[string]HealthCheck
	log      *logger.Logger
	now      func() time.Time
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(sessions Sessions, checks map[string]HealthCheck, log *logger.Logger) *HandlerSet {
	return &HandlerSet{
		sessions: sessions,
		checks:   checks,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	webhooks := app.Group("/webhooks/telephony")
	webhooks.Post("/participant", h.participantStatus)
	webhooks.Post("/conference", h.conferenceStatus)
	webhooks.Post("/recording", h.recordingStatus)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	sessions := v1.Group("/sessions")
	sessions.Get("/:id", h.getSession)
	sessions.Get("/:id/attempts", h.listAttempts)
	sessions.Get("/:id/audit", h.listAudit)
	sessions.Post("/:id/cancel", h.cancelSession)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make(map[string]string)
	for _, name := range names {
		if err := h.checks[name](healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
