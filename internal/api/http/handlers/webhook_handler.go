package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/security-ir-jira/internal/api/dto"
	"github.com/spec-kit/security-ir-jira/internal/events"
	apperrors "github.com/spec-kit/security-ir-jira/pkg/util/errorutil"
)

// WebhookProcessor turns a raw notification into bus events.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, raw []byte) (int, error)
}

// WebhooksHandler receives Jira notifications.
type WebhooksHandler struct {
	inbound WebhookProcessor
}

// NewWebhooksHandler constructs handler.
func NewWebhooksHandler(inbound WebhookProcessor) *WebhooksHandler {
	return &WebhooksHandler{inbound: inbound}
}

// Jira POST /webhooks/jira. Malformed notifications are rejected with 400
// so Jira stops retrying them; bus failures return 503 so it retries.
func (h *WebhooksHandler) Jira(c *fiber.Ctx) error {
	if len(c.Body()) == 0 {
		return apperrors.NewValidationError("empty webhook body", nil)
	}
	n, err := h.inbound.HandleWebhook(c.UserContext(), c.Body())
	if err != nil {
		if events.IsPermanent(err) {
			return apperrors.NewValidationError("invalid webhook payload", map[string]any{"reason": err.Error()})
		}
		return apperrors.NewUnavailable("unable to queue webhook", err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": dto.WebhookAccepted{Published: n}})
}
