package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/security-ir-jira/internal/api/dto"
	"github.com/spec-kit/security-ir-jira/internal/caseapi"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/repository"
	apperrors "github.com/spec-kit/security-ir-jira/pkg/util/errorutil"
)

// CaseResyncer republishes the state of a case.
type CaseResyncer interface {
	Resync(ctx context.Context, caseID string) (events.Event, error)
}

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	resyncer CaseResyncer
	links    repository.TicketLinkRepository
}

// NewAdminHandler constructs handler.
func NewAdminHandler(resyncer CaseResyncer, links repository.TicketLinkRepository) *AdminHandler {
	return &AdminHandler{resyncer: resyncer, links: links}
}

// Resync POST /admin/cases/:id/resync.
func (h *AdminHandler) Resync(c *fiber.Ctx) error {
	caseID := c.Params("id")
	if caseID == "" {
		return apperrors.NewValidationError("case id required", nil)
	}
	evt, err := h.resyncer.Resync(c.UserContext(), caseID)
	if err != nil {
		if errors.Is(err, caseapi.ErrNotFound) {
			return apperrors.NewNotFound("case", map[string]any{"case_id": caseID})
		}
		return apperrors.NewBadGateway("security-ir", err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": dto.ResyncResponse{
		CaseID:  caseID,
		EventID: evt.ID,
		QueueAt: evt.OccurredAt,
	}})
}

// GetLink GET /admin/cases/:id/link.
func (h *AdminHandler) GetLink(c *fiber.Ctx) error {
	caseID := c.Params("id")
	link, err := h.links.GetByCaseID(c.UserContext(), caseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("ticket link", map[string]any{"case_id": caseID})
		}
		return err
	}
	return c.JSON(fiber.Map{"data": dto.LinkResponse{
		CaseID:    link.CaseID,
		TicketKey: link.TicketKey,
		TicketID:  link.TicketID,
		CreatedAt: link.CreatedAt,
	}})
}
