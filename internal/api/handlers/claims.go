package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
)

type claimRequest struct {
	CampaignID    string `json:"campaign_id"`
	InterviewerID string `json:"interviewer_id"`
}

type claimResponse struct {
	Kind string       `json:"claim_kind"`
	Case caseResponse `json:"case"`
}

type caseResponse struct {
	ID               uuid.UUID           `json:"id"`
	CampaignID       uuid.UUID           `json:"campaign_id"`
	PhonePrimary     string              `json:"phone_primary"`
	PhoneSecondary   string              `json:"phone_secondary,omitempty"`
	Preload          map[string]any      `json:"preload,omitempty"`
	Status           domain.CaseStatus   `json:"status"`
	Priority         domain.Priority     `json:"priority"`
	AttemptCount     int                 `json:"attempt_count"`
	ClaimedBy        *uuid.UUID          `json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time          `json:"claimed_at,omitempty"`
	NextEligibleAt   *time.Time          `json:"next_eligible_at,omitempty"`
	FinalDisposition *domain.Disposition `json:"final_disposition,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func toCaseResponse(c *domain.CallCase) caseResponse {
	return caseResponse{
		ID:               c.ID,
		CampaignID:       c.CampaignID,
		PhonePrimary:     c.PhonePrimary,
		PhoneSecondary:   c.PhoneSecondary,
		Preload:          c.Preload,
		Status:           c.Status,
		Priority:         c.Priority,
		AttemptCount:     c.AttemptCount,
		ClaimedBy:        c.ClaimedBy,
		ClaimedAt:        c.ClaimedAt,
		NextEligibleAt:   c.NextEligibleAt,
		FinalDisposition: c.FinalDisposition,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func (h *HandlerSet) claimNext(ctx *fiber.Ctx) error {
	var req claimRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	interviewerID, err := uuid.Parse(req.InterviewerID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid interviewer id")
	}

	claim, err := h.dispatch.ClaimNext(ctx.Context(), campaignID, interviewerID)
	if err != nil {
		// An empty pool is a normal outcome for a polling client.
		if errors.Is(err, apperrors.ErrNoCase) {
			return ctx.SendStatus(http.StatusNoContent)
		}
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(claimResponse{
		Kind: string(claim.Kind),
		Case: toCaseResponse(claim.Case),
	})
}

type releaseRequest struct {
	CaseID        string `json:"case_id"`
	InterviewerID string `json:"interviewer_id"`
}

func (h *HandlerSet) releaseClaim(ctx *fiber.Ctx) error {
	var req releaseRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	caseID, err := uuid.Parse(req.CaseID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid case id")
	}
	interviewerID, err := uuid.Parse(req.InterviewerID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid interviewer id")
	}

	if err := h.dispatch.Release(ctx.Context(), caseID, interviewerID); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"released": true})
}

func (h *HandlerSet) getCase(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid case id")
	}

	c, err := h.container.Repositories().Cases.GetCase(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCaseResponse(c))
}
