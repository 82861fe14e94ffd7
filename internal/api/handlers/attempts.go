package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	attemptsvc "github.com/acme/cati-dispatch/internal/service/attempt"
)

type recordAttemptRequest struct {
	CaseID        string     `json:"case_id"`
	InterviewerID string     `json:"interviewer_id"`
	Disposition   string     `json:"disposition"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       time.Time  `json:"ended_at"`
	Notes         string     `json:"notes,omitempty"`
	CallbackFor   *time.Time `json:"callback_for,omitempty"`
}

type attemptResponse struct {
	ID            uuid.UUID          `json:"id"`
	CaseID        uuid.UUID          `json:"case_id"`
	CampaignID    uuid.UUID          `json:"campaign_id"`
	InterviewerID uuid.UUID          `json:"interviewer_id"`
	AttemptNumber int                `json:"attempt_number"`
	Disposition   domain.Disposition `json:"disposition"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at"`
	DurationMs    int64              `json:"duration_ms"`
	CallbackFor   *time.Time         `json:"callback_for,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

type recordAttemptResponse struct {
	AttemptID      uuid.UUID         `json:"attempt_id"`
	Attempt        attemptResponse   `json:"attempt"`
	NewStatus      domain.CaseStatus `json:"new_status"`
	NextEligibleAt *time.Time        `json:"next_eligible_at,omitempty"`
}

func toAttemptResponse(rec *domain.AttemptRecord) attemptResponse {
	return attemptResponse{
		ID:            rec.ID,
		CaseID:        rec.CaseID,
		CampaignID:    rec.CampaignID,
		InterviewerID: rec.InterviewerID,
		AttemptNumber: rec.AttemptNumber,
		Disposition:   rec.Disposition,
		StartedAt:     rec.StartedAt,
		EndedAt:       rec.EndedAt,
		DurationMs:    rec.Duration.Milliseconds(),
		CallbackFor:   rec.CallbackFor,
		Notes:         rec.Notes,
		CreatedAt:     rec.CreatedAt,
	}
}

func (h *HandlerSet) recordAttempt(ctx *fiber.Ctx) error {
	var req recordAttemptRequest
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

	result, err := h.attempts.Record(ctx.Context(), attemptsvc.RecordInput{
		CaseID:        caseID,
		InterviewerID: interviewerID,
		Disposition:   domain.Disposition(req.Disposition),
		StartedAt:     req.StartedAt,
		EndedAt:       req.EndedAt,
		Notes:         req.Notes,
		CallbackFor:   req.CallbackFor,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(recordAttemptResponse{
		AttemptID:      result.Attempt.ID,
		Attempt:        toAttemptResponse(result.Attempt),
		NewStatus:      result.NewStatus,
		NextEligibleAt: result.NextEligibleAt,
	})
}
