package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
)

type workingHoursPayload struct {
	StartHour int   `json:"start_hour"`
	EndHour   int   `json:"end_hour"`
	Weekdays  []int `json:"weekdays,omitempty"`
}

type createCampaignRequest struct {
	Name                     string               `json:"name"`
	TimeZone                 string               `json:"time_zone"`
	MaxAttempts              int                  `json:"max_attempts"`
	MinAttemptGapSeconds     int64                `json:"min_attempt_gap_seconds"`
	CallbackWindowSeconds    int64                `json:"callback_window_seconds"`
	WorkingHours             *workingHoursPayload `json:"working_hours,omitempty"`
	MaxClaimedPerInterviewer int                  `json:"max_claimed_per_interviewer"`
	ClaimTimeoutSeconds      int64                `json:"claim_timeout_seconds"`
}

type campaignResponse struct {
	ID                       uuid.UUID           `json:"id"`
	Name                     string              `json:"name"`
	TimeZone                 string              `json:"time_zone,omitempty"`
	MaxAttempts              int                 `json:"max_attempts"`
	MinAttemptGapSeconds     int64               `json:"min_attempt_gap_seconds"`
	CallbackWindowSeconds    int64               `json:"callback_window_seconds"`
	WorkingHours             workingHoursPayload `json:"working_hours"`
	MaxClaimedPerInterviewer int                 `json:"max_claimed_per_interviewer"`
	ClaimTimeoutSeconds      int64               `json:"claim_timeout_seconds"`
	CreatedAt                time.Time           `json:"created_at"`
	UpdatedAt                time.Time           `json:"updated_at"`
}

func toCampaignResponse(cfg *domain.CampaignConfig) campaignResponse {
	days := make([]int, 0, len(cfg.WorkingHours.Weekdays))
	for _, d := range cfg.WorkingHours.Weekdays {
		days = append(days, int(d))
	}
	return campaignResponse{
		ID:                       cfg.ID,
		Name:                     cfg.Name,
		TimeZone:                 cfg.TimeZone,
		MaxAttempts:              cfg.MaxAttempts,
		MinAttemptGapSeconds:     int64(cfg.MinAttemptGap / time.Second),
		CallbackWindowSeconds:    int64(cfg.CallbackWindow / time.Second),
		WorkingHours:             workingHoursPayload{StartHour: cfg.WorkingHours.StartHour, EndHour: cfg.WorkingHours.EndHour, Weekdays: days},
		MaxClaimedPerInterviewer: cfg.MaxClaimedPerInterviewer,
		ClaimTimeoutSeconds:      int64(cfg.ClaimTimeout / time.Second),
		CreatedAt:                cfg.CreatedAt,
		UpdatedAt:                cfg.UpdatedAt,
	}
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if req.Name == "" {
		return fiber.NewError(http.StatusBadRequest, "campaign name is required")
	}
	if req.MaxAttempts <= 0 {
		return fiber.NewError(http.StatusBadRequest, "max_attempts must be positive")
	}
	if req.TimeZone != "" {
		if _, err := time.LoadLocation(req.TimeZone); err != nil {
			return fiber.NewError(http.StatusBadRequest, "unknown time zone")
		}
	}

	now := time.Now().UTC()
	cfg := &domain.CampaignConfig{
		ID:                       uuid.New(),
		Name:                     req.Name,
		TimeZone:                 req.TimeZone,
		MaxAttempts:              req.MaxAttempts,
		MinAttemptGap:            time.Duration(req.MinAttemptGapSeconds) * time.Second,
		CallbackWindow:           time.Duration(req.CallbackWindowSeconds) * time.Second,
		MaxClaimedPerInterviewer: req.MaxClaimedPerInterviewer,
		ClaimTimeout:             time.Duration(req.ClaimTimeoutSeconds) * time.Second,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if req.WorkingHours != nil {
		if req.WorkingHours.StartHour < 0 || req.WorkingHours.StartHour > 23 ||
			req.WorkingHours.EndHour < 0 || req.WorkingHours.EndHour > 23 {
			return fiber.NewError(http.StatusBadRequest, "working hours out of range")
		}
		cfg.WorkingHours.StartHour = req.WorkingHours.StartHour
		cfg.WorkingHours.EndHour = req.WorkingHours.EndHour
		for _, d := range req.WorkingHours.Weekdays {
			if d < 0 || d > 6 {
				return fiber.NewError(http.StatusBadRequest, "weekday out of range")
			}
			cfg.WorkingHours.Weekdays = append(cfg.WorkingHours.Weekdays, time.Weekday(d))
		}
	}

	if err := h.container.Repositories().Campaigns.Create(ctx.Context(), cfg); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(cfg))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", 100)

	campaigns, err := h.container.Repositories().Campaigns.List(ctx.Context(), limit)
	if err != nil {
		return translateError(err)
	}

	out := make([]campaignResponse, 0, len(campaigns))
	for _, cfg := range campaigns {
		out = append(out, toCampaignResponse(cfg))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"campaigns": out})
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	cfg, err := h.container.Repositories().Campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(cfg))
}

type addCasesRequest struct {
	Cases []casePayload `json:"cases"`
}

type casePayload struct {
	ID             string         `json:"id,omitempty"`
	PhonePrimary   string         `json:"phone_primary"`
	PhoneSecondary string         `json:"phone_secondary,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Preload        map[string]any `json:"preload,omitempty"`
}

func (h *HandlerSet) addCases(ctx *fiber.Ctx) error {
	campaignID, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req addCasesRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Cases) == 0 {
		return fiber.NewError(http.StatusBadRequest, "no cases supplied")
	}

	if _, err := h.container.Repositories().Campaigns.Get(ctx.Context(), campaignID); err != nil {
		return translateError(err)
	}

	now := time.Now().UTC()
	cases := make([]*domain.CallCase, 0, len(req.Cases))
	for _, payload := range req.Cases {
		if payload.PhonePrimary == "" {
			return fiber.NewError(http.StatusBadRequest, "phone_primary is required")
		}

		id := uuid.New()
		if payload.ID != "" {
			parsed, err := uuid.Parse(payload.ID)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, "invalid case id")
			}
			id = parsed
		}

		priority := domain.PriorityNormal
		if payload.Priority != "" {
			priority = domain.Priority(payload.Priority)
			if !priority.Valid() {
				return fiber.NewError(http.StatusBadRequest, "invalid priority")
			}
		}

		cases = append(cases, &domain.CallCase{
			ID:             id,
			CampaignID:     campaignID,
			PhonePrimary:   payload.PhonePrimary,
			PhoneSecondary: payload.PhoneSecondary,
			Preload:        payload.Preload,
			Status:         domain.CaseStatusAvailable,
			Priority:       priority,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := h.container.Repositories().Cases.InsertCases(ctx.Context(), cases); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"inserted": len(cases)})
}

type interviewerStatsResponse struct {
	InterviewerID uuid.UUID        `json:"interviewer_id"`
	Attempts      int64            `json:"attempts"`
	Completions   int64            `json:"completions"`
	TalkTimeMs    int64            `json:"talk_time_ms"`
	Dispositions  map[string]int64 `json:"dispositions"`
}

type campaignStatsResponse struct {
	TotalCases      int64                      `json:"total_cases"`
	AvailableCases  int64                      `json:"available_cases"`
	ClaimedCases    int64                      `json:"claimed_cases"`
	CompletedCases  int64                      `json:"completed_cases"`
	ExhaustedCases  int64                      `json:"exhausted_cases"`
	CompletionRate  float64                    `json:"completion_rate"`
	TotalAttempts   int64                      `json:"total_attempts"`
	ContactAttempts int64                      `json:"contact_attempts"`
	ContactRate     float64                    `json:"contact_rate"`
	Interviewers    []interviewerStatsResponse `json:"interviewers"`
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	snapshot, err := h.stats.CampaignStats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	out := campaignStatsResponse{
		TotalCases:      snapshot.TotalCases,
		AvailableCases:  snapshot.AvailableCases,
		ClaimedCases:    snapshot.ClaimedCases,
		CompletedCases:  snapshot.CompletedCases,
		ExhaustedCases:  snapshot.ExhaustedCases,
		CompletionRate:  snapshot.CompletionRate,
		TotalAttempts:   snapshot.TotalAttempts,
		ContactAttempts: snapshot.ContactAttempts,
		ContactRate:     snapshot.ContactRate,
		Interviewers:    make([]interviewerStatsResponse, 0, len(snapshot.Interviewers)),
	}
	for _, ist := range snapshot.Interviewers {
		dispositions := make(map[string]int64, len(ist.Dispositions))
		for d, n := range ist.Dispositions {
			dispositions[string(d)] = n
		}
		out.Interviewers = append(out.Interviewers, interviewerStatsResponse{
			InterviewerID: ist.InterviewerID,
			Attempts:      ist.Attempts,
			Completions:   ist.Completions,
			TalkTimeMs:    ist.TalkTime.Milliseconds(),
			Dispositions:  dispositions,
		})
	}

	return ctx.Status(http.StatusOK).JSON(out)
}
