package attempt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/policy"
	"github.com/acme/cati-dispatch/internal/queue"
	"github.com/acme/cati-dispatch/internal/repository"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
	"github.com/acme/cati-dispatch/pkg/logger"
)

// Events receives attempt notifications for downstream consumers.
type Events interface {
	PublishAttempt(ctx context.Context, ev queue.AttemptEvent) error
}

// Service records call attempts: it appends the immutable attempt record,
// applies the outcome policy, and releases the claim.
type Service struct {
	cases     repository.CaseStore
	attempts  repository.AttemptStore
	campaigns repository.CampaignConfigRepository
	events    Events
	log       *logger.Logger
	now       func() time.Time
}

// NewService builds the recorder. events may be nil.
func NewService(
	cases repository.CaseStore,
	attempts repository.AttemptStore,
	campaigns repository.CampaignConfigRepository,
	events Events,
	log *logger.Logger,
) *Service {
	return &Service{
		cases:     cases,
		attempts:  attempts,
		campaigns: campaigns,
		events:    events,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordInput captures the arguments for recording an attempt.
type RecordInput struct {
	CaseID        uuid.UUID
	InterviewerID uuid.UUID
	Disposition   domain.Disposition
	StartedAt     time.Time
	EndedAt       time.Time
	Notes         string
	CallbackFor   *time.Time
}

// RecordResult is the outcome of a Record call.
type RecordResult struct {
	Attempt        *domain.AttemptRecord
	NewStatus      domain.CaseStatus
	NextEligibleAt *time.Time
}

const (
	transientRetries = 3
	transientBackoff = 100 * time.Millisecond
)

// Record appends an attempt record and transitions the case; a successful
// record always clears the claim. Replaying the same attempt returns the
// already persisted record without touching the case again.
func (s *Service) Record(ctx context.Context, input RecordInput) (*RecordResult, error) {
	tracer := otel.Tracer("cati.attempt")
	ctx, span := tracer.Start(ctx, "attempt.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("case.id", input.CaseID.String()),
		attribute.String("disposition", string(input.Disposition)),
	)

	now := s.now()
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var c *domain.CallCase
	err := s.retryTransient(ctx, func() error {
		var err error
		c, err = s.cases.GetCase(ctx, input.CaseID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("attempt: load case: %w", err)
	}

	if c.Status != domain.CaseStatusClaimed || c.ClaimedBy == nil || *c.ClaimedBy != input.InterviewerID {
		return nil, fmt.Errorf("%w: case %s", apperrors.ErrNotClaimedByCaller, input.CaseID)
	}

	cfg, err := s.campaigns.Get(ctx, c.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("attempt: lookup campaign: %w", err)
	}
	if err := validateCallback(input, cfg, now); err != nil {
		return nil, err
	}

	attemptNumber := c.AttemptCount + 1
	rec := &domain.AttemptRecord{
		ID:            uuid.New(),
		CaseID:        c.ID,
		CampaignID:    c.CampaignID,
		InterviewerID: input.InterviewerID,
		AttemptNumber: attemptNumber,
		Disposition:   input.Disposition,
		StartedAt:     input.StartedAt,
		EndedAt:       input.EndedAt,
		Duration:      input.EndedAt.Sub(input.StartedAt),
		CallbackFor:   input.CallbackFor,
		Notes:         input.Notes,
		CreatedAt:     now,
	}

	var appended bool
	err = s.retryTransient(ctx, func() error {
		var err error
		appended, err = s.attempts.AppendAttempt(ctx, rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("attempt: append record: %w", err)
	}
	if !appended {
		return s.replayed(ctx, c, attemptNumber, input.InterviewerID)
	}

	next := *c
	next.AttemptCount = attemptNumber
	transition, err := policy.Apply(&next, input.Disposition, cfg, input.CallbackFor, now)
	if err != nil {
		return nil, err
	}

	update := repository.CaseTransition{
		AttemptCount:     attemptNumber,
		Status:           transition.Status,
		Priority:         transition.Priority,
		NextEligibleAt:   transition.NextEligibleAt,
		FinalDisposition: transition.FinalDisposition,
		Now:              now,
	}

	var applied bool
	err = s.retryTransient(ctx, func() error {
		var err error
		applied, err = s.cases.ApplyTransition(ctx, c.ID, input.InterviewerID, update)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("attempt: apply transition: %w", err)
	}
	if !applied {
		// We wrote the attempt row but the transition guard no longer holds.
		// Either a retried write of our own transition already landed, or the
		// claim was lost (sweeper reclaim, release) mid-record.
		current, err := s.cases.GetCase(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("attempt: reload case: %w", err)
		}
		if current.AttemptCount >= attemptNumber {
			return &RecordResult{
				Attempt:        rec,
				NewStatus:      current.Status,
				NextEligibleAt: current.NextEligibleAt,
			}, nil
		}
		return nil, fmt.Errorf("%w: claim on case %s lost while recording attempt %d",
			apperrors.ErrConflict, c.ID, attemptNumber)
	}

	s.publish(ctx, rec, transition)

	return &RecordResult{
		Attempt:        rec,
		NewStatus:      transition.Status,
		NextEligibleAt: transition.NextEligibleAt,
	}, nil
}

// replayed resolves a duplicate Record call from the already persisted
// attempt and current case state, without incrementing anything. An attempt
// row written by a different interviewer is not a replay: it is an orphan
// from a lost claim colliding with a fresh recording.
func (s *Service) replayed(ctx context.Context, c *domain.CallCase, attemptNumber int, interviewerID uuid.UUID) (*RecordResult, error) {
	existing, err := s.attempts.GetAttempt(ctx, c.CampaignID, c.ID, attemptNumber)
	if err != nil {
		return nil, fmt.Errorf("attempt: load replayed record: %w", err)
	}
	if existing.InterviewerID != interviewerID {
		return nil, fmt.Errorf("%w: attempt %d on case %s already recorded by another interviewer",
			apperrors.ErrConflict, attemptNumber, c.ID)
	}

	current, err := s.cases.GetCase(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("attempt: reload case: %w", err)
	}

	return &RecordResult{
		Attempt:        existing,
		NewStatus:      current.Status,
		NextEligibleAt: current.NextEligibleAt,
	}, nil
}

func (s *Service) publish(ctx context.Context, rec *domain.AttemptRecord, tr policy.Transition) {
	if s.events == nil {
		return
	}

	ev := queue.AttemptEvent{
		AttemptID:      rec.ID,
		CaseID:         rec.CaseID,
		CampaignID:     rec.CampaignID,
		InterviewerID:  rec.InterviewerID,
		AttemptNumber:  rec.AttemptNumber,
		Disposition:    rec.Disposition,
		NewStatus:      tr.Status,
		NextEligibleAt: tr.NextEligibleAt,
		DurationMs:     rec.Duration.Milliseconds(),
		OccurredAt:     rec.CreatedAt,
	}

	if err := s.events.PublishAttempt(ctx, ev); err != nil && s.log != nil {
		s.log.Warn("attempt: publish event",
			zap.Error(err),
			zap.String("case_id", rec.CaseID.String()),
			zap.Int("attempt_number", rec.AttemptNumber),
		)
	}
}

// retryTransient retries fn on non-logical errors with a short linear
// backoff. Logical errors surface immediately.
func (s *Service) retryTransient(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < transientRetries; i++ {
		if err = fn(); err == nil || apperrors.Logical(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * transientBackoff):
		}
	}
	return err
}

func validateInput(input RecordInput) error {
	if !input.Disposition.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidDisposition, input.Disposition)
	}
	if input.StartedAt.IsZero() || input.EndedAt.IsZero() {
		return fmt.Errorf("%w: attempt start and end times are required", apperrors.ErrValidation)
	}
	if input.EndedAt.Before(input.StartedAt) {
		return fmt.Errorf("%w: attempt end precedes start", apperrors.ErrValidation)
	}
	return nil
}

func validateCallback(input RecordInput, cfg *domain.CampaignConfig, now time.Time) error {
	if !input.Disposition.IsCallback() {
		return nil
	}
	if input.CallbackFor == nil {
		return fmt.Errorf("%w: callback time is required", apperrors.ErrValidation)
	}
	if input.CallbackFor.Before(now) {
		return fmt.Errorf("%w: callback time is in the past", apperrors.ErrValidation)
	}
	if cfg.CallbackWindow > 0 && input.CallbackFor.After(now.Add(cfg.CallbackWindow)) {
		return fmt.Errorf("%w: callback time beyond campaign window", apperrors.ErrValidation)
	}
	return nil
}
