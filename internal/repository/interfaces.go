package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignConfigRepository manages campaign dispatch configuration. The
// engine only reads it; Create exists for the admin boundary.
type CampaignConfigRepository interface {
	Create(ctx context.Context, cfg *domain.CampaignConfig) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CampaignConfig, error)
	List(ctx context.Context, limit int) ([]*domain.CampaignConfig, error)
}

// CaseTransition carries the post-attempt case update applied by the
// recorder. AttemptCount is the new value; the store conditions the update
// on the previous value so a replay can never double-increment.
type CaseTransition struct {
	AttemptCount     int
	Status           domain.CaseStatus
	Priority         domain.Priority
	NextEligibleAt   *time.Time
	FinalDisposition *domain.Disposition
	Now              time.Time
}

// CaseStore persists call cases. All mutations are single-row conditional
// updates; the applied return value reports whether the guard still held.
type CaseStore interface {
	InsertCases(ctx context.Context, cases []*domain.CallCase) error
	GetCase(ctx context.Context, id uuid.UUID) (*domain.CallCase, error)

	// QueryEligible returns available cases in the tier whose next_eligible_at
	// is unset or due, in dispatch order. A fresh query must be issued per
	// dispatch pass.
	QueryEligible(ctx context.Context, campaignID uuid.UUID, tier domain.Priority, now time.Time, limit int) ([]*domain.CallCase, error)

	// ClaimCase sets status=claimed iff the case is still available.
	ClaimCase(ctx context.Context, caseID, interviewerID uuid.UUID, now time.Time) (bool, error)

	// ReleaseCase returns a claimed case to the pool iff still held by the
	// caller.
	ReleaseCase(ctx context.Context, caseID, interviewerID uuid.UUID, now time.Time) (bool, error)

	// ApplyTransition finalizes a recorded attempt: bumps attempt_count,
	// applies the outcome-policy fields, and clears the claim. Guarded on
	// (claimed, claimed_by=interviewer, attempt_count=AttemptCount-1).
	ApplyTransition(ctx context.Context, caseID, interviewerID uuid.UUID, tr CaseTransition) (bool, error)

	// ReclaimExpired returns claims older than cutoff to the pool.
	ReclaimExpired(ctx context.Context, campaignID uuid.UUID, cutoff, now time.Time, limit int) (int64, error)

	CountClaimedBy(ctx context.Context, campaignID, interviewerID uuid.UUID) (int, error)
	ListClaimedBy(ctx context.Context, campaignID, interviewerID uuid.UUID) ([]*domain.CallCase, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.CaseStatus]int64, error)
}

// AttemptStore persists append-only attempt records with uniqueness on
// (case_id, attempt_number).
type AttemptStore interface {
	// AppendAttempt inserts the record; applied=false means a record with the
	// same idempotency key already exists.
	AppendAttempt(ctx context.Context, rec *domain.AttemptRecord) (bool, error)
	GetAttempt(ctx context.Context, campaignID, caseID uuid.UUID, attemptNumber int) (*domain.AttemptRecord, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.AttemptRecord, error)
}
