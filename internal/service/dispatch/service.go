package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
)

// ClaimKind distinguishes how a case was selected.
type ClaimKind string

const (
	ClaimKindScheduledCallback ClaimKind = "scheduled_callback"
	ClaimKindQueue             ClaimKind = "queue"
)

// Claim is the result of a successful ClaimNext call.
type Claim struct {
	Case *domain.CallCase
	Kind ClaimKind
}

// Service hands out call cases to interviewers. Mutual exclusion rests
// entirely on the store's conditional claim update; lost races advance to
// the next candidate instead of failing the call.
type Service struct {
	cases          repository.CaseStore
	campaigns      repository.CampaignConfigRepository
	candidateLimit int
	now            func() time.Time
}

// NewService builds the dispatcher.
func NewService(cases repository.CaseStore, campaigns repository.CampaignConfigRepository, candidateLimit int) *Service {
	if candidateLimit <= 0 {
		candidateLimit = 25
	}
	return &Service{
		cases:          cases,
		campaigns:      campaigns,
		candidateLimit: candidateLimit,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// ClaimNext selects and atomically claims the next eligible case for the
// interviewer. Returns ErrNoCase when the pool is empty or the campaign is
// outside working hours, and ErrClaimLimit when the interviewer is at the
// claim cap holding more than one case.
func (s *Service) ClaimNext(ctx context.Context, campaignID, interviewerID uuid.UUID) (*Claim, error) {
	tracer := otel.Tracer("cati.dispatch")
	ctx, span := tracer.Start(ctx, "dispatch.claim_next")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", campaignID.String()),
		attribute.String("interviewer.id", interviewerID.String()),
	)

	cfg, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: lookup campaign: %w", err)
	}

	now := s.now()
	if !withinWorkingHours(now, cfg) {
		return nil, fmt.Errorf("%w: campaign outside working hours", apperrors.ErrNoCase)
	}

	held, err := s.cases.CountClaimedBy(ctx, campaignID, interviewerID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: count claims: %w", err)
	}
	if cfg.MaxClaimedPerInterviewer > 0 && held >= cfg.MaxClaimedPerInterviewer {
		return s.heldCase(ctx, campaignID, interviewerID)
	}

	for _, tier := range domain.PriorityTiers {
		candidates, err := s.cases.QueryEligible(ctx, campaignID, tier, now, s.candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("dispatch: query tier %s: %w", tier, err)
		}

		for _, candidate := range candidates {
			applied, err := s.cases.ClaimCase(ctx, candidate.ID, interviewerID, now)
			if err != nil {
				return nil, fmt.Errorf("dispatch: claim case: %w", err)
			}
			if !applied {
				// lost the race, next candidate
				continue
			}

			claimed, err := s.cases.GetCase(ctx, candidate.ID)
			if err != nil {
				return nil, fmt.Errorf("dispatch: reload claimed case: %w", err)
			}

			// Callbacks are the only scheduled claims and always land in the
			// urgent tier; a next_eligible_at on a lower tier is retry backoff.
			kind := ClaimKindQueue
			if tier == domain.PriorityUrgent && candidate.NextEligibleAt != nil {
				kind = ClaimKindScheduledCallback
			}
			span.SetAttributes(
				attribute.String("case.id", claimed.ID.String()),
				attribute.String("claim.kind", string(kind)),
			)
			return &Claim{Case: claimed, Kind: kind}, nil
		}
	}

	return nil, apperrors.ErrNoCase
}

// heldCase implements the idempotent at-limit return: exactly one held case
// comes back as a repeat claim, anything else is a limit error.
func (s *Service) heldCase(ctx context.Context, campaignID, interviewerID uuid.UUID) (*Claim, error) {
	held, err := s.cases.ListClaimedBy(ctx, campaignID, interviewerID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list claims: %w", err)
	}
	if len(held) == 1 {
		return &Claim{Case: held[0], Kind: ClaimKindQueue}, nil
	}
	return nil, fmt.Errorf("%w: %d cases held", apperrors.ErrClaimLimit, len(held))
}

// Release returns a claimed case to the pool. A release by someone who no
// longer holds the claim is a no-op, not an error.
func (s *Service) Release(ctx context.Context, caseID, interviewerID uuid.UUID) error {
	if _, err := s.cases.GetCase(ctx, caseID); err != nil {
		return fmt.Errorf("dispatch: lookup case: %w", err)
	}

	if _, err := s.cases.ReleaseCase(ctx, caseID, interviewerID, s.now()); err != nil {
		return fmt.Errorf("dispatch: release case: %w", err)
	}
	return nil
}

// withinWorkingHours evaluates the campaign window in campaign-local time.
// An unparseable zone falls back to UTC rather than blocking dispatch.
func withinWorkingHours(now time.Time, cfg *domain.CampaignConfig) bool {
	local := now
	if cfg.TimeZone != "" {
		if loc, err := time.LoadLocation(cfg.TimeZone); err == nil {
			local = now.In(loc)
		}
	}
	return cfg.WorkingHours.Contains(local)
}
