package stats

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository"
)

// Service projects campaign progress from case counts and attempt history.
type Service struct {
	cases     repository.CaseStore
	attempts  repository.AttemptStore
	campaigns repository.CampaignConfigRepository
}

// NewService builds the aggregator.
func NewService(cases repository.CaseStore, attempts repository.AttemptStore, campaigns repository.CampaignConfigRepository) *Service {
	return &Service{cases: cases, attempts: attempts, campaigns: campaigns}
}

// CampaignStats computes the current snapshot for one campaign. Counts come
// straight from the stores, so the snapshot is eventually consistent with
// in-flight attempts.
func (s *Service) CampaignStats(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	tracer := otel.Tracer("cati.stats")
	ctx, span := tracer.Start(ctx, "stats.campaign")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.id", campaignID.String()))

	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return nil, fmt.Errorf("stats: lookup campaign: %w", err)
	}

	counts, err := s.cases.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("stats: count cases: %w", err)
	}

	attempts, err := s.attempts.ListByCampaign(ctx, campaignID, 0)
	if err != nil {
		return nil, fmt.Errorf("stats: list attempts: %w", err)
	}

	out := &domain.CampaignStats{
		AvailableCases: counts[domain.CaseStatusAvailable],
		ClaimedCases:   counts[domain.CaseStatusClaimed],
		CompletedCases: counts[domain.CaseStatusCompleted],
		ExhaustedCases: counts[domain.CaseStatusExhausted],
	}
	out.TotalCases = out.AvailableCases + out.ClaimedCases + out.CompletedCases + out.ExhaustedCases
	if out.TotalCases > 0 {
		out.CompletionRate = float64(out.CompletedCases) / float64(out.TotalCases)
	}

	byInterviewer := make(map[uuid.UUID]*domain.InterviewerStats)
	for _, rec := range attempts {
		out.TotalAttempts++
		if rec.Disposition.IsContact() {
			out.ContactAttempts++
		}

		ist, ok := byInterviewer[rec.InterviewerID]
		if !ok {
			ist = &domain.InterviewerStats{
				InterviewerID: rec.InterviewerID,
				Dispositions:  make(map[domain.Disposition]int64),
			}
			byInterviewer[rec.InterviewerID] = ist
		}
		ist.Attempts++
		ist.TalkTime += rec.Duration
		ist.Dispositions[rec.Disposition]++
		if rec.Disposition == domain.DispositionComplete {
			ist.Completions++
		}
	}
	if out.TotalAttempts > 0 {
		out.ContactRate = float64(out.ContactAttempts) / float64(out.TotalAttempts)
	}

	out.Interviewers = make([]domain.InterviewerStats, 0, len(byInterviewer))
	for _, ist := range byInterviewer {
		out.Interviewers = append(out.Interviewers, *ist)
	}
	sort.Slice(out.Interviewers, func(i, j int) bool {
		a, b := out.Interviewers[i], out.Interviewers[j]
		if a.Attempts != b.Attempts {
			return a.Attempts > b.Attempts
		}
		return a.InterviewerID.String() < b.InterviewerID.String()
	})

	return out, nil
}
