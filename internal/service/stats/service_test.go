package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository/memory"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func seedCase(t *testing.T, store *memory.Store, campaignID uuid.UUID, status domain.CaseStatus) uuid.UUID {
	t.Helper()
	c := &domain.CallCase{
		ID:           uuid.New(),
		CampaignID:   campaignID,
		PhonePrimary: "+15550100",
		Status:       status,
		Priority:     domain.PriorityNormal,
		CreatedAt:    base,
	}
	if err := store.InsertCases(context.Background(), []*domain.CallCase{c}); err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return c.ID
}

func seedAttempt(t *testing.T, store *memory.Store, campaignID, caseID, interviewerID uuid.UUID, n int, disp domain.Disposition, talk time.Duration) {
	t.Helper()
	rec := &domain.AttemptRecord{
		ID:            uuid.New(),
		CaseID:        caseID,
		CampaignID:    campaignID,
		InterviewerID: interviewerID,
		AttemptNumber: n,
		Disposition:   disp,
		StartedAt:     base,
		EndedAt:       base.Add(talk),
		Duration:      talk,
		CreatedAt:     base.Add(talk),
	}
	if applied, err := store.AppendAttempt(context.Background(), rec); err != nil || !applied {
		t.Fatalf("seed attempt: applied=%v err=%v", applied, err)
	}
}

func TestCampaignStats(t *testing.T) {
	store := memory.NewStore()
	campaign := &domain.CampaignConfig{ID: uuid.New(), Name: "q1-health", MaxAttempts: 3}
	if err := store.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	completed := seedCase(t, store, campaign.ID, domain.CaseStatusCompleted)
	exhausted := seedCase(t, store, campaign.ID, domain.CaseStatusExhausted)
	seedCase(t, store, campaign.ID, domain.CaseStatusAvailable)
	seedCase(t, store, campaign.ID, domain.CaseStatusClaimed)

	alice := uuid.New()
	bob := uuid.New()
	seedAttempt(t, store, campaign.ID, completed, alice, 1, domain.DispositionNoAnswer, 30*time.Second)
	seedAttempt(t, store, campaign.ID, completed, alice, 2, domain.DispositionComplete, 14*time.Minute)
	seedAttempt(t, store, campaign.ID, exhausted, bob, 1, domain.DispositionHardRefusal, time.Minute)

	svc := NewService(store, store, store)
	got, err := svc.CampaignStats(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.TotalCases != 4 || got.CompletedCases != 1 || got.ExhaustedCases != 1 {
		t.Fatalf("unexpected case counts: %+v", got)
	}
	if got.CompletionRate != 0.25 {
		t.Fatalf("expected completion rate 0.25, got %f", got.CompletionRate)
	}
	if got.TotalAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", got.TotalAttempts)
	}
	// no_answer is a non-contact, complete and hard_refusal reached a person
	if got.ContactAttempts != 2 {
		t.Fatalf("expected 2 contact attempts, got %d", got.ContactAttempts)
	}

	if len(got.Interviewers) != 2 {
		t.Fatalf("expected 2 interviewers, got %d", len(got.Interviewers))
	}
	top := got.Interviewers[0]
	if top.InterviewerID != alice || top.Attempts != 2 || top.Completions != 1 {
		t.Fatalf("unexpected top interviewer: %+v", top)
	}
	if top.TalkTime != 30*time.Second+14*time.Minute {
		t.Fatalf("unexpected talk time: %v", top.TalkTime)
	}
	if top.Dispositions[domain.DispositionComplete] != 1 {
		t.Fatalf("unexpected disposition histogram: %+v", top.Dispositions)
	}
}

func TestCampaignStatsEmpty(t *testing.T) {
	store := memory.NewStore()
	campaign := &domain.CampaignConfig{ID: uuid.New(), Name: "empty"}
	if err := store.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	svc := NewService(store, store, store)
	got, err := svc.CampaignStats(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalCases != 0 || got.CompletionRate != 0 || got.ContactRate != 0 {
		t.Fatalf("expected zeroed stats, got %+v", got)
	}
}

func TestCampaignStatsUnknownCampaign(t *testing.T) {
	svc := NewService(memory.NewStore(), memory.NewStore(), memory.NewStore())
	_, err := svc.CampaignStats(context.Background(), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
