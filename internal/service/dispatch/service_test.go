package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository/memory"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
)

var testNow = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func newCampaign(t *testing.T, store *memory.Store, maxClaimed int) *domain.CampaignConfig {
	t.Helper()
	cfg := &domain.CampaignConfig{
		ID:                       uuid.New(),
		Name:                     "q1-health",
		MaxAttempts:              3,
		MinAttemptGap:            2 * time.Hour,
		MaxClaimedPerInterviewer: maxClaimed,
		ClaimTimeout:             15 * time.Minute,
	}
	if err := store.Create(context.Background(), cfg); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return cfg
}

func seedAvailable(t *testing.T, store *memory.Store, campaignID uuid.UUID, priority domain.Priority, next *time.Time) uuid.UUID {
	t.Helper()
	c := &domain.CallCase{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		PhonePrimary:   "+15550100",
		Status:         domain.CaseStatusAvailable,
		Priority:       priority,
		NextEligibleAt: next,
		CreatedAt:      testNow.Add(-time.Hour),
	}
	if err := store.InsertCases(context.Background(), []*domain.CallCase{c}); err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return c.ID
}

func newDispatcher(store *memory.Store) *Service {
	svc := NewService(store, store, 0)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestClaimNextPriorityOrder(t *testing.T) {
	store := memory.NewStore()
	campaign := newCampaign(t, store, 0)

	low := seedAvailable(t, store, campaign.ID, domain.PriorityLow, nil)
	normal := seedAvailable(t, store, campaign.ID, domain.PriorityNormal, nil)
	high := seedAvailable(t, store, campaign.ID, domain.PriorityHigh, nil)
	urgent := seedAvailable(t, store, campaign.ID, domain.PriorityUrgent, nil)

	svc := newDispatcher(store)
	want := []uuid.UUID{urgent, high, normal, low}
	for i, expected := range want {
		claim, err := svc.ClaimNext(context.Background(), campaign.ID, uuid.New())
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claim.Case.ID != expected {
			t.Fatalf("claim %d: expected %s, got %s", i, expected, claim.Case.ID)
		}
	}

	if _, err := svc.ClaimNext(context.Background(), campaign.ID, uuid.New()); !errors.Is(err, apperrors.ErrNoCase) {
		t.Fatalf("expected ErrNoCase on empty pool, got %v", err)
	}
}

func TestClaimNextDueCallbackFirst(t *testing.T) {
	store := memory.NewStore()
	campaign := newCampaign(t, store, 0)

	queued := seedAvailable(t, store, campaign.ID, domain.PriorityUrgent, nil)
	due := testNow.Add(-10 * time.Minute)
	callback := seedAvailable(t, store, campaign.ID, domain.PriorityUrgent, &due)
	future := testNow.Add(time.Hour)
	seedAvailable(t, store, campaign.ID, domain.PriorityUrgent, &future)

	svc := newDispatcher(store)

	claim, err := svc.ClaimNext(context.Background(), campaign.ID, uuid.New())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Case.ID != callback {
		t.Fatalf("expected due callback first, got %s", claim.Case.ID)
	}
	if claim.Kind != ClaimKindScheduledCallback {
		t.Fatalf("expected scheduled_callback kind, got %s", claim.Kind)
	}

	claim, err = svc.ClaimNext(context.Background(), campaign.ID, uuid.New())
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claim.Case.ID != queued {
		t.Fatalf("expected queued case second, got %s", claim.Case.ID)
	}
	if claim.Kind != ClaimKindQueue {
		t.Fatalf("expected queue kind, got %s", claim.Kind)
	}

	// The not-yet-due callback is all that remains and must stay hidden.
	if _, err := svc.ClaimNext(context.Background(), campaign.ID, uuid.New()); !errors.Is(err, apperrors.ErrNoCase) {
		t.Fatalf("expected ErrNoCase, got %v", err)
	}
}

func TestClaimNextRetryBackoffIsQueueKind(t *testing.T) {
	store := memory.NewStore()
	campaign := newCampaign(t, store, 0)

	// A due next_eligible_at on a non-urgent case comes from retry backoff,
	// not a respondent-requested callback.
	due := testNow.Add(-30 * time.Minute)
	seedAvailable(t, store, campaign.ID, domain.PriorityNormal, &due)

	svc := newDispatcher(store)
	claim, err := svc.ClaimNext(context.Background(), campaign.ID, uuid.New())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Kind != ClaimKindQueue {
		t.Fatalf("retry-backoff case reported as %q, want %q", claim.Kind, ClaimKindQueue)
	}
}

func TestClaimNextConcurrentClaimsAreExclusive(t *testing.T) {
	store := memory.NewStore()
	campaign := newCampaign(t, store, 0)

	const cases = 8
	const interviewers = 32
	for i := 0; i < cases; i++ {
		seedAvailable(t, store, campaign.ID, domain.PriorityNormal, nil)
	}

	svc := newDispatcher(store)

	var mu sync.Mutex
	claimed := make(map[uuid.UUID]uuid.UUID)
	var empty int

	var wg sync.WaitGroup
	for i := 0; i < interviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := svc.ClaimNext(context.Background(), campaign.ID, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if holder, dup := claimed[claim.Case.ID]; dup {
					t.Errorf("case %s claimed twice (first by %s)", claim.Case.ID, holder)
					return
				}
				claimed[claim.Case.ID] = *claim.Case.ClaimedBy
			case errors.Is(err, apperrors.ErrNoCase):
				empty++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(claimed) != cases {
		t.Fatalf("expected %d claims, got %d", cases, len(claimed))
	}
	if empty != interviewers-cases {
		t.Fatalf("expected %d empty results, got %d", interviewers-cases, empty)
	}
}

func TestClaimNextLimitReturnsHeldCase(t *testing.T) {
	store := memory.NewStore()
	campaign := newCampaign(t, store, 1)
	seedAvailable(t, store, campaign.ID, domain.PriorityNormal, nil)
	seedAvailable(t, store, campaign.ID, domain.PriorityNormal, nil)

	svc := newDispatcher(store)
	interviewer := uuid.New()

	first, err := svc.ClaimNext(context.Background(), campaign.ID, interviewer)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// At the limit, a repeat claim returns the case already held.
	second, err := svc.ClaimNext(context.Background(), campaign.ID, interviewer)
	if err != nil {
		t.Fatalf("repeat claim: %v", err)
	}
	if second.Case.ID != first.Case.ID {
		t.Fatalf("expected held case %s, got %s", first.Case.ID, second.Case.ID)
	}
}

func TestClaimNextOutsideWorkingHours(t *testing.T) {
	store := memory.NewStore()
	cfg := &domain.CampaignConfig{
		ID:       uuid.New(),
		Name:     "evening-only",
		TimeZone: "UTC",
		WorkingHours: domain.WorkingHours{
			StartHour: 18,
			EndHour:   21,
		},
	}
	if err := store.Create(context.Background(), cfg); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	seedAvailable(t, store, cfg.ID, domain.PriorityNormal, nil)

	svc := newDispatcher(store) // testNow is 14:00 UTC
	if _, err := svc.ClaimNext(context.Background(), cfg.ID, uuid.New()); !errors.Is(err, apperrors.ErrNoCase) {
		t.Fatalf("expected ErrNoCase outside working hours, got %v", err)
	}

	svc.now = func() time.Time { return time.Date(2024, 3, 4, 19, 0, 0, 0, time.UTC) }
	if _, err := svc.ClaimNext(context.Background(), cfg.ID, uuid.New()); err != nil {
		t.Fatalf("expected claim inside working hours, got %v", err)
	}
}

func TestClaimNextUnknownCampaign(t *testing.T) {
	svc := newDispatcher(memory.NewStore())
	_, err := svc.ClaimNext(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	campaign := newCampaign(t, store, 0)
	seedAvailable(t, store, campaign.ID, domain.PriorityNormal, nil)

	svc := newDispatcher(store)
	interviewer := uuid.New()

	claim, err := svc.ClaimNext(context.Background(), campaign.ID, interviewer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := svc.Release(context.Background(), claim.Case.ID, interviewer); err != nil {
		t.Fatalf("release: %v", err)
	}
	c, _ := store.GetCase(context.Background(), claim.Case.ID)
	if c.Status != domain.CaseStatusAvailable {
		t.Fatalf("expected available after release, got %s", c.Status)
	}

	// A second release by the same caller is a no-op.
	if err := svc.Release(context.Background(), claim.Case.ID, interviewer); err != nil {
		t.Fatalf("repeat release: %v", err)
	}

	// Unknown case ids still report not found.
	if err := svc.Release(context.Background(), uuid.New(), interviewer); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNextSkipsTerminalCases(t *testing.T) {
	store := memory.NewStore()
	campaign := newCampaign(t, store, 0)

	done := &domain.CallCase{
		ID:           uuid.New(),
		CampaignID:   campaign.ID,
		PhonePrimary: "+15550100",
		Status:       domain.CaseStatusCompleted,
		Priority:     domain.PriorityUrgent,
		CreatedAt:    testNow.Add(-time.Hour),
	}
	if err := store.InsertCases(context.Background(), []*domain.CallCase{done}); err != nil {
		t.Fatalf("seed case: %v", err)
	}

	svc := newDispatcher(store)
	if _, err := svc.ClaimNext(context.Background(), campaign.ID, uuid.New()); !errors.Is(err, apperrors.ErrNoCase) {
		t.Fatalf("terminal cases must never dispatch, got %v", err)
	}
}
