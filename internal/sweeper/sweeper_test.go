package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository/memory"
	"github.com/acme/cati-dispatch/pkg/logger"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type fakeLease struct {
	held  bool
	calls int
}

func (f *fakeLease) TryAcquire(ctx context.Context) (bool, error) {
	f.calls++
	return f.held, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func seedClaimed(t *testing.T, store *memory.Store, campaignID uuid.UUID, claimedAt time.Time) uuid.UUID {
	t.Helper()
	interviewer := uuid.New()
	at := claimedAt
	c := &domain.CallCase{
		ID:           uuid.New(),
		CampaignID:   campaignID,
		PhonePrimary: "+15550100",
		Status:       domain.CaseStatusClaimed,
		Priority:     domain.PriorityNormal,
		ClaimedBy:    &interviewer,
		ClaimedAt:    &at,
		CreatedAt:    claimedAt,
	}
	if err := store.InsertCases(context.Background(), []*domain.CallCase{c}); err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return c.ID
}

func TestTickReclaimsExpiredClaims(t *testing.T) {
	store := memory.NewStore()
	campaign := &domain.CampaignConfig{ID: uuid.New(), Name: "q1-health", ClaimTimeout: 15 * time.Minute}
	if err := store.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	stale := seedClaimed(t, store, campaign.ID, now.Add(-time.Hour))
	fresh := seedClaimed(t, store, campaign.ID, now.Add(-time.Minute))

	sw := New(store, store, nil, testLogger(t), Config{})
	sw.now = func() time.Time { return now }

	if err := sw.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	c, _ := store.GetCase(context.Background(), stale)
	if c.Status != domain.CaseStatusAvailable || c.ClaimedBy != nil {
		t.Fatalf("expected stale claim released, got %s", c.Status)
	}
	c, _ = store.GetCase(context.Background(), fresh)
	if c.Status != domain.CaseStatusClaimed {
		t.Fatalf("fresh claim must survive, got %s", c.Status)
	}
}

func TestTickUsesDefaultTimeout(t *testing.T) {
	store := memory.NewStore()
	campaign := &domain.CampaignConfig{ID: uuid.New(), Name: "no-timeout"}
	if err := store.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	stale := seedClaimed(t, store, campaign.ID, now.Add(-10*time.Minute))

	sw := New(store, store, nil, testLogger(t), Config{DefaultClaimTimeout: 5 * time.Minute})
	sw.now = func() time.Time { return now }

	if err := sw.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	c, _ := store.GetCase(context.Background(), stale)
	if c.Status != domain.CaseStatusAvailable {
		t.Fatalf("expected reclaim under default timeout, got %s", c.Status)
	}
}

func TestTickSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	store := memory.NewStore()
	campaign := &domain.CampaignConfig{ID: uuid.New(), Name: "q1-health", ClaimTimeout: time.Minute}
	if err := store.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	stale := seedClaimed(t, store, campaign.ID, now.Add(-time.Hour))

	lease := &fakeLease{held: false}
	sw := New(store, store, lease, testLogger(t), Config{})
	sw.now = func() time.Time { return now }

	if err := sw.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if lease.calls != 1 {
		t.Fatalf("expected 1 lease attempt, got %d", lease.calls)
	}

	c, _ := store.GetCase(context.Background(), stale)
	if c.Status != domain.CaseStatusClaimed {
		t.Fatalf("tick must be a no-op without the lease, got %s", c.Status)
	}
}
