package policy

import (
	"testing"
	"time"

	"github.com/acme/cati-dispatch/internal/domain"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
)

var now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func testConfig() *domain.CampaignConfig {
	return &domain.CampaignConfig{
		MaxAttempts:   3,
		MinAttemptGap: 2 * time.Hour,
	}
}

func caseWithAttempts(n int, priority domain.Priority) *domain.CallCase {
	return &domain.CallCase{
		Status:       domain.CaseStatusClaimed,
		Priority:     priority,
		AttemptCount: n,
	}
}

func TestApplyComplete(t *testing.T) {
	tr, err := Apply(caseWithAttempts(1, domain.PriorityNormal), domain.DispositionComplete, testConfig(), nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Status != domain.CaseStatusCompleted {
		t.Fatalf("expected completed, got %s", tr.Status)
	}
	if tr.FinalDisposition == nil || *tr.FinalDisposition != domain.DispositionComplete {
		t.Fatalf("expected final disposition complete, got %v", tr.FinalDisposition)
	}
}

func TestApplyCallback(t *testing.T) {
	due := now.Add(26 * time.Hour)
	tr, err := Apply(caseWithAttempts(1, domain.PriorityNormal), domain.DispositionCallbackRequested, testConfig(), &due, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Status != domain.CaseStatusAvailable {
		t.Fatalf("expected available, got %s", tr.Status)
	}
	if tr.Priority != domain.PriorityUrgent {
		t.Fatalf("expected urgent priority, got %s", tr.Priority)
	}
	if tr.NextEligibleAt == nil || !tr.NextEligibleAt.Equal(due) {
		t.Fatalf("expected next eligible %v, got %v", due, tr.NextEligibleAt)
	}
}

func TestApplyHardTerminal(t *testing.T) {
	dispositions := []domain.Disposition{
		domain.DispositionHardRefusal,
		domain.DispositionIneligible,
		domain.DispositionDeceased,
		domain.DispositionDisconnected,
		domain.DispositionWrongNumber,
		domain.DispositionInstitutionalized,
	}

	for _, disp := range dispositions {
		// Hard terminals exhaust regardless of attempt count.
		tr, err := Apply(caseWithAttempts(1, domain.PriorityNormal), disp, testConfig(), nil, now)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", disp, err)
		}
		if tr.Status != domain.CaseStatusExhausted {
			t.Fatalf("%s: expected exhausted, got %s", disp, tr.Status)
		}
		if tr.FinalDisposition == nil || *tr.FinalDisposition != disp {
			t.Fatalf("%s: expected final disposition set, got %v", disp, tr.FinalDisposition)
		}
	}
}

func TestApplyRetry(t *testing.T) {
	cases := []struct {
		name         string
		attempts     int
		priority     domain.Priority
		wantStatus   domain.CaseStatus
		wantPriority domain.Priority
	}{
		{"first attempt reschedules", 1, domain.PriorityNormal, domain.CaseStatusAvailable, domain.PriorityNormal},
		{"second attempt keeps priority", 2, domain.PriorityNormal, domain.CaseStatusAvailable, domain.PriorityNormal},
		{"third attempt hits cap", 3, domain.PriorityNormal, domain.CaseStatusExhausted, domain.PriorityNormal},
		{"high tier also decays", 3, domain.PriorityHigh, domain.CaseStatusExhausted, domain.PriorityHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := Apply(caseWithAttempts(tc.attempts, tc.priority), domain.DispositionNoAnswer, testConfig(), nil, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, tr.Status)
			}
			if tr.Status == domain.CaseStatusAvailable {
				want := now.Add(2 * time.Hour)
				if tr.NextEligibleAt == nil || !tr.NextEligibleAt.Equal(want) {
					t.Fatalf("expected next eligible %v, got %v", want, tr.NextEligibleAt)
				}
				if tr.Priority != tc.wantPriority {
					t.Fatalf("expected priority %s, got %s", tc.wantPriority, tr.Priority)
				}
			}
			if tr.Status == domain.CaseStatusExhausted {
				if tr.FinalDisposition == nil || *tr.FinalDisposition != domain.FinalDispositionMaxAttempts {
					t.Fatalf("expected max_attempts_reached, got %v", tr.FinalDisposition)
				}
			}
		})
	}
}

func TestApplyPriorityDecay(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 5

	// Three consecutive no-answers starting at normal priority: the third
	// retry (n=3 > 2) lands at low.
	c := caseWithAttempts(0, domain.PriorityNormal)
	for n := 1; n <= 3; n++ {
		c.AttemptCount = n
		tr, err := Apply(c, domain.DispositionNoAnswer, cfg, nil, now)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", n, err)
		}
		c.Priority = tr.Priority
	}
	if c.Priority != domain.PriorityLow {
		t.Fatalf("expected priority low after third retry, got %s", c.Priority)
	}

	// Decay never reverses on later soft outcomes.
	c.AttemptCount = 4
	tr, err := Apply(c, domain.DispositionBusy, cfg, nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Priority != domain.PriorityLow {
		t.Fatalf("expected priority to stay low, got %s", tr.Priority)
	}
}

func TestApplyScenarioMaxAttempts(t *testing.T) {
	// Campaign: max_attempts=3, gap=2h. Case starts available/normal with no
	// attempts; three no-answers exhaust it.
	cfg := testConfig()
	c := &domain.CallCase{Status: domain.CaseStatusAvailable, Priority: domain.PriorityNormal}

	for n := 1; n <= 3; n++ {
		c.AttemptCount = n
		tr, err := Apply(c, domain.DispositionNoAnswer, cfg, nil, now)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", n, err)
		}
		c.Status = tr.Status
		c.Priority = tr.Priority
		c.NextEligibleAt = tr.NextEligibleAt
		c.FinalDisposition = tr.FinalDisposition

		if n < 3 {
			if c.Status != domain.CaseStatusAvailable {
				t.Fatalf("attempt %d: expected available, got %s", n, c.Status)
			}
			if c.Priority != domain.PriorityNormal {
				t.Fatalf("attempt %d: expected normal priority, got %s", n, c.Priority)
			}
			want := now.Add(2 * time.Hour)
			if c.NextEligibleAt == nil || !c.NextEligibleAt.Equal(want) {
				t.Fatalf("attempt %d: expected next eligible %v, got %v", n, want, c.NextEligibleAt)
			}
		}
	}

	if c.Status != domain.CaseStatusExhausted {
		t.Fatalf("expected exhausted after third attempt, got %s", c.Status)
	}
	if c.FinalDisposition == nil || *c.FinalDisposition != domain.FinalDispositionMaxAttempts {
		t.Fatalf("expected max_attempts_reached, got %v", c.FinalDisposition)
	}
}

func TestApplyInvalidDisposition(t *testing.T) {
	_, err := Apply(caseWithAttempts(1, domain.PriorityNormal), domain.Disposition("transferred"), testConfig(), nil, now)
	if !apperrors.Is(err, apperrors.ErrInvalidDisposition) {
		t.Fatalf("expected invalid disposition error, got %v", err)
	}
}
