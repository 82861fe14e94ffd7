package policy

import (
	"fmt"
	"time"

	"github.com/acme/cati-dispatch/internal/domain"
	apperrors "github.com/acme/cati-dispatch/pkg/errors"
)

// Transition is the case-state outcome of applying a disposition.
type Transition struct {
	Status           domain.CaseStatus
	Priority         domain.Priority
	NextEligibleAt   *time.Time
	FinalDisposition *domain.Disposition
}

// Apply maps a disposition to a state transition. The case's AttemptCount
// must already include the attempt being recorded. Pure: no I/O, no clock
// reads beyond the supplied now.
func Apply(c *domain.CallCase, disp domain.Disposition, cfg *domain.CampaignConfig, callbackFor *time.Time, now time.Time) (Transition, error) {
	if !disp.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidDisposition, disp)
	}

	switch {
	case disp == domain.DispositionComplete:
		final := disp
		return Transition{
			Status:           domain.CaseStatusCompleted,
			Priority:         c.Priority,
			FinalDisposition: &final,
		}, nil

	case disp.IsCallback():
		due := now
		if callbackFor != nil {
			due = *callbackFor
		}
		return Transition{
			Status:         domain.CaseStatusAvailable,
			Priority:       domain.PriorityUrgent,
			NextEligibleAt: &due,
		}, nil

	case disp.IsHardTerminal():
		final := disp
		return Transition{
			Status:           domain.CaseStatusExhausted,
			Priority:         c.Priority,
			FinalDisposition: &final,
		}, nil

	default:
		return retry(c, cfg, now), nil
	}
}

// retry implements the soft/non-contact policy: exhaust at the attempt cap,
// otherwise back off by the configured gap with monotonic priority decay.
func retry(c *domain.CallCase, cfg *domain.CampaignConfig, now time.Time) Transition {
	n := c.AttemptCount

	if cfg.MaxAttempts > 0 && n >= cfg.MaxAttempts {
		final := domain.FinalDispositionMaxAttempts
		return Transition{
			Status:           domain.CaseStatusExhausted,
			Priority:         c.Priority,
			FinalDisposition: &final,
		}
	}

	next := now.Add(cfg.MinAttemptGap)
	priority := c.Priority
	if n > 2 {
		priority = domain.PriorityLow
	}
	return Transition{
		Status:         domain.CaseStatusAvailable,
		Priority:       priority,
		NextEligibleAt: &next,
	}
}
