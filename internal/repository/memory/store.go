// Package memory provides a mutex-guarded in-process implementation of the
// store interfaces. It preserves the conditional-update semantics of the
// durable stores and backs the service-level tests, including the concurrent
// claim tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository"
)

type attemptKey struct {
	caseID        uuid.UUID
	attemptNumber int
}

// Store implements CaseStore, AttemptStore and CampaignConfigRepository.
type Store struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.CampaignConfig
	cases     map[uuid.UUID]*domain.CallCase
	attempts  map[attemptKey]*domain.AttemptRecord
	order     []uuid.UUID // case insertion order, stands in for created_at ties
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		campaigns: make(map[uuid.UUID]*domain.CampaignConfig),
		cases:     make(map[uuid.UUID]*domain.CallCase),
		attempts:  make(map[attemptKey]*domain.AttemptRecord),
	}
}

// Create stores a campaign configuration.
func (s *Store) Create(ctx context.Context, cfg *domain.CampaignConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[cfg.ID]; ok {
		return repository.ErrConflict
	}
	clone := *cfg
	s.campaigns[cfg.ID] = &clone
	return nil
}

// Get returns a campaign configuration.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.CampaignConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *cfg
	return &clone, nil
}

// List returns campaign configurations in insertion-agnostic id order.
func (s *Store) List(ctx context.Context, limit int) ([]*domain.CampaignConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CampaignConfig
	for _, cfg := range s.campaigns {
		clone := *cfg
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertCases adds cases, skipping ids already present.
func (s *Store) InsertCases(ctx context.Context, cases []*domain.CallCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cases {
		if _, ok := s.cases[c.ID]; ok {
			continue
		}
		clone := cloneCase(c)
		s.cases[c.ID] = clone
		s.order = append(s.order, c.ID)
	}
	return nil
}

// GetCase returns a copy of the case.
func (s *Store) GetCase(ctx context.Context, id uuid.UUID) (*domain.CallCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCase(c), nil
}

// QueryEligible mirrors the Postgres dispatch ordering: due callbacks first
// within urgent, insertion order elsewhere.
func (s *Store) QueryEligible(ctx context.Context, campaignID uuid.UUID, tier domain.Priority, now time.Time, limit int) ([]*domain.CallCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var out []*domain.CallCase
	for _, id := range s.order {
		c := s.cases[id]
		if c.CampaignID != campaignID || c.Priority != tier || c.Status != domain.CaseStatusAvailable {
			continue
		}
		if c.NextEligibleAt != nil && c.NextEligibleAt.After(now) {
			continue
		}
		out = append(out, cloneCase(c))
	}

	if tier == domain.PriorityUrgent {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].NextEligibleAt, out[j].NextEligibleAt
			switch {
			case a != nil && b != nil:
				return a.Before(*b)
			case a != nil:
				return true
			default:
				return false
			}
		})
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimCase claims an available case.
func (s *Store) ClaimCase(ctx context.Context, caseID, interviewerID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok || c.Status != domain.CaseStatusAvailable {
		return false, nil
	}
	claimed := interviewerID
	at := now
	c.Status = domain.CaseStatusClaimed
	c.ClaimedBy = &claimed
	c.ClaimedAt = &at
	c.UpdatedAt = now
	return true, nil
}

// ReleaseCase releases a claim held by the caller.
func (s *Store) ReleaseCase(ctx context.Context, caseID, interviewerID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok || c.Status != domain.CaseStatusClaimed || c.ClaimedBy == nil || *c.ClaimedBy != interviewerID {
		return false, nil
	}
	c.Status = domain.CaseStatusAvailable
	c.ClaimedBy = nil
	c.ClaimedAt = nil
	c.UpdatedAt = now
	return true, nil
}

// ApplyTransition applies a post-attempt update under the same guard as the
// Postgres store.
func (s *Store) ApplyTransition(ctx context.Context, caseID, interviewerID uuid.UUID, tr repository.CaseTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok || c.Status != domain.CaseStatusClaimed || c.ClaimedBy == nil || *c.ClaimedBy != interviewerID {
		return false, nil
	}
	if c.AttemptCount != tr.AttemptCount-1 {
		return false, nil
	}
	c.Status = tr.Status
	c.Priority = tr.Priority
	c.AttemptCount = tr.AttemptCount
	c.NextEligibleAt = cloneTime(tr.NextEligibleAt)
	c.FinalDisposition = cloneDisposition(tr.FinalDisposition)
	c.ClaimedBy = nil
	c.ClaimedAt = nil
	c.UpdatedAt = tr.Now
	return true, nil
}

// ReclaimExpired returns stale claims to the pool.
func (s *Store) ReclaimExpired(ctx context.Context, campaignID uuid.UUID, cutoff, now time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var n int64
	for _, id := range s.order {
		c := s.cases[id]
		if c.CampaignID != campaignID || c.Status != domain.CaseStatusClaimed {
			continue
		}
		if c.ClaimedAt == nil || !c.ClaimedAt.Before(cutoff) {
			continue
		}
		c.Status = domain.CaseStatusAvailable
		c.ClaimedBy = nil
		c.ClaimedAt = nil
		c.UpdatedAt = now
		n++
		if n >= int64(limit) {
			break
		}
	}
	return n, nil
}

// CountClaimedBy counts active claims held by the interviewer.
func (s *Store) CountClaimedBy(ctx context.Context, campaignID, interviewerID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.cases {
		if c.CampaignID == campaignID && c.Status == domain.CaseStatusClaimed && c.ClaimedBy != nil && *c.ClaimedBy == interviewerID {
			count++
		}
	}
	return count, nil
}

// ListClaimedBy lists active claims held by the interviewer.
func (s *Store) ListClaimedBy(ctx context.Context, campaignID, interviewerID uuid.UUID) ([]*domain.CallCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CallCase
	for _, id := range s.order {
		c := s.cases[id]
		if c.CampaignID == campaignID && c.Status == domain.CaseStatusClaimed && c.ClaimedBy != nil && *c.ClaimedBy == interviewerID {
			out = append(out, cloneCase(c))
		}
	}
	return out, nil
}

// CountByStatus returns case counts per status.
func (s *Store) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.CaseStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.CaseStatus]int64)
	for _, c := range s.cases {
		if c.CampaignID == campaignID {
			counts[c.Status]++
		}
	}
	return counts, nil
}

// AppendAttempt inserts the record unless the idempotency key exists.
func (s *Store) AppendAttempt(ctx context.Context, rec *domain.AttemptRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{caseID: rec.CaseID, attemptNumber: rec.AttemptNumber}
	if _, ok := s.attempts[key]; ok {
		return false, nil
	}
	clone := *rec
	clone.CallbackFor = cloneTime(rec.CallbackFor)
	s.attempts[key] = &clone
	return true, nil
}

// GetAttempt fetches one attempt by its idempotency key.
func (s *Store) GetAttempt(ctx context.Context, campaignID, caseID uuid.UUID, attemptNumber int) (*domain.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[attemptKey{caseID: caseID, attemptNumber: attemptNumber}]
	if !ok || rec.CampaignID != campaignID {
		return nil, repository.ErrNotFound
	}
	clone := *rec
	clone.CallbackFor = cloneTime(rec.CallbackFor)
	return &clone, nil
}

// ListByCampaign returns attempts for a campaign ordered by case then
// attempt number.
func (s *Store) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AttemptRecord
	for _, rec := range s.attempts {
		if rec.CampaignID != campaignID {
			continue
		}
		clone := *rec
		clone.CallbackFor = cloneTime(rec.CallbackFor)
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CaseID != out[j].CaseID {
			return out[i].CaseID.String() < out[j].CaseID.String()
		}
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneCase(c *domain.CallCase) *domain.CallCase {
	clone := *c
	if c.ClaimedBy != nil {
		id := *c.ClaimedBy
		clone.ClaimedBy = &id
	}
	clone.ClaimedAt = cloneTime(c.ClaimedAt)
	clone.NextEligibleAt = cloneTime(c.NextEligibleAt)
	clone.FinalDisposition = cloneDisposition(c.FinalDisposition)
	if c.Preload != nil {
		preload := make(map[string]any, len(c.Preload))
		for k, v := range c.Preload {
			preload[k] = v
		}
		clone.Preload = preload
	}
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDisposition(d *domain.Disposition) *domain.Disposition {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
