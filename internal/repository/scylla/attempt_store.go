package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository"
)

// AttemptStore persists append-only attempt records in Scylla, partitioned
// by campaign and clustered by (case_id, attempt_number). The clustering key
// doubles as the idempotency key: inserts use a lightweight transaction so a
// replayed Record call observes "not applied" instead of a duplicate row.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// AppendAttempt inserts the record if no attempt with the same
// (case, attempt number) exists.
func (s *AttemptStore) AppendAttempt(ctx context.Context, rec *domain.AttemptRecord) (bool, error) {
	durationMs := rec.Duration.Milliseconds()

	applied, err := s.session.Query(`INSERT INTO attempts_by_campaign (
			campaign_id, case_id, attempt_number, attempt_id, interviewer_id,
			disposition, started_at, ended_at, duration_ms, callback_for, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		rec.CampaignID.String(), rec.CaseID.String(), rec.AttemptNumber, rec.ID.String(), rec.InterviewerID.String(),
		string(rec.Disposition), rec.StartedAt, rec.EndedAt, durationMs, rec.CallbackFor, rec.Notes, rec.CreatedAt,
	).WithContext(ctx).MapScanCAS(make(map[string]any))
	if err != nil {
		return false, fmt.Errorf("attempt store: append: %w", err)
	}
	return applied, nil
}

// GetAttempt fetches one attempt by its idempotency key.
func (s *AttemptStore) GetAttempt(ctx context.Context, campaignID, caseID uuid.UUID, attemptNumber int) (*domain.AttemptRecord, error) {
	iter := s.session.Query(`SELECT campaign_id, case_id, attempt_number, attempt_id, interviewer_id,
			disposition, started_at, ended_at, duration_ms, callback_for, notes, created_at
		FROM attempts_by_campaign
		WHERE campaign_id = ? AND case_id = ? AND attempt_number = ?`,
		campaignID.String(), caseID.String(), attemptNumber,
	).WithContext(ctx).Iter()

	var raw attemptRow
	if !scanAttempt(iter, &raw) {
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("attempt store: get close: %w", err)
		}
		return nil, repository.ErrNotFound
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("attempt store: get close: %w", err)
	}

	rec, err := raw.toDomain()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByCampaign returns attempts for a campaign. A limit of zero scans the
// whole partition; the aggregator recomputes projections from it on demand.
func (s *AttemptStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.AttemptRecord, error) {
	q := s.session.Query(`SELECT campaign_id, case_id, attempt_number, attempt_id, interviewer_id,
			disposition, started_at, ended_at, duration_ms, callback_for, notes, created_at
		FROM attempts_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	if limit > 0 {
		q = q.PageSize(limit)
	}

	iter := q.Iter()
	var records []domain.AttemptRecord

	var raw attemptRow
	for scanAttempt(iter, &raw) {
		rec, err := raw.toDomain()
		if err != nil {
			continue
		}
		records = append(records, rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("attempt store: list iter close: %w", err)
	}
	return records, nil
}

type attemptRow struct {
	CampaignID    string
	CaseID        string
	AttemptNumber int
	AttemptID     string
	InterviewerID string
	Disposition   string
	StartedAt     time.Time
	EndedAt       time.Time
	DurationMs    int64
	CallbackFor   *time.Time
	Notes         string
	CreatedAt     time.Time
}

func scanAttempt(iter *gocql.Iter, raw *attemptRow) bool {
	raw.CallbackFor = nil
	return iter.Scan(&raw.CampaignID, &raw.CaseID, &raw.AttemptNumber, &raw.AttemptID, &raw.InterviewerID,
		&raw.Disposition, &raw.StartedAt, &raw.EndedAt, &raw.DurationMs, &raw.CallbackFor, &raw.Notes, &raw.CreatedAt)
}

func (r attemptRow) toDomain() (domain.AttemptRecord, error) {
	campaignID, err := uuid.Parse(r.CampaignID)
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("attempt store: parse campaign_id: %w", err)
	}
	caseID, err := uuid.Parse(r.CaseID)
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("attempt store: parse case_id: %w", err)
	}
	attemptID, err := uuid.Parse(r.AttemptID)
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("attempt store: parse attempt_id: %w", err)
	}
	interviewerID, err := uuid.Parse(r.InterviewerID)
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("attempt store: parse interviewer_id: %w", err)
	}

	return domain.AttemptRecord{
		ID:            attemptID,
		CaseID:        caseID,
		CampaignID:    campaignID,
		InterviewerID: interviewerID,
		AttemptNumber: r.AttemptNumber,
		Disposition:   domain.Disposition(r.Disposition),
		StartedAt:     r.StartedAt,
		EndedAt:       r.EndedAt,
		Duration:      time.Duration(r.DurationMs) * time.Millisecond,
		CallbackFor:   r.CallbackFor,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
	}, nil
}
