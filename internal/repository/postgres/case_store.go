package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository"
)

// CaseStore persists call cases. Claims and transitions are single-statement
// compare-and-swap updates; the row version is the (status, claimed_by,
// attempt_count) triple.
type CaseStore struct {
	db *sqlx.DB
}

// NewCaseStore constructs the store.
func NewCaseStore(db *sqlx.DB) *CaseStore {
	return &CaseStore{db: db}
}

const caseColumns = `id, campaign_id, phone_primary, phone_secondary, preload, status, priority,
	attempt_count, claimed_by, claimed_at, next_eligible_at, final_disposition, created_at, updated_at`

// InsertCases bulk-loads cases into a campaign inside one transaction.
func (s *CaseStore) InsertCases(ctx context.Context, cases []*domain.CallCase) error {
	if len(cases) == 0 {
		return nil
	}

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO call_cases (
			id, campaign_id, phone_primary, phone_secondary, preload, status, priority,
			attempt_count, next_eligible_at, created_at, updated_at
		) VALUES (:id, :campaign_id, :phone_primary, :phone_secondary, :preload, :status, :priority,
			:attempt_count, :next_eligible_at, :created_at, :updated_at)
		ON CONFLICT (id) DO NOTHING`

		rows := make([]map[string]any, 0, len(cases))
		for _, c := range cases {
			preload, err := json.Marshal(c.Preload)
			if err != nil {
				return fmt.Errorf("case store: marshal preload: %w", err)
			}
			rows = append(rows, map[string]any{
				"id":               c.ID,
				"campaign_id":      c.CampaignID,
				"phone_primary":    c.PhonePrimary,
				"phone_secondary":  c.PhoneSecondary,
				"preload":          preload,
				"status":           c.Status,
				"priority":         c.Priority,
				"attempt_count":    c.AttemptCount,
				"next_eligible_at": c.NextEligibleAt,
				"created_at":       c.CreatedAt,
				"updated_at":       c.UpdatedAt,
			})
		}

		if _, err := tx.NamedExecContext(ctx, q, rows); err != nil {
			return fmt.Errorf("case store: bulk insert: %w", err)
		}
		return nil
	})
}

// GetCase fetches a case by id.
func (s *CaseStore) GetCase(ctx context.Context, id uuid.UUID) (*domain.CallCase, error) {
	row := s.db.QueryRowxContext(ctx, `SELECT `+caseColumns+` FROM call_cases WHERE id = $1`, id)

	var rec caseRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("case store: get: %w", err)
	}

	c := rec.toDomain()
	return &c, nil
}

// QueryEligible returns available, due cases in one priority tier. Within
// the urgent tier, due callbacks come first by ascending due time; other
// tiers are FIFO by creation.
func (s *CaseStore) QueryEligible(ctx context.Context, campaignID uuid.UUID, tier domain.Priority, now time.Time, limit int) ([]*domain.CallCase, error) {
	if limit <= 0 {
		limit = 50
	}

	order := `created_at ASC, id ASC`
	if tier == domain.PriorityUrgent {
		order = `next_eligible_at ASC NULLS LAST, created_at ASC, id ASC`
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT `+caseColumns+` FROM call_cases
		WHERE campaign_id = $1 AND priority = $2 AND status = $3
		  AND (next_eligible_at IS NULL OR next_eligible_at <= $4)
		ORDER BY `+order+` LIMIT $5`,
		campaignID, tier, domain.CaseStatusAvailable, now, limit)
	if err != nil {
		return nil, fmt.Errorf("case store: query eligible: %w", err)
	}
	defer rows.Close()

	var results []*domain.CallCase
	for rows.Next() {
		var rec caseRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("case store: scan: %w", err)
		}
		c := rec.toDomain()
		results = append(results, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("case store: rows err: %w", err)
	}
	return results, nil
}

// ClaimCase atomically claims an available case for the interviewer.
func (s *CaseStore) ClaimCase(ctx context.Context, caseID, interviewerID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE call_cases
		SET status = $1, claimed_by = $2, claimed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5`,
		domain.CaseStatusClaimed, interviewerID, now, caseID, domain.CaseStatusAvailable)
	if err != nil {
		return false, fmt.Errorf("case store: claim: %w", err)
	}
	return applied(res)
}

// ReleaseCase returns a claimed case to the pool iff still held by the caller.
func (s *CaseStore) ReleaseCase(ctx context.Context, caseID, interviewerID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE call_cases
		SET status = $1, claimed_by = NULL, claimed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4 AND claimed_by = $5`,
		domain.CaseStatusAvailable, now, caseID, domain.CaseStatusClaimed, interviewerID)
	if err != nil {
		return false, fmt.Errorf("case store: release: %w", err)
	}
	return applied(res)
}

// ApplyTransition finalizes a recorded attempt in one conditional update.
func (s *CaseStore) ApplyTransition(ctx context.Context, caseID, interviewerID uuid.UUID, tr repository.CaseTransition) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE call_cases
		SET status = $1, priority = $2, attempt_count = $3, next_eligible_at = $4,
		    final_disposition = $5, claimed_by = NULL, claimed_at = NULL, updated_at = $6
		WHERE id = $7 AND status = $8 AND claimed_by = $9 AND attempt_count = $10`,
		tr.Status, tr.Priority, tr.AttemptCount, tr.NextEligibleAt,
		dispositionValue(tr.FinalDisposition), tr.Now,
		caseID, domain.CaseStatusClaimed, interviewerID, tr.AttemptCount-1)
	if err != nil {
		return false, fmt.Errorf("case store: apply transition: %w", err)
	}
	return applied(res)
}

// ReclaimExpired sweeps claims older than cutoff back to the pool.
func (s *CaseStore) ReclaimExpired(ctx context.Context, campaignID uuid.UUID, cutoff, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}

	res, err := s.db.ExecContext(ctx, `UPDATE call_cases
		SET status = $1, claimed_by = NULL, claimed_at = NULL, updated_at = $2
		WHERE id IN (
			SELECT id FROM call_cases
			WHERE campaign_id = $3 AND status = $4 AND claimed_at < $5
			ORDER BY claimed_at ASC
			LIMIT $6
		) AND status = $4 AND claimed_at < $5`,
		domain.CaseStatusAvailable, now, campaignID, domain.CaseStatusClaimed, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("case store: reclaim expired: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("case store: rows affected: %w", err)
	}
	return n, nil
}

// CountClaimedBy counts cases currently claimed by the interviewer.
func (s *CaseStore) CountClaimedBy(ctx context.Context, campaignID, interviewerID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM call_cases
		WHERE campaign_id = $1 AND status = $2 AND claimed_by = $3`,
		campaignID, domain.CaseStatusClaimed, interviewerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("case store: count claimed: %w", err)
	}
	return count, nil
}

// ListClaimedBy lists cases currently claimed by the interviewer.
func (s *CaseStore) ListClaimedBy(ctx context.Context, campaignID, interviewerID uuid.UUID) ([]*domain.CallCase, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT `+caseColumns+` FROM call_cases
		WHERE campaign_id = $1 AND status = $2 AND claimed_by = $3
		ORDER BY claimed_at ASC`,
		campaignID, domain.CaseStatusClaimed, interviewerID)
	if err != nil {
		return nil, fmt.Errorf("case store: list claimed: %w", err)
	}
	defer rows.Close()

	var results []*domain.CallCase
	for rows.Next() {
		var rec caseRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("case store: scan: %w", err)
		}
		c := rec.toDomain()
		results = append(results, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("case store: rows err: %w", err)
	}
	return results, nil
}

// CountByStatus returns case counts per status for a campaign.
func (s *CaseStore) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.CaseStatus]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) AS n FROM call_cases
		WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("case store: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.CaseStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("case store: scan: %w", err)
		}
		counts[domain.CaseStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("case store: rows err: %w", err)
	}
	return counts, nil
}

func applied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("case store: rows affected: %w", err)
	}
	return n > 0, nil
}

func dispositionValue(d *domain.Disposition) any {
	if d == nil {
		return nil
	}
	return string(*d)
}

type caseRecord struct {
	ID               uuid.UUID      `db:"id"`
	CampaignID       uuid.UUID      `db:"campaign_id"`
	PhonePrimary     string         `db:"phone_primary"`
	PhoneSecondary   sql.NullString `db:"phone_secondary"`
	Preload          []byte         `db:"preload"`
	Status           string         `db:"status"`
	Priority         string         `db:"priority"`
	AttemptCount     int            `db:"attempt_count"`
	ClaimedBy        *uuid.UUID     `db:"claimed_by"`
	ClaimedAt        sql.NullTime   `db:"claimed_at"`
	NextEligibleAt   sql.NullTime   `db:"next_eligible_at"`
	FinalDisposition sql.NullString `db:"final_disposition"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r caseRecord) toDomain() domain.CallCase {
	var preload map[string]any
	_ = json.Unmarshal(r.Preload, &preload)

	c := domain.CallCase{
		ID:             r.ID,
		CampaignID:     r.CampaignID,
		PhonePrimary:   r.PhonePrimary,
		PhoneSecondary: r.PhoneSecondary.String,
		Preload:        preload,
		Status:         domain.CaseStatus(r.Status),
		Priority:       domain.Priority(r.Priority),
		AttemptCount:   r.AttemptCount,
		ClaimedBy:      r.ClaimedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ClaimedAt.Valid {
		t := r.ClaimedAt.Time
		c.ClaimedAt = &t
	}
	if r.NextEligibleAt.Valid {
		t := r.NextEligibleAt.Time
		c.NextEligibleAt = &t
	}
	if r.FinalDisposition.Valid {
		d := domain.Disposition(r.FinalDisposition.String)
		c.FinalDisposition = &d
	}
	return c
}
