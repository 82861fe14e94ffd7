package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/cati-dispatch/internal/domain"
	"github.com/acme/cati-dispatch/internal/repository"
)

// CampaignConfigRepository implements repository.CampaignConfigRepository
// using PostgreSQL.
type CampaignConfigRepository struct {
	db *sqlx.DB
}

// NewCampaignConfigRepository constructs a new repository.
func NewCampaignConfigRepository(db *sqlx.DB) *CampaignConfigRepository {
	return &CampaignConfigRepository{db: db}
}

const campaignColumns = `id, name, time_zone, max_attempts, min_attempt_gap_ms, callback_window_ms,
	work_start_hour, work_end_hour, work_weekdays, max_claimed_per_interviewer, claim_timeout_ms,
	created_at, updated_at`

// Create inserts a new campaign configuration.
func (r *CampaignConfigRepository) Create(ctx context.Context, cfg *domain.CampaignConfig) error {
	q := `INSERT INTO campaigns (
		id, name, time_zone, max_attempts, min_attempt_gap_ms, callback_window_ms,
		work_start_hour, work_end_hour, work_weekdays, max_claimed_per_interviewer, claim_timeout_ms,
		created_at, updated_at
	) VALUES (
		:id, :name, :time_zone, :max_attempts, :min_attempt_gap_ms, :callback_window_ms,
		:work_start_hour, :work_end_hour, :work_weekdays, :max_claimed_per_interviewer, :claim_timeout_ms,
		:created_at, :updated_at
	)`

	params := map[string]any{
		"id":                          cfg.ID,
		"name":                        cfg.Name,
		"time_zone":                   cfg.TimeZone,
		"max_attempts":                cfg.MaxAttempts,
		"min_attempt_gap_ms":          cfg.MinAttemptGap.Milliseconds(),
		"callback_window_ms":          cfg.CallbackWindow.Milliseconds(),
		"work_start_hour":             cfg.WorkingHours.StartHour,
		"work_end_hour":               cfg.WorkingHours.EndHour,
		"work_weekdays":               encodeWeekdays(cfg.WorkingHours.Weekdays),
		"max_claimed_per_interviewer": cfg.MaxClaimedPerInterviewer,
		"claim_timeout_ms":            cfg.ClaimTimeout.Milliseconds(),
		"created_at":                  cfg.CreatedAt,
		"updated_at":                  cfg.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign configuration by id.
func (r *CampaignConfigRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CampaignConfig, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)

	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	cfg := record.toDomain()
	return &cfg, nil
}

// List returns campaign configurations ordered by creation time.
func (r *CampaignConfigRepository) List(ctx context.Context, limit int) ([]*domain.CampaignConfig, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.CampaignConfig
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		cfg := record.toDomain()
		results = append(results, &cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

type campaignRecord struct {
	ID                 uuid.UUID    `db:"id"`
	Name               string       `db:"name"`
	TimeZone           string       `db:"time_zone"`
	MaxAttempts        int          `db:"max_attempts"`
	MinAttemptGapMs    int64        `db:"min_attempt_gap_ms"`
	CallbackWindowMs   int64        `db:"callback_window_ms"`
	WorkStartHour      int          `db:"work_start_hour"`
	WorkEndHour        int          `db:"work_end_hour"`
	WorkWeekdays       string       `db:"work_weekdays"`
	MaxClaimed         int          `db:"max_claimed_per_interviewer"`
	ClaimTimeoutMs     int64        `db:"claim_timeout_ms"`
	CreatedAt          sql.NullTime `db:"created_at"`
	UpdatedAt          sql.NullTime `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.CampaignConfig {
	return domain.CampaignConfig{
		ID:             r.ID,
		Name:           r.Name,
		TimeZone:       r.TimeZone,
		MaxAttempts:    r.MaxAttempts,
		MinAttemptGap:  time.Duration(r.MinAttemptGapMs) * time.Millisecond,
		CallbackWindow: time.Duration(r.CallbackWindowMs) * time.Millisecond,
		WorkingHours: domain.WorkingHours{
			StartHour: r.WorkStartHour,
			EndHour:   r.WorkEndHour,
			Weekdays:  decodeWeekdays(r.WorkWeekdays),
		},
		MaxClaimedPerInterviewer: r.MaxClaimed,
		ClaimTimeout:             time.Duration(r.ClaimTimeoutMs) * time.Millisecond,
		CreatedAt:                r.CreatedAt.Time,
		UpdatedAt:                r.UpdatedAt.Time,
	}
}

func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 || v > 6 {
			continue
		}
		days = append(days, time.Weekday(v))
	}
	return days
}
