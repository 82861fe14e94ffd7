package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/acme/cati-dispatch/internal/domain"
)

// AttemptEvent is published for every recorded call attempt so downstream
// reporting and QA consumers can follow case progress. The store remains the
// source of truth; events are advisory.
type AttemptEvent struct {
	AttemptID      uuid.UUID          `json:"attempt_id"`
	CaseID         uuid.UUID          `json:"case_id"`
	CampaignID     uuid.UUID          `json:"campaign_id"`
	InterviewerID  uuid.UUID          `json:"interviewer_id"`
	AttemptNumber  int                `json:"attempt_number"`
	Disposition    domain.Disposition `json:"disposition"`
	NewStatus      domain.CaseStatus  `json:"new_status"`
	NextEligibleAt *time.Time         `json:"next_eligible_at,omitempty"`
	DurationMs     int64              `json:"duration_ms"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// AttemptPublisher emits attempt events to Kafka, keyed by case id.
type AttemptPublisher struct {
	writer *kafka.Writer
}

// NewAttemptPublisher constructs a publisher for the given topic.
func NewAttemptPublisher(k *Kafka, topic string) *AttemptPublisher {
	return &AttemptPublisher{writer: k.NewWriter(topic)}
}

// PublishAttempt writes the event to Kafka.
func (p *AttemptPublisher) PublishAttempt(ctx context.Context, ev AttemptEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("attempt publisher: marshal event: %w", err)
	}

	record := kafka.Message{
		Key:   ev.CaseID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("attempt publisher: write event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *AttemptPublisher) Close() error {
	return p.writer.Close()
}
