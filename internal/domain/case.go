package domain

import (
	"time"

	"github.com/google/uuid"
)

// CaseStatus enumerates lifecycle states of a call case.
type CaseStatus string

const (
	CaseStatusAvailable CaseStatus = "available"
	CaseStatusClaimed   CaseStatus = "claimed"
	CaseStatusCompleted CaseStatus = "completed"
	CaseStatusExhausted CaseStatus = "exhausted"
)

// Terminal reports whether the status admits no further claims or attempts.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusCompleted || s == CaseStatusExhausted
}

// Priority is the dispatch tier of a case. Urgent is served first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PriorityTiers lists tiers in dispatch order, highest first.
var PriorityTiers = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether the priority is a known tier.
func (p Priority) Valid() bool {
	for _, tier := range PriorityTiers {
		if p == tier {
			return true
		}
	}
	return false
}

// WorkingHours restricts dispatch to an hour-of-day window on allowed weekdays.
// An empty weekday list allows every day; a zero window allows every hour.
type WorkingHours struct {
	StartHour int
	EndHour   int
	Weekdays  []time.Weekday
}

// Contains reports whether t (already in campaign-local time) falls inside
// the window.
func (w WorkingHours) Contains(t time.Time) bool {
	if len(w.Weekdays) > 0 {
		allowed := false
		for _, day := range w.Weekdays {
			if t.Weekday() == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if w.StartHour == 0 && w.EndHour == 0 {
		return true
	}

	hour := t.Hour()
	if w.EndHour <= w.StartHour {
		// window spans midnight
		return hour >= w.StartHour || hour < w.EndHour
	}
	return hour >= w.StartHour && hour < w.EndHour
}

// CampaignConfig holds the dispatch parameters of a campaign. The engine
// treats it as immutable; mutation is an admin concern.
type CampaignConfig struct {
	ID                       uuid.UUID
	Name                     string
	TimeZone                 string
	MaxAttempts              int
	MinAttemptGap            time.Duration
	CallbackWindow           time.Duration
	WorkingHours             WorkingHours
	MaxClaimedPerInterviewer int
	ClaimTimeout             time.Duration
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// CallCase is the unit of outbound-call work.
type CallCase struct {
	ID               uuid.UUID
	CampaignID       uuid.UUID
	PhonePrimary     string
	PhoneSecondary   string
	Preload          map[string]any
	Status           CaseStatus
	Priority         Priority
	AttemptCount     int
	ClaimedBy        *uuid.UUID
	ClaimedAt        *time.Time
	NextEligibleAt   *time.Time
	FinalDisposition *Disposition
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AttemptRecord captures one call attempt. Records are append-only and
// unique per (case, attempt number).
type AttemptRecord struct {
	ID            uuid.UUID
	CaseID        uuid.UUID
	CampaignID    uuid.UUID
	InterviewerID uuid.UUID
	AttemptNumber int
	Disposition   Disposition
	StartedAt     time.Time
	EndedAt       time.Time
	Duration      time.Duration
	CallbackFor   *time.Time
	Notes         string
	CreatedAt     time.Time
}

// CampaignStats is a point-in-time projection over case and attempt history.
type CampaignStats struct {
	TotalCases      int64
	AvailableCases  int64
	ClaimedCases    int64
	CompletedCases  int64
	ExhaustedCases  int64
	CompletionRate  float64
	TotalAttempts   int64
	ContactAttempts int64
	ContactRate     float64
	Interviewers    []InterviewerStats
}

// InterviewerStats aggregates per-interviewer performance.
type InterviewerStats struct {
	InterviewerID uuid.UUID
	Attempts      int64
	Completions   int64
	TalkTime      time.Duration
	Dispositions  map[Disposition]int64
}
