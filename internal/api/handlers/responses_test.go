package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/cati-dispatch/internal/domain"
)

func TestClaimResponseWireShape(t *testing.T) {
	c := &domain.CallCase{
		ID:           uuid.New(),
		CampaignID:   uuid.New(),
		PhonePrimary: "+15550100",
		Status:       domain.CaseStatusClaimed,
		Priority:     domain.PriorityNormal,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	raw, err := json.Marshal(claimResponse{Kind: "queue", Case: toCaseResponse(c)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["claim_kind"]; !ok {
		t.Fatalf("expected claim_kind field, got keys %v", keys(fields))
	}
	if _, ok := fields["case"]; !ok {
		t.Fatalf("expected case field, got keys %v", keys(fields))
	}
}

func TestRecordAttemptResponseWireShape(t *testing.T) {
	rec := &domain.AttemptRecord{
		ID:            uuid.New(),
		CaseID:        uuid.New(),
		CampaignID:    uuid.New(),
		InterviewerID: uuid.New(),
		AttemptNumber: 1,
		Disposition:   domain.DispositionNoAnswer,
		StartedAt:     time.Now().UTC(),
		EndedAt:       time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}

	raw, err := json.Marshal(recordAttemptResponse{
		AttemptID: rec.ID,
		Attempt:   toAttemptResponse(rec),
		NewStatus: domain.CaseStatusAvailable,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"attempt_id", "new_status", "attempt"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected %s field, got keys %v", key, keys(fields))
		}
	}

	var id uuid.UUID
	if err := json.Unmarshal(fields["attempt_id"], &id); err != nil {
		t.Fatalf("unmarshal attempt_id: %v", err)
	}
	if id != rec.ID {
		t.Fatalf("expected attempt_id %s, got %s", rec.ID, id)
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
