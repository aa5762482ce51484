package domain

import (
	"encoding/json"
	"testing"
)

func TestEventMarshalFlattensPayload(t *testing.T) {
	t.Parallel()

	ev := NewEvent(EventPhaseCompleted, "a1", map[string]any{
		"phase":   "recon",
		"results": map[string]any{"hosts": 3},
	})

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() returned error: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal() returned error: %v", err)
	}
	if m["type"] != EventPhaseCompleted {
		t.Errorf("type = %v", m["type"])
	}
	if m["assessment_id"] != "a1" {
		t.Errorf("assessment_id = %v", m["assessment_id"])
	}
	if m["phase"] != "recon" {
		t.Errorf("phase = %v", m["phase"])
	}
	if _, ok := m["payload"]; ok {
		t.Error("payload must be flattened, not nested")
	}
}

func TestEventMarshalEnvelopeWinsOverPayload(t *testing.T) {
	t.Parallel()

	ev := NewEvent(EventAgentUpdate, "a1", map[string]any{
		"type":          "spoofed",
		"assessment_id": "spoofed",
	})

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() returned error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal() returned error: %v", err)
	}
	if m["type"] != EventAgentUpdate || m["assessment_id"] != "a1" {
		t.Errorf("envelope fields shadowed: %v", m)
	}
}

func TestEventMarshalOmitsEmptyAssessmentID(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(NewEvent("error", "", map[string]any{"error": "bad request"}))
	if err != nil {
		t.Fatalf("Marshal() returned error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal() returned error: %v", err)
	}
	if _, ok := m["assessment_id"]; ok {
		t.Error("empty assessment_id must be omitted")
	}
}
