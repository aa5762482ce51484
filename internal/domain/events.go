package domain

import "encoding/json"

// Event kinds emitted over the lifetime of an assessment.
const (
	EventAssessmentStarted   = "assessment_started"
	EventPhaseStarted        = "phase_started"
	EventPhaseCompleted      = "phase_completed"
	EventPhaseError          = "phase_error"
	EventAssessmentCompleted = "assessment_completed"
	EventAssessmentError     = "assessment_error"
	EventAssessmentStatus    = "assessment_status"
	EventAgentUpdate         = "agent_update"
)

// Event is one progress notification. On the wire it flattens to
// {"type": ..., "assessment_id": ..., <payload fields>}.
type Event struct {
	Type         string
	AssessmentID string
	Payload      map[string]any
}

// NewEvent builds an event with a payload map.
func NewEvent(kind, assessmentID string, payload map[string]any) Event {
	return Event{Type: kind, AssessmentID: assessmentID, Payload: payload}
}

// MarshalJSON flattens the payload into the envelope. Payload keys never
// shadow the envelope fields.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj["type"] = e.Type
	if e.AssessmentID != "" {
		obj["assessment_id"] = e.AssessmentID
	}
	return json.Marshal(obj)
}
