package wizard

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of wizard lifecycle event
type EventType string

const (
	EventWizardStarted   EventType = "WizardStarted"
	EventStepAdvanced    EventType = "StepAdvanced"
	EventStepRetreated   EventType = "StepRetreated"
	EventSubmitStarted   EventType = "SubmitStarted"
	EventWizardSubmitted EventType = "WizardSubmitted"
	EventSubmitFailed    EventType = "SubmitFailed"
	EventSubmitWithdrawn EventType = "SubmitWithdrawn"
	EventWizardCancelled EventType = "WizardCancelled"
)

// Event is a lifecycle record of one wizard session. Events carry
// metadata only; draft values never leave the controller through them.
type Event struct {
	ID        string    `json:"id"`
	WizardID  string    `json:"wizard_id"`
	Flow      string    `json:"flow"`
	EventType EventType `json:"event_type"`
	Step      int       `json:"step"`
	Detail    string    `json:"detail,omitempty"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   int       `json:"actor_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(wizardID, flow string, eventType EventType, step int) *Event {
	return &Event{
		ID:        uuid.New().String(),
		WizardID:  wizardID,
		Flow:      flow,
		EventType: eventType,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetail sets a short human readable detail
func (e *Event) WithDetail(detail string) *Event {
	e.Detail = detail
	return e
}

// IsTerminal reports whether the event closes the wizard session.
func (e *Event) IsTerminal() bool {
	return e.EventType == EventWizardSubmitted || e.EventType == EventWizardCancelled
}
