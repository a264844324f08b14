package infrastructure

import (
	"strings"

	"csmbot/events"
)

// SubjectPrefix is the root of every subject the bot publishes to
const SubjectPrefix = "csmbot.events."

// EventSubjectMapper maps domain events to NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject returns the subject for event
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	return SubjectPrefix + string(event.Type())
}

// MapSubjectToEventType converts a subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	if eventType, ok := strings.CutPrefix(subject, SubjectPrefix); ok {
		return events.EventType(eventType)
	}
	return events.EventType(subject)
}

// GetAllSubjects returns all subjects that this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	all := events.AllEventTypes()
	subjects := make([]string, 0, len(all))
	for _, t := range all {
		subjects = append(subjects, SubjectPrefix+string(t))
	}
	return subjects
}
