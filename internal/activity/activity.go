package activity

import (
	"context"
	"time"

	"github.com/mitigateops/platform/internal/shared/types"
)

// EventType names an activity log entry
type EventType string

const (
	EventEscalationAttempted EventType = "escalation_attempted"
	EventEscalationSkipped   EventType = "escalation_skipped"
	EventEscalationExhausted EventType = "escalation_exhausted"
	EventStatusChanged       EventType = "status_changed"
)

// Entry is one line of an incident's activity feed. A zero ActorID means the
// system recorded it.
type Entry struct {
	ID         types.ID       `json:"id"`
	IncidentID types.ID       `json:"incident_id"`
	Type       EventType      `json:"event_type"`
	ActorID    types.ID       `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewEntry stamps a new entry with an ID and the given time.
func NewEntry(incidentID types.ID, eventType EventType, actorID types.ID, metadata map[string]any, at time.Time) Entry {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Entry{
		ID:         types.NewID(),
		IncidentID: incidentID,
		Type:       eventType,
		ActorID:    actorID,
		Metadata:   metadata,
		CreatedAt:  at.UTC(),
	}
}

// Sink records activity entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Reader lists an incident's activity, oldest first.
type Reader interface {
	Entries(ctx context.Context, incidentID types.ID) ([]Entry, error)
}
