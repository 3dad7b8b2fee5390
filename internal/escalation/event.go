package escalation

import (
	"context"
	"time"

	"github.com/mitigateops/platform/internal/shared/types"
)

// ContactMethod is the channel an escalation step reached the responder on
type ContactMethod string

const (
	ContactVoice ContactMethod = "voice"
	ContactSMS   ContactMethod = "sms"
	ContactEmail ContactMethod = "email"
)

// EventStatus is the hand-off outcome of a step
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventSent      EventStatus = "sent"
	EventDelivered EventStatus = "delivered"
	EventFailed    EventStatus = "failed"
)

// Event records one escalation step. Rows are append-only apart from the
// resolution fields, which are set once.
type Event struct {
	ID               types.ID      `json:"id"`
	IncidentID       types.ID      `json:"incident_id"`
	ResponderID      types.ID      `json:"responder_id"`
	StepIndex        int           `json:"step_index"`
	ContactMethod    ContactMethod `json:"contact_method"`
	Status           EventStatus   `json:"status"`
	AttemptedAt      time.Time     `json:"attempted_at"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy       *types.ID     `json:"resolved_by,omitempty"`
	ResolutionReason *string       `json:"resolution_reason,omitempty"`
}

// Resolved reports whether the event has been closed out.
func (e *Event) Resolved() bool {
	return e.ResolvedAt != nil
}

// Resolve closes an open event. It returns false and leaves the event
// untouched when it was already resolved.
func (e *Event) Resolve(by types.ID, reason string, at time.Time) bool {
	if e.Resolved() {
		return false
	}
	at = at.UTC()
	e.ResolvedAt = &at
	e.ResolvedBy = by.Ptr()
	e.ResolutionReason = &reason
	return true
}

// EventLog stores escalation events.
type EventLog interface {
	Append(ctx context.Context, event *Event) error
	// ListByIncident returns the incident's events, newest first.
	ListByIncident(ctx context.Context, incidentID types.ID) ([]Event, error)
}
