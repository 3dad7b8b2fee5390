package domain

import (
	"context"

	"github.com/mitigateops/platform/internal/shared/types"
)

// ResolutionIncidentActive is recorded on escalation events resolved because
// the incident was moved to active.
const ResolutionIncidentActive = "incident_marked_active"

// TransitionResult reports what a committed gate transition changed.
type TransitionResult struct {
	Incident            *Incident `json:"incident"`
	From                Status    `json:"from"`
	To                  Status    `json:"to"`
	ResolvedEscalations int       `json:"resolved_escalations"`
}

// Repository defines the interface for incident persistence
type Repository interface {
	// Create stores a new incident already moved to acknowledged, together
	// with the status_changed activity for new -> acknowledged.
	Create(ctx context.Context, incident *Incident) error
	FindByID(ctx context.Context, id types.ID) (*Incident, error)
	List(ctx context.Context, filter ListFilter) ([]Incident, error)

	// Transition is the status gate. In one atomic unit it locks the
	// incident, checks the transition table, updates the status, records
	// status_changed, and when target is active resolves every open
	// escalation event with ResolutionIncidentActive. An invalid target
	// returns errors.InvalidTransition and changes nothing.
	Transition(ctx context.Context, id types.ID, target Status, actorID types.ID) (*TransitionResult, error)
}

// ListFilter defines filters for listing incidents
type ListFilter struct {
	OrganizationID *types.ID `json:"organization_id,omitempty"`
	Status         *Status   `json:"status,omitempty"`
	Emergency      *bool     `json:"emergency,omitempty"`
	Limit          int       `json:"limit,omitempty"`
	Offset         int       `json:"offset,omitempty"`
}

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
