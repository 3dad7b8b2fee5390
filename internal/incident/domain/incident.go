package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Incident is the aggregate root for a restoration job.
type Incident struct {
	ID                      types.ID `json:"id"`
	ReferenceNumber         string   `json:"reference_number"`
	PropertyID              types.ID `json:"property_id"`
	ServicingOrganizationID types.ID `json:"servicing_organization_id"`
	Status                  Status   `json:"status"`
	// Emergency is fixed at creation and drives escalation.
	Emergency   bool      `json:"emergency"`
	Description string    `json:"description"`
	CreatedBy   types.ID  `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewIncidentInput carries what intake collects for a new incident.
type NewIncidentInput struct {
	PropertyID              types.ID `json:"property_id"`
	ServicingOrganizationID types.ID `json:"servicing_organization_id"`
	Emergency               bool     `json:"emergency"`
	Description             string   `json:"description"`
	CreatedBy               types.ID `json:"-"`
}

// NewIncident validates input and returns an incident in status new.
func NewIncident(in NewIncidentInput, now time.Time) (*Incident, error) {
	details := map[string]string{}
	if in.PropertyID.IsZero() {
		details["property_id"] = "required"
	}
	if in.ServicingOrganizationID.IsZero() {
		details["servicing_organization_id"] = "required"
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid incident", details)
	}

	id := types.NewID()
	now = now.UTC()
	return &Incident{
		ID:                      id,
		ReferenceNumber:         referenceNumber(id, now),
		PropertyID:              in.PropertyID,
		ServicingOrganizationID: in.ServicingOrganizationID,
		Status:                  StatusNew,
		Emergency:               in.Emergency,
		Description:             strings.TrimSpace(in.Description),
		CreatedBy:               in.CreatedBy,
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}

// Acknowledge is the creation workflow's automatic first move. It is the
// only way out of new; the status gate never accepts new as a source.
func (i *Incident) Acknowledge(now time.Time) error {
	if i.Status != StatusNew {
		return fmt.Errorf("can only acknowledge a new incident, status is %s", i.Status)
	}
	i.Status = StatusAcknowledged
	i.UpdatedAt = now.UTC()
	return nil
}

// TransitionTo applies a gate transition to the in-memory aggregate.
func (i *Incident) TransitionTo(target Status, now time.Time) error {
	if err := ValidateTransition(i.Status, target); err != nil {
		return err
	}
	i.Status = target
	i.UpdatedAt = now.UTC()
	return nil
}

// Escalating reports whether escalation steps should still notify anyone.
func (i *Incident) Escalating() bool {
	return i.Emergency && i.Status != StatusActive
}

// referenceNumber builds a human friendly number like INC-20260301-4F2A9C.
func referenceNumber(id types.ID, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("INC-%s-%s", now.Format("20060102"), suffix)
}
