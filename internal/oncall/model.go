package oncall

import (
	"context"
	"fmt"
	"time"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Configuration is an organization's on-call setup. There is at most one per
// organization.
type Configuration struct {
	ID                       types.ID  `json:"id"`
	OrganizationID           types.ID  `json:"organization_id"`
	PrimaryResponderID       types.ID  `json:"primary_responder_id"`
	EscalationTimeoutMinutes int       `json:"escalation_timeout_minutes"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Timeout is the wait between escalation steps.
func (c *Configuration) Timeout() time.Duration {
	return time.Duration(c.EscalationTimeoutMinutes) * time.Minute
}

// Validate checks the invariants enforced by the database as well, so the
// API can answer with field errors instead of constraint names.
func (c *Configuration) Validate() error {
	details := map[string]string{}
	if c.OrganizationID.IsZero() {
		details["organization_id"] = "required"
	}
	if c.PrimaryResponderID.IsZero() {
		details["primary_responder_id"] = "required"
	}
	if c.EscalationTimeoutMinutes <= 0 {
		details["escalation_timeout_minutes"] = "must be greater than zero"
	}
	if len(details) > 0 {
		return errors.Validation("invalid on-call configuration", details)
	}
	return nil
}

// Contact is one entry of the escalation chain. Position 1 is tried at
// step 1, right after the primary responder.
type Contact struct {
	ID              types.ID  `json:"id"`
	ConfigurationID types.ID  `json:"configuration_id"`
	ResponderID     types.ID  `json:"responder_id"`
	Position        int       `json:"position"`
	CreatedAt       time.Time `json:"created_at"`
}

func (c *Contact) Validate() error {
	details := map[string]string{}
	if c.ConfigurationID.IsZero() {
		details["configuration_id"] = "required"
	}
	if c.ResponderID.IsZero() {
		details["responder_id"] = "required"
	}
	if c.Position < 1 {
		details["position"] = "must be 1 or greater"
	}
	if len(details) > 0 {
		return errors.Validation("invalid escalation contact", details)
	}
	return nil
}

// Chain is a configuration together with its contacts ordered by position.
type Chain struct {
	Configuration
	Contacts []Contact `json:"contacts"`
}

// Repository is the on-call directory. Reads go straight to storage so a
// changed configuration takes effect at the next escalation step.
type Repository interface {
	// ConfigurationForOrganization returns errors.NotFound when the
	// organization has no on-call setup.
	ConfigurationForOrganization(ctx context.Context, organizationID types.ID) (*Configuration, error)
	// ContactAtPosition returns errors.NotFound when no contact holds position.
	ContactAtPosition(ctx context.Context, configurationID types.ID, position int) (*Contact, error)
	ListChain(ctx context.Context, configurationID types.ID) ([]Contact, error)

	// SaveConfiguration creates or updates the organization's configuration
	// and fills in ID and timestamps.
	SaveConfiguration(ctx context.Context, cfg *Configuration) error
	DeleteConfiguration(ctx context.Context, organizationID types.ID) error
	AddContact(ctx context.Context, contact *Contact) error
	RemoveContact(ctx context.Context, configurationID, contactID types.ID) error
	// Reorder assigns positions 1..n in the order of contactIDs, which must
	// name every contact of the configuration exactly once.
	Reorder(ctx context.Context, configurationID types.ID, contactIDs []types.ID) error
}

// CheckReorder validates a requested ordering against the current chain.
func CheckReorder(current []Contact, contactIDs []types.ID) error {
	if len(contactIDs) != len(current) {
		return errors.Validation("reorder must list every contact exactly once", map[string]string{
			"contact_ids": fmt.Sprintf("expected %d ids, got %d", len(current), len(contactIDs)),
		})
	}

	known := make(map[types.ID]bool, len(current))
	for _, c := range current {
		known[c.ID] = true
	}
	seen := make(map[types.ID]bool, len(contactIDs))
	for _, id := range contactIDs {
		if !known[id] {
			return errors.Validation("reorder references an unknown contact", map[string]string{"contact_id": id.String()})
		}
		if seen[id] {
			return errors.Validation("reorder lists a contact twice", map[string]string{"contact_id": id.String()})
		}
		seen[id] = true
	}
	return nil
}

// LoadChain reads the configuration and contacts for an organization.
func LoadChain(ctx context.Context, repo Repository, organizationID types.ID) (*Chain, error) {
	cfg, err := repo.ConfigurationForOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	contacts, err := repo.ListChain(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []Contact{}
	}
	return &Chain{Configuration: *cfg, Contacts: contacts}, nil
}
