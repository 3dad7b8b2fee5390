package memory

import (
	"context"
	"sort"

	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// OnCall implements oncall.Repository with the same uniqueness rules as the
// database: one configuration per organization, one contact per position.
type OnCall struct {
	s *Store
}

func (r *OnCall) ConfigurationForOrganization(ctx context.Context, organizationID types.ID) (*oncall.Configuration, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	cfg, ok := r.s.configs[organizationID]
	if !ok {
		return nil, errors.NotFound("on-call configuration", organizationID.String())
	}
	out := *cfg
	return &out, nil
}

func (r *OnCall) ContactAtPosition(ctx context.Context, configurationID types.ID, position int) (*oncall.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.contacts[configurationID] {
		if c.Position == position {
			out := *c
			return &out, nil
		}
	}
	return nil, errors.NotFound("escalation contact", configurationID.String())
}

func (r *OnCall) ListChain(ctx context.Context, configurationID types.ID) ([]oncall.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]oncall.Contact, 0, len(r.s.contacts[configurationID]))
	for _, c := range r.s.contacts[configurationID] {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *OnCall) SaveConfiguration(ctx context.Context, cfg *oncall.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.responders[cfg.PrimaryResponderID]; !ok {
		return errors.Validation("primary responder does not exist", map[string]string{
			"primary_responder_id": cfg.PrimaryResponderID.String(),
		})
	}

	now := r.s.now().UTC()
	if existing, ok := r.s.configs[cfg.OrganizationID]; ok {
		existing.PrimaryResponderID = cfg.PrimaryResponderID
		existing.EscalationTimeoutMinutes = cfg.EscalationTimeoutMinutes
		existing.UpdatedAt = now
		*cfg = *existing
		return nil
	}

	if cfg.ID.IsZero() {
		cfg.ID = types.NewID()
	}
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	stored := *cfg
	r.s.configs[cfg.OrganizationID] = &stored
	return nil
}

func (r *OnCall) DeleteConfiguration(ctx context.Context, organizationID types.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cfg, ok := r.s.configs[organizationID]
	if !ok {
		return errors.NotFound("on-call configuration", organizationID.String())
	}
	delete(r.s.contacts, cfg.ID)
	delete(r.s.configs, organizationID)
	return nil
}

func (r *OnCall) AddContact(ctx context.Context, contact *oncall.Contact) error {
	if err := contact.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !r.configExists(contact.ConfigurationID) {
		return errors.Validation("configuration or responder does not exist", map[string]string{
			"configuration_id": contact.ConfigurationID.String(),
		})
	}
	if _, ok := r.s.responders[contact.ResponderID]; !ok {
		return errors.Validation("configuration or responder does not exist", map[string]string{
			"responder_id": contact.ResponderID.String(),
		})
	}
	for _, c := range r.s.contacts[contact.ConfigurationID] {
		if c.Position == contact.Position {
			return errors.Conflict("position already taken in this escalation chain")
		}
	}

	if contact.ID.IsZero() {
		contact.ID = types.NewID()
	}
	contact.CreatedAt = r.s.now().UTC()
	stored := *contact
	r.s.contacts[contact.ConfigurationID] = append(r.s.contacts[contact.ConfigurationID], &stored)
	return nil
}

func (r *OnCall) RemoveContact(ctx context.Context, configurationID, contactID types.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	chain := r.s.contacts[configurationID]
	for i, c := range chain {
		if c.ID == contactID {
			r.s.contacts[configurationID] = append(chain[:i], chain[i+1:]...)
			return nil
		}
	}
	return errors.NotFound("escalation contact", contactID.String())
}

// Reorder goes through negative staging positions like the Postgres
// repository, and every single move is checked against the position
// uniqueness rule.
func (r *OnCall) Reorder(ctx context.Context, configurationID types.ID, contactIDs []types.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	chain := r.s.contacts[configurationID]
	current := make([]oncall.Contact, 0, len(chain))
	for _, c := range chain {
		current = append(current, *c)
	}
	if err := oncall.CheckReorder(current, contactIDs); err != nil {
		return err
	}

	original := make(map[types.ID]int, len(chain))
	for _, c := range chain {
		original[c.ID] = c.Position
	}

	for _, phase := range []func(int) int{
		func(i int) int { return -(i + 1) },
		func(i int) int { return i + 1 },
	} {
		for i, id := range contactIDs {
			if err := r.move(configurationID, id, phase(i)); err != nil {
				for _, c := range chain {
					c.Position = original[c.ID]
				}
				return err
			}
		}
	}
	return nil
}

func (r *OnCall) move(configurationID, contactID types.ID, position int) error {
	var target *oncall.Contact
	for _, c := range r.s.contacts[configurationID] {
		if c.ID == contactID {
			target = c
			continue
		}
		if c.Position == position {
			return errors.Conflict("position already taken in this escalation chain")
		}
	}
	if target == nil {
		return errors.NotFound("escalation contact", contactID.String())
	}
	target.Position = position
	return nil
}

func (r *OnCall) configExists(configurationID types.ID) bool {
	for _, cfg := range r.s.configs {
		if cfg.ID == configurationID {
			return true
		}
	}
	return false
}

var _ oncall.Repository = (*OnCall)(nil)
