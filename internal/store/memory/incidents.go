package memory

import (
	"context"
	"sort"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Incidents implements domain.Repository
type Incidents struct {
	s *Store
}

func (r *Incidents) Create(ctx context.Context, inc *domain.Incident) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.incidents[inc.ID]; exists {
		return errors.Conflict("incident already exists")
	}
	for _, other := range r.s.incidents {
		if other.ReferenceNumber == inc.ReferenceNumber {
			return errors.Conflict("incident with this reference number already exists")
		}
	}

	if inc.Emergency && r.s.scheduler != nil {
		if err := escalation.Start(ctx, r.s.scheduler, inc.ID); err != nil {
			return errors.Wrap(err, "failed to start escalation")
		}
	}

	stored := *inc
	r.s.incidents[inc.ID] = &stored
	r.s.activity = append(r.s.activity, activity.NewEntry(inc.ID, activity.EventStatusChanged, inc.CreatedBy, map[string]any{
		"from": string(domain.StatusNew),
		"to":   string(inc.Status),
	}, inc.UpdatedAt))
	return nil
}

func (r *Incidents) FindByID(ctx context.Context, id types.ID) (*domain.Incident, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	inc, ok := r.s.incidents[id]
	if !ok {
		return nil, errors.NotFound("incident", id.String())
	}
	out := *inc
	return &out, nil
}

func (r *Incidents) List(ctx context.Context, filter domain.ListFilter) ([]domain.Incident, error) {
	filter = filter.Normalize()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []domain.Incident{}
	for _, inc := range r.s.incidents {
		if filter.OrganizationID != nil && inc.ServicingOrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		if filter.Emergency != nil && inc.Emergency != *filter.Emergency {
			continue
		}
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset >= len(out) {
		return []domain.Incident{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Transition holds the write lock for the whole gate, matching the row lock
// the Postgres repository takes.
func (r *Incidents) Transition(ctx context.Context, id types.ID, target domain.Status, actorID types.ID) (*domain.TransitionResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.incidents[id]
	if !ok {
		return nil, errors.NotFound("incident", id.String())
	}

	inc := *stored
	from := inc.Status
	now := r.s.now().UTC()
	if err := inc.TransitionTo(target, now); err != nil {
		return nil, err
	}

	resolved := 0
	if target == domain.StatusActive {
		for _, e := range r.s.events {
			if e.IncidentID == id && e.Resolve(actorID, domain.ResolutionIncidentActive, now) {
				resolved++
			}
		}
	}

	*stored = inc
	r.s.activity = append(r.s.activity, activity.NewEntry(id, activity.EventStatusChanged, actorID, map[string]any{
		"from": string(from),
		"to":   string(target),
	}, now))

	out := inc
	return &domain.TransitionResult{
		Incident:            &out,
		From:                from,
		To:                  target,
		ResolvedEscalations: resolved,
	}, nil
}

var _ domain.Repository = (*Incidents)(nil)
