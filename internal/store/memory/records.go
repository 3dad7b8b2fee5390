package memory

import (
	"context"
	"sort"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Directory implements directory.Directory and directory.Writer
type Directory struct {
	s *Store
}

func (d *Directory) Responder(ctx context.Context, id types.ID) (*directory.Responder, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	r, ok := d.s.responders[id]
	if !ok {
		return nil, errors.NotFound("responder", id.String())
	}
	out := *r
	return &out, nil
}

func (d *Directory) SaveResponder(ctx context.Context, r *directory.Responder) error {
	if err := r.Validate(); err != nil {
		return err
	}

	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	now := d.s.now().UTC()
	r.UpdatedAt = now
	if existing, ok := d.s.responders[r.ID]; ok {
		r.CreatedAt = existing.CreatedAt
	} else {
		r.CreatedAt = now
	}
	stored := *r
	d.s.responders[r.ID] = &stored
	return nil
}

// Escalations implements escalation.EventLog
type Escalations struct {
	s *Store
}

func (l *Escalations) Append(ctx context.Context, event *escalation.Event) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if event.ID.IsZero() {
		event.ID = types.NewID()
	}
	stored := *event
	l.s.events = append(l.s.events, &stored)
	return nil
}

func (l *Escalations) ListByIncident(ctx context.Context, incidentID types.ID) ([]escalation.Event, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	out := []escalation.Event{}
	for _, e := range l.s.events {
		if e.IncidentID == incidentID {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AttemptedAt.Equal(out[j].AttemptedAt) {
			return out[i].StepIndex > out[j].StepIndex
		}
		return out[i].AttemptedAt.After(out[j].AttemptedAt)
	})
	return out, nil
}

// Activity implements activity.Sink and activity.Reader
type Activity struct {
	s *Store
}

func (a *Activity) Record(ctx context.Context, entry activity.Entry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	a.s.activity = append(a.s.activity, entry)
	return nil
}

func (a *Activity) Entries(ctx context.Context, incidentID types.ID) ([]activity.Entry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	out := []activity.Entry{}
	for _, e := range a.s.activity {
		if e.IncidentID == incidentID {
			out = append(out, e)
		}
	}
	return out, nil
}

var (
	_ directory.Directory = (*Directory)(nil)
	_ directory.Writer    = (*Directory)(nil)
	_ escalation.EventLog = (*Escalations)(nil)
	_ activity.Sink       = (*Activity)(nil)
	_ activity.Reader     = (*Activity)(nil)
)
