// Package memory keeps every repository in process memory behind one lock.
// It backs limited mode, when no database is configured, and the tests.
package memory

import (
	"sync"
	"time"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Store holds the shared state. The repository views it hands out share the
// same mutex, so a status transition can update the incident, the activity
// log and the escalation events as one unit.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	scheduler escalation.Scheduler

	incidents  map[types.ID]*domain.Incident
	responders map[types.ID]*directory.Responder
	configs    map[types.ID]*oncall.Configuration // by organization
	contacts   map[types.ID][]*oncall.Contact      // by configuration
	events     []*escalation.Event
	activity   []activity.Entry
}

func New() *Store {
	return &Store{
		now:        time.Now,
		incidents:  make(map[types.ID]*domain.Incident),
		responders: make(map[types.ID]*directory.Responder),
		configs:    make(map[types.ID]*oncall.Configuration),
		contacts:   make(map[types.ID][]*oncall.Contact),
	}
}

// WithClock replaces the store's time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithScheduler makes Create queue step 0 for emergency incidents while it
// holds the store lock. The scheduler must not call back into the store.
func (s *Store) WithScheduler(sched escalation.Scheduler) *Store {
	s.scheduler = sched
	return s
}

func (s *Store) Incidents() *Incidents     { return &Incidents{s: s} }
func (s *Store) OnCall() *OnCall           { return &OnCall{s: s} }
func (s *Store) Directory() *Directory     { return &Directory{s: s} }
func (s *Store) Escalations() *Escalations { return &Escalations{s: s} }
func (s *Store) Activity() *Activity       { return &Activity{s: s} }
