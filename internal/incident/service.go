package incident

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/events"
	"github.com/mitigateops/platform/internal/shared/metrics"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Escalations is what the incident workflow needs from the escalation engine.
// Starting escalation is the repository's job, inside Create.
type Escalations interface {
	History(ctx context.Context, incidentID types.ID) ([]escalation.Event, error)
}

// Service runs the incident workflow: creation, the status gate, and the
// read models around them.
type Service struct {
	repo        domain.Repository
	escalations Escalations
	activity    activity.Reader
	bus         events.EventBus
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(repo domain.Repository, escalations Escalations, activity activity.Reader, bus events.EventBus, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		escalations: escalations,
		activity:    activity,
		bus:         bus,
		logger:      logger,
		now:         time.Now,
	}
}

// Create stores a new incident and moves it straight to acknowledged. For
// emergencies the repository queues step 0 in the same write, so an error
// here means neither the incident nor its escalation exists.
func (s *Service) Create(ctx context.Context, in domain.NewIncidentInput) (*domain.Incident, error) {
	now := s.now()
	inc, err := domain.NewIncident(in, now)
	if err != nil {
		return nil, err
	}
	if err := inc.Acknowledge(now); err != nil {
		return nil, errors.Internal(err)
	}
	if err := s.repo.Create(ctx, inc); err != nil {
		return nil, err
	}

	metrics.RecordIncidentCreated(inc.Emergency)
	s.publish(ctx, events.NewEvent("incident.created", "incident", inc.ID, inc).
		WithActor(inc.CreatedBy, inc.ServicingOrganizationID))

	s.logger.Info("incident created",
		zap.String("incident_id", inc.ID.String()),
		zap.String("reference_number", inc.ReferenceNumber),
		zap.Bool("emergency", inc.Emergency),
	)
	return inc, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*domain.Incident, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Incident, error) {
	return s.repo.List(ctx, filter)
}

// Transition is the only sanctioned way to change an incident's status.
// Rejected transitions come back as errors.InvalidTransition.
func (s *Service) Transition(ctx context.Context, id types.ID, target domain.Status, actorID types.ID) (*domain.TransitionResult, error) {
	result, err := s.repo.Transition(ctx, id, target, actorID)
	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) && errors.Is(err, errors.ErrInvalidTransition) {
			metrics.RecordTransitionRejected(appErr.Details["from"], appErr.Details["to"])
		}
		return nil, err
	}

	metrics.RecordStatusChange(string(result.From), string(result.To))
	if result.ResolvedEscalations > 0 {
		metrics.RecordEscalationsResolved(result.ResolvedEscalations)
	}

	s.publish(ctx, events.NewEvent("incident.status_changed", "incident", id, map[string]any{
		"from":                 result.From,
		"to":                   result.To,
		"resolved_escalations": result.ResolvedEscalations,
	}).WithActor(actorID, result.Incident.ServicingOrganizationID))

	s.logger.Info("incident status changed",
		zap.String("incident_id", id.String()),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
		zap.Int("resolved_escalations", result.ResolvedEscalations),
	)
	return result, nil
}

// AllowedTransitions lists the statuses the incident can move to now.
func (s *Service) AllowedTransitions(ctx context.Context, id types.ID) ([]domain.Status, error) {
	inc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.AllowedTransitions(inc.Status), nil
}

func (s *Service) Escalations(ctx context.Context, id types.ID) ([]escalation.Event, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.escalations.History(ctx, id)
}

func (s *Service) Activity(ctx context.Context, id types.ID) ([]activity.Entry, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.activity.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	return entries, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if event.CorrelationID == "" {
		event = event.WithCorrelation(middleware.GetReqID(ctx))
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish incident event", zap.String("type", event.Type), zap.Error(err))
	}
}
