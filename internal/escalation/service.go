package escalation

import (
	"context"

	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/scheduler"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Service is the entry point other packages use: it runs scheduled steps
// and serves the event history.
type Service struct {
	executor *Executor
	log      EventLog
	logger   *zap.Logger
}

func NewService(executor *Executor, log EventLog, logger *zap.Logger) *Service {
	return &Service{
		executor: executor,
		log:      log,
		logger:   logger,
	}
}

// Start schedules step 0 to run immediately. Incident stores call it (or
// StartTx) in the same atomic unit that creates an emergency incident.
func Start(ctx context.Context, s Scheduler, incidentID types.ID) error {
	return s.EnqueueAfter(ctx, 0, incidentID, 0)
}

// HandleJob adapts RunStep to the scheduler worker.
func (s *Service) HandleJob(ctx context.Context, job scheduler.Job) error {
	outcome, err := s.executor.RunStep(ctx, job.IncidentID, job.StepIndex)
	if err != nil {
		return err
	}
	s.logger.Debug("escalation job handled",
		zap.String("job_id", job.ID.String()),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

// History returns the incident's escalation events, newest first.
func (s *Service) History(ctx context.Context, incidentID types.ID) ([]Event, error) {
	events, err := s.log.ListByIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
