package activity

import (
	"context"

	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/shared/events"
)

// PublishingSink records to the wrapped sink and then fans the entry out to
// the event bus as "incident.<event_type>". A bus failure is logged and does
// not fail the record.
type PublishingSink struct {
	next   Sink
	bus    events.EventBus
	logger *zap.Logger
}

func NewPublishingSink(next Sink, bus events.EventBus, logger *zap.Logger) *PublishingSink {
	return &PublishingSink{next: next, bus: bus, logger: logger}
}

func (s *PublishingSink) Record(ctx context.Context, entry Entry) error {
	if err := s.next.Record(ctx, entry); err != nil {
		return err
	}

	if err := s.bus.Publish(ctx, ToEvent(entry)); err != nil {
		s.logger.Warn("failed to publish activity",
			zap.String("incident_id", entry.IncidentID.String()),
			zap.String("event_type", string(entry.Type)),
			zap.Error(err),
		)
	}
	return nil
}

// ToEvent converts an activity entry into a bus event.
func ToEvent(entry Entry) events.Event {
	event := events.NewEvent("incident."+string(entry.Type), "incident", entry.IncidentID, map[string]any{
		"activity_id": entry.ID,
		"metadata":    entry.Metadata,
	}).WithActor(entry.ActorID, "")
	event.Timestamp = entry.CreatedAt
	return event
}
