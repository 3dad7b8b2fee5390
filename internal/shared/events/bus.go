package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/mitigateops/platform/internal/shared/config"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Actor types carried on published events
const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Subject       types.ID  `json:"subject"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	ActorID        types.ID `json:"actor_id,omitempty"`
	ActorType      string   `json:"actor_type"`
	OrganizationID types.ID `json:"organization_id,omitempty"`

	Data any `json:"data"`
}

// NewEvent creates a new event about subject with a generated ID and timestamp.
// Events default to the system actor until WithActor is applied.
func NewEvent(eventType, source string, subject types.ID, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		ActorType: ActorTypeSystem,
		Data:      data,
	}
}

// WithActor sets the actor information on the event. A zero actor keeps the
// event attributed to the system.
func (e Event) WithActor(actorID types.ID, organizationID types.ID) Event {
	if !actorID.IsZero() {
		e.ActorID = actorID
		e.ActorType = ActorTypeUser
	}
	e.OrganizationID = organizationID
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Bus appends events to KurrentDB, one stream per subject.
type Bus struct {
	client *esdb.Client
	prefix string
}

// NewBus creates a new event bus connected to KurrentDB
func NewBus(ctx context.Context, cfg config.KurrentDBConfig) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	bus := &Bus{client: client, prefix: cfg.StreamPrefix}
	if bus.prefix == "" {
		bus.prefix = "restoration"
	}

	if err := bus.ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return bus, nil
}

func buildConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false&keepAliveInterval=10000&keepAliveTimeout=10000"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// Publish appends the event to the stream of its subject
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	_, err = b.client.AppendToStream(ctx, StreamName(b.prefix, event), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// StreamName maps an event to its KurrentDB stream, e.g.
// restoration-incident-<uuid>. Events without a subject go to the source
// category stream.
func StreamName(prefix string, event Event) string {
	source := strings.ReplaceAll(event.Source, ".", "_")
	if event.Subject.IsZero() {
		return fmt.Sprintf("%s-%s", prefix, source)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, source, event.Subject)
}

// Close closes the event bus connection
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health checks the KurrentDB connection
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.ping(ctx)
}

func (b *Bus) ping(ctx context.Context) error {
	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	stream.Close()
	return nil
}
