package escalation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/notification"
	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/metrics"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Outcome names how a step ended
type Outcome string

const (
	OutcomeIncidentMissing Outcome = "incident_missing"
	OutcomeNotEmergency    Outcome = "not_emergency"
	OutcomeAlreadyActive   Outcome = "already_active"
	OutcomeNoConfiguration Outcome = "no_configuration"
	OutcomeExhausted       Outcome = "exhausted"
	OutcomeNotified        Outcome = "notified"
)

// Terminal reports whether no further step will be scheduled.
func (o Outcome) Terminal() bool {
	return o != OutcomeNotified
}

// IncidentReader is the slice of the incident store a step needs.
type IncidentReader interface {
	FindByID(ctx context.Context, id types.ID) (*domain.Incident, error)
}

// OnCallReader is the read side of the on-call directory.
type OnCallReader interface {
	ConfigurationForOrganization(ctx context.Context, organizationID types.ID) (*oncall.Configuration, error)
	ContactAtPosition(ctx context.Context, configurationID types.ID, position int) (*oncall.Contact, error)
}

// Scheduler durably enqueues a future step.
type Scheduler interface {
	EnqueueAfter(ctx context.Context, delay time.Duration, incidentID types.ID, stepIndex int) error
}

// Dependencies wires an Executor.
type Dependencies struct {
	Incidents  IncidentReader
	OnCall     OnCallReader
	Responders directory.Directory
	Transport  notification.Transport
	Log        EventLog
	Activity   activity.Sink
	Scheduler  Scheduler
	Logger     *zap.Logger
	Now        func() time.Time
}

// Executor performs one escalation step per call. It keeps no state
// between calls; everything it needs is read from storage each time.
type Executor struct {
	incidents  IncidentReader
	oncall     OnCallReader
	responders directory.Directory
	transport  notification.Transport
	log        EventLog
	activity   activity.Sink
	scheduler  Scheduler
	logger     *zap.Logger
	now        func() time.Time
}

func NewExecutor(deps Dependencies) *Executor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Executor{
		incidents:  deps.Incidents,
		oncall:     deps.OnCall,
		responders: deps.Responders,
		transport:  deps.Transport,
		log:        deps.Log,
		activity:   deps.Activity,
		scheduler:  deps.Scheduler,
		logger:     deps.Logger,
		now:        deps.Now,
	}
}

// RunStep pages the responder for stepIndex and schedules stepIndex+1 after
// the organization's timeout. Step 0 is the primary responder, step N is
// the contact at position N.
//
// A returned error means storage or the scheduler failed and the step
// should be retried. Retrying a step that already paged someone pages them
// again.
func (x *Executor) RunStep(ctx context.Context, incidentID types.ID, stepIndex int) (Outcome, error) {
	if stepIndex < 0 {
		return "", errors.BadRequest(fmt.Sprintf("invalid step index %d", stepIndex))
	}

	logger := x.logger.With(
		zap.String("incident_id", incidentID.String()),
		zap.Int("step_index", stepIndex),
	)

	inc, err := x.incidents.FindByID(ctx, incidentID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return x.finish(logger, OutcomeIncidentMissing), nil
		}
		return "", err
	}
	if !inc.Emergency {
		return x.finish(logger, OutcomeNotEmergency), nil
	}
	if inc.Status == domain.StatusActive {
		return x.finish(logger, OutcomeAlreadyActive), nil
	}

	cfg, err := x.oncall.ConfigurationForOrganization(ctx, inc.ServicingOrganizationID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return "", err
		}
		entry := activity.NewEntry(inc.ID, activity.EventEscalationSkipped, "", map[string]any{
			"reason":          "no_configuration",
			"step_index":      stepIndex,
			"organization_id": inc.ServicingOrganizationID.String(),
		}, x.now())
		if err := x.activity.Record(ctx, entry); err != nil {
			return "", err
		}
		return x.finish(logger, OutcomeNoConfiguration), nil
	}

	responderID := cfg.PrimaryResponderID
	if stepIndex > 0 {
		contact, err := x.oncall.ContactAtPosition(ctx, cfg.ID, stepIndex)
		if err != nil {
			if !errors.Is(err, errors.ErrNotFound) {
				return "", err
			}
			entry := activity.NewEntry(inc.ID, activity.EventEscalationExhausted, "", map[string]any{
				"step_index": stepIndex,
				"steps_run":  stepIndex,
			}, x.now())
			if err := x.activity.Record(ctx, entry); err != nil {
				return "", err
			}
			return x.finish(logger, OutcomeExhausted), nil
		}
		responderID = contact.ResponderID
	}

	responder, err := x.responders.Responder(ctx, responderID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return "", err
		}
		logger.Warn("escalation responder not in directory", zap.String("responder_id", responderID.String()))
		responder = nil
	}

	method, status := x.notify(ctx, logger, inc, responder, stepIndex)

	event := &Event{
		ID:            types.NewID(),
		IncidentID:    inc.ID,
		ResponderID:   responderID,
		StepIndex:     stepIndex,
		ContactMethod: method,
		Status:        status,
		AttemptedAt:   x.now().UTC(),
	}
	if err := x.log.Append(ctx, event); err != nil {
		return "", err
	}

	entry := activity.NewEntry(inc.ID, activity.EventEscalationAttempted, "", map[string]any{
		"step_index":     stepIndex,
		"responder_id":   responderID.String(),
		"event_id":       event.ID.String(),
		"contact_method": string(method),
		"status":         string(status),
	}, event.AttemptedAt)
	if err := x.activity.Record(ctx, entry); err != nil {
		return "", err
	}

	if err := x.scheduler.EnqueueAfter(ctx, cfg.Timeout(), inc.ID, stepIndex+1); err != nil {
		return "", errors.Wrap(err, "failed to schedule next escalation step")
	}

	logger.Info("escalation step notified",
		zap.String("responder_id", responderID.String()),
		zap.String("contact_method", string(method)),
		zap.String("status", string(status)),
		zap.Duration("next_step_in", cfg.Timeout()),
	)
	return x.finish(logger, OutcomeNotified), nil
}

// notify hands the page to the transport. Email goes out when the
// responder has an address; SMS when they have a phone, in which case the
// event is recorded against SMS. Transport errors are logged only.
//
// The transport only buffers, so an accepted page is pending: nothing has
// confirmed delivery yet.
func (x *Executor) notify(ctx context.Context, logger *zap.Logger, inc *domain.Incident, r *directory.Responder, stepIndex int) (ContactMethod, EventStatus) {
	if r == nil {
		return ContactEmail, EventFailed
	}

	subject, body := pageText(inc, r, stepIndex)
	method := ContactEmail
	accepted := false

	if r.HasEmail() {
		err := x.transport.SendEmail(ctx, r.Email, subject, body)
		metrics.RecordNotification(string(notification.ChannelEmail), err == nil)
		if err != nil {
			logger.Warn("escalation email not accepted", zap.String("responder_id", r.ID.String()), zap.Error(err))
		} else {
			accepted = true
		}
	}

	if r.HasPhone() {
		method = ContactSMS
		err := x.transport.SendSMS(ctx, *r.Phone, subject)
		metrics.RecordNotification(string(notification.ChannelSMS), err == nil)
		if err != nil {
			logger.Warn("escalation sms not accepted", zap.String("responder_id", r.ID.String()), zap.Error(err))
		} else {
			accepted = true
		}
	}

	if !accepted {
		return method, EventFailed
	}
	return method, EventPending
}

func (x *Executor) finish(logger *zap.Logger, outcome Outcome) Outcome {
	metrics.RecordEscalationStep(string(outcome))
	if outcome != OutcomeNotified {
		logger.Info("escalation step ended", zap.String("outcome", string(outcome)))
	}
	return outcome
}

func pageText(inc *domain.Incident, r *directory.Responder, stepIndex int) (string, string) {
	subject := fmt.Sprintf("EMERGENCY %s needs a responder", inc.ReferenceNumber)
	role := "primary on-call responder"
	if stepIndex > 0 {
		role = fmt.Sprintf("escalation contact #%d", stepIndex)
	}
	body := fmt.Sprintf(
		"%s,\n\nYou are the %s for emergency incident %s.\n\n%s\n\nMark the incident active to stop further escalation.\n",
		r.Name, role, inc.ReferenceNumber, inc.Description,
	)
	return subject, body
}
