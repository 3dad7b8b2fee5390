package escalation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/incident"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/scheduler"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/events"
	"github.com/mitigateops/platform/internal/shared/types"
	"github.com/mitigateops/platform/internal/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type send struct {
	channel string
	to      string
}

type recordingTransport struct {
	mu    sync.Mutex
	sends []send
	fail  bool
}

func (t *recordingTransport) SendEmail(ctx context.Context, to, subject, body string) error {
	return t.record("email", to)
}

func (t *recordingTransport) SendSMS(ctx context.Context, to, message string) error {
	return t.record("sms", to)
}

func (t *recordingTransport) record(channel, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return fmt.Errorf("carrier unavailable")
	}
	t.sends = append(t.sends, send{channel: channel, to: to})
	return nil
}

func (t *recordingTransport) Sent() []send {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]send{}, t.sends...)
}

type harness struct {
	clock     *clock
	store     *memory.Store
	queue     *scheduler.MemoryQueue
	transport *recordingTransport
	executor  *escalation.Executor
	service   *escalation.Service
	incidents *incident.Service
	worker    *scheduler.Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	c := &clock{t: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)}
	queue := scheduler.NewMemoryQueue(3, c.Now)
	store := memory.New().WithClock(c.Now).WithScheduler(queue)
	transport := &recordingTransport{}
	logger := zap.NewNop()

	executor := escalation.NewExecutor(escalation.Dependencies{
		Incidents:  store.Incidents(),
		OnCall:     store.OnCall(),
		Responders: store.Directory(),
		Transport:  transport,
		Log:        store.Escalations(),
		Activity:   store.Activity(),
		Scheduler:  queue,
		Logger:     logger,
		Now:        c.Now,
	})
	service := escalation.NewService(executor, store.Escalations(), logger)
	incidents := incident.NewService(store.Incidents(), service, store.Activity(), events.NewMemoryBus(), logger)
	worker := scheduler.NewWorker(queue, service.HandleJob, scheduler.DefaultWorkerConfig(), logger).WithClock(c.Now)

	return &harness{
		clock:     c,
		store:     store,
		queue:     queue,
		transport: transport,
		executor:  executor,
		service:   service,
		incidents: incidents,
		worker:    worker,
	}
}

func (h *harness) responder(t *testing.T, name string, phone string) types.ID {
	t.Helper()
	r := &directory.Responder{ID: types.NewID(), Name: name, Email: name + "@example.com"}
	if phone != "" {
		r.Phone = &phone
	}
	require.NoError(t, h.store.Directory().SaveResponder(context.Background(), r))
	return r.ID
}

// chain sets up primary plus contacts at positions 1..n.
func (h *harness) chain(t *testing.T, orgID, primary types.ID, timeoutMinutes int, contacts ...types.ID) *oncall.Configuration {
	t.Helper()
	ctx := context.Background()
	cfg := &oncall.Configuration{
		OrganizationID:           orgID,
		PrimaryResponderID:       primary,
		EscalationTimeoutMinutes: timeoutMinutes,
	}
	require.NoError(t, h.store.OnCall().SaveConfiguration(ctx, cfg))
	for i, id := range contacts {
		require.NoError(t, h.store.OnCall().AddContact(ctx, &oncall.Contact{
			ConfigurationID: cfg.ID,
			ResponderID:     id,
			Position:        i + 1,
		}))
	}
	return cfg
}

func (h *harness) emergency(t *testing.T, orgID types.ID) *domain.Incident {
	t.Helper()
	inc, err := h.incidents.Create(context.Background(), domain.NewIncidentInput{
		PropertyID:              types.NewID(),
		ServicingOrganizationID: orgID,
		Emergency:               true,
		Description:             "Burst pipe flooding basement",
	})
	require.NoError(t, err)
	return inc
}

func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n, err := h.worker.ProcessDue(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) activityOfType(t *testing.T, incidentID types.ID, eventType activity.EventType) []activity.Entry {
	t.Helper()
	entries, err := h.store.Activity().Entries(context.Background(), incidentID)
	require.NoError(t, err)
	var out []activity.Entry
	for _, e := range entries {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestEscalationWalksTheChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()

	u1 := h.responder(t, "u1", "")
	u2 := h.responder(t, "u2", "")
	u3 := h.responder(t, "u3", "")
	h.chain(t, orgID, u1, 10, u2, u3)

	inc := h.emergency(t, orgID)
	assert.Equal(t, domain.StatusAcknowledged, inc.Status)

	// step 0 runs immediately
	assert.Equal(t, 1, h.drain(t))
	assert.Equal(t, []send{{"email", "u1@example.com"}}, h.transport.Sent())

	// nothing is due before the timeout
	h.clock.Advance(9 * time.Minute)
	assert.Equal(t, 0, h.drain(t))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.drain(t))
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.drain(t))

	assert.Equal(t, []send{
		{"email", "u1@example.com"},
		{"email", "u2@example.com"},
		{"email", "u3@example.com"},
	}, h.transport.Sent())

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].StepIndex, "newest first")
	assert.Equal(t, u3, history[0].ResponderID)
	assert.Equal(t, u2, history[1].ResponderID)
	assert.Equal(t, u1, history[2].ResponderID)
	for _, e := range history {
		assert.Equal(t, escalation.EventPending, e.Status, "accepted by the dispatcher, not yet delivered")
		assert.Equal(t, escalation.ContactEmail, e.ContactMethod)
		assert.False(t, e.Resolved())
	}

	// step 3 finds no contact and ends the chain
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.drain(t))
	assert.Len(t, h.activityOfType(t, inc.ID, activity.EventEscalationExhausted), 1)
	assert.Len(t, h.activityOfType(t, inc.ID, activity.EventEscalationAttempted), 3)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 0, h.drain(t))
	assert.Len(t, h.transport.Sent(), 3)

	for _, job := range h.queue.Jobs() {
		assert.Equal(t, scheduler.JobSucceeded, job.Status)
	}
}

func TestMarkingActiveStopsEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()

	u1 := h.responder(t, "u1", "")
	u2 := h.responder(t, "u2", "")
	h.chain(t, orgID, u1, 10, u2)

	inc := h.emergency(t, orgID)
	require.Equal(t, 1, h.drain(t))

	actor := types.NewID()
	result, err := h.incidents.Transition(ctx, inc.ID, domain.StatusActive, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ResolvedEscalations)

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Resolved())
	assert.Equal(t, domain.ResolutionIncidentActive, *history[0].ResolutionReason)
	assert.Equal(t, actor, *history[0].ResolvedBy)

	// the step already scheduled fires but does nothing
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.drain(t))
	assert.Len(t, h.transport.Sent(), 1)

	history, err = h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunStepAfterActiveIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()

	u1 := h.responder(t, "u1", "")
	h.chain(t, orgID, u1, 5)
	inc := h.emergency(t, orgID)

	_, err := h.incidents.Transition(ctx, inc.ID, domain.StatusActive, types.NewID())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		outcome, err := h.executor.RunStep(ctx, inc.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, escalation.OutcomeAlreadyActive, outcome)
	}

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, h.transport.Sent())
}

func TestResolutionIsOnlyRecordedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()

	u1 := h.responder(t, "u1", "")
	h.chain(t, orgID, u1, 5)
	inc := h.emergency(t, orgID)
	require.Equal(t, 1, h.drain(t))

	first := types.NewID()
	result, err := h.incidents.Transition(ctx, inc.ID, domain.StatusActive, first)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ResolvedEscalations)

	_, err = h.incidents.Transition(ctx, inc.ID, domain.StatusOnHold, types.NewID())
	require.NoError(t, err)
	result, err = h.incidents.Transition(ctx, inc.ID, domain.StatusActive, types.NewID())
	require.NoError(t, err)
	assert.Equal(t, 0, result.ResolvedEscalations)

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first, *history[0].ResolvedBy)
}

func TestNoConfigurationSkipsOnce(t *testing.T) {
	h := newHarness(t)
	inc := h.emergency(t, types.NewID())

	assert.Equal(t, 1, h.drain(t))
	h.clock.Advance(time.Hour)
	assert.Equal(t, 0, h.drain(t))

	assert.Empty(t, h.transport.Sent())
	skipped := h.activityOfType(t, inc.ID, activity.EventEscalationSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "no_configuration", skipped[0].Metadata["reason"])

	jobs := h.queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.JobSucceeded, jobs[0].Status)
}

func TestNonEmergencyDoesNotEscalate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()
	h.chain(t, orgID, h.responder(t, "u1", ""), 5)

	inc, err := h.incidents.Create(ctx, domain.NewIncidentInput{
		PropertyID:              types.NewID(),
		ServicingOrganizationID: orgID,
	})
	require.NoError(t, err)
	assert.Empty(t, h.queue.Jobs())

	outcome, err := h.executor.RunStep(ctx, inc.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, escalation.OutcomeNotEmergency, outcome)
	assert.Empty(t, h.transport.Sent())
}

func TestMissingIncidentIsNoop(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.executor.RunStep(context.Background(), types.NewID(), 1)
	require.NoError(t, err)
	assert.Equal(t, escalation.OutcomeIncidentMissing, outcome)
	assert.True(t, outcome.Terminal())
	assert.Empty(t, h.queue.Jobs())
}

func TestNegativeStepIsRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.executor.RunStep(context.Background(), types.NewID(), -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestPhoneSwitchesToSMS(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()
	h.chain(t, orgID, h.responder(t, "u1", "+15550100"), 5)
	inc := h.emergency(t, orgID)

	require.Equal(t, 1, h.drain(t))
	assert.ElementsMatch(t, []send{
		{"email", "u1@example.com"},
		{"sms", "+15550100"},
	}, h.transport.Sent())

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, escalation.ContactSMS, history[0].ContactMethod)
}

func TestTransportFailureDoesNotStopTheChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()
	h.chain(t, orgID, h.responder(t, "u1", ""), 5, h.responder(t, "u2", ""))
	h.transport.fail = true

	inc := h.emergency(t, orgID)
	require.Equal(t, 1, h.drain(t))

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, escalation.EventFailed, history[0].Status)

	jobs := h.queue.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, 1, jobs[1].StepIndex)
	assert.Equal(t, scheduler.JobQueued, jobs[1].Status)
}

func TestResponderWithoutContactDetails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()
	u1 := h.responder(t, "u1", "")
	cfg := h.chain(t, orgID, u1, 5)

	inc := h.emergency(t, orgID)
	require.Equal(t, 1, h.drain(t))

	ghost := types.NewID()
	require.NoError(t, h.store.Directory().SaveResponder(ctx, &directory.Responder{ID: ghost, Name: "ghost"}))
	require.NoError(t, h.store.OnCall().AddContact(ctx, &oncall.Contact{ConfigurationID: cfg.ID, ResponderID: ghost, Position: 1}))

	h.clock.Advance(5 * time.Minute)
	require.Equal(t, 1, h.drain(t))

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ghost, history[0].ResponderID)
	assert.Equal(t, escalation.EventFailed, history[0].Status, "no email and no phone")
}

func TestTimeoutIsReadAtEachStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()
	u1 := h.responder(t, "u1", "")
	u2 := h.responder(t, "u2", "")
	u3 := h.responder(t, "u3", "")
	h.chain(t, orgID, u1, 10, u2, u3)

	h.emergency(t, orgID)
	require.Equal(t, 1, h.drain(t))

	require.NoError(t, h.store.OnCall().SaveConfiguration(ctx, &oncall.Configuration{
		OrganizationID:           orgID,
		PrimaryResponderID:       u1,
		EscalationTimeoutMinutes: 2,
	}))

	// step 1 was scheduled with the old timeout
	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, h.drain(t))
	h.clock.Advance(8 * time.Minute)
	assert.Equal(t, 1, h.drain(t))

	// step 2 uses the new one
	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.drain(t))
	assert.Len(t, h.transport.Sent(), 3)
}

func TestMissingResponderIsRecordedAsFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := types.NewID()
	h.chain(t, orgID, h.responder(t, "u1", ""), 5)
	inc := h.emergency(t, orgID)

	// the directory consulted at paging time no longer knows the responder
	executor := escalation.NewExecutor(escalation.Dependencies{
		Incidents:  h.store.Incidents(),
		OnCall:     h.store.OnCall(),
		Responders: memory.New().Directory(),
		Transport:  h.transport,
		Log:        h.store.Escalations(),
		Activity:   h.store.Activity(),
		Scheduler:  h.queue,
		Now:        h.clock.Now,
	})

	outcome, err := executor.RunStep(ctx, inc.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, escalation.OutcomeNotified, outcome)
	assert.Empty(t, h.transport.Sent())

	history, err := h.service.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, escalation.EventFailed, history[0].Status)
}
