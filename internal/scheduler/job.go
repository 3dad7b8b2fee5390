package scheduler

import (
	"context"
	"time"

	"github.com/mitigateops/platform/internal/shared/types"
)

// JobStatus is where a job is in its lifecycle
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobLeased       JobStatus = "leased"
	JobSucceeded    JobStatus = "succeeded"
	JobDeadLettered JobStatus = "dead_lettered"
)

// ReasonLeaseExhausted is recorded on a job whose last lease expired
// without being settled.
const ReasonLeaseExhausted = "lease expired after final attempt"

// Job is a durable request to run one escalation step at or after RunAt.
type Job struct {
	ID          types.ID   `json:"id"`
	IncidentID  types.ID   `json:"incident_id"`
	StepIndex   int        `json:"step_index"`
	RunAt       time.Time  `json:"run_at"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LeasedUntil *time.Time `json:"leased_until,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Exhausted reports whether a failed attempt should dead-letter the job.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Handler runs a leased job. A non-nil error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// Queue stores jobs so they survive restarts. A job whose lease expires
// before Complete, Retry or DeadLetter is delivered again.
type Queue interface {
	EnqueueAfter(ctx context.Context, delay time.Duration, incidentID types.ID, stepIndex int) error
	// Lease claims up to limit due jobs for leaseFor and counts an attempt
	// on each of them.
	Lease(ctx context.Context, now time.Time, limit int, leaseFor time.Duration) ([]Job, error)
	Complete(ctx context.Context, id types.ID) error
	Retry(ctx context.Context, id types.ID, runAt time.Time, reason string) error
	DeadLetter(ctx context.Context, id types.ID, reason string) error
}
