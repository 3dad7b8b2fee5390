package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// MemoryQueue is an in-process Queue for tests and limited mode. Jobs are
// lost on restart.
type MemoryQueue struct {
	mu          sync.Mutex
	jobs        map[types.ID]*Job
	maxAttempts int
	now         func() time.Time
}

func NewMemoryQueue(maxAttempts int, now func() time.Time) *MemoryQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{
		jobs:        make(map[types.ID]*Job),
		maxAttempts: maxAttempts,
		now:         now,
	}
}

func (q *MemoryQueue) EnqueueAfter(ctx context.Context, delay time.Duration, incidentID types.ID, stepIndex int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	job := &Job{
		ID:          types.NewID(),
		IncidentID:  incidentID,
		StepIndex:   stepIndex,
		RunAt:       now.Add(delay),
		Status:      JobQueued,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.jobs[job.ID] = job
	return nil
}

func (q *MemoryQueue) Lease(ctx context.Context, now time.Time, limit int, leaseFor time.Duration) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now = now.UTC()
	var due []*Job
	for _, j := range q.jobs {
		switch {
		case j.Status == JobQueued && !j.RunAt.After(now):
			due = append(due, j)
		case j.Status == JobLeased && j.LeasedUntil != nil && j.LeasedUntil.Before(now):
			if j.Attempts >= j.MaxAttempts {
				reason := ReasonLeaseExhausted
				j.Status = JobDeadLettered
				j.LastError = &reason
				j.LeasedUntil = nil
				j.UpdatedAt = now
				continue
			}
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Job, 0, len(due))
	until := now.Add(leaseFor)
	for _, j := range due {
		j.Status = JobLeased
		j.LeasedUntil = &until
		j.Attempts++
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, id types.ID) error {
	return q.settle(id, func(j *Job) {
		j.Status = JobSucceeded
	})
}

func (q *MemoryQueue) Retry(ctx context.Context, id types.ID, runAt time.Time, reason string) error {
	return q.settle(id, func(j *Job) {
		j.Status = JobQueued
		j.RunAt = runAt.UTC()
		j.LastError = &reason
	})
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, id types.ID, reason string) error {
	return q.settle(id, func(j *Job) {
		j.Status = JobDeadLettered
		j.LastError = &reason
	})
}

func (q *MemoryQueue) settle(id types.ID, apply func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.Status != JobLeased {
		return errors.NotFound("leased escalation job", id.String())
	}
	apply(j)
	j.LeasedUntil = nil
	j.UpdatedAt = q.now().UTC()
	return nil
}

// Jobs returns a snapshot of every job ordered by RunAt.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].RunAt.Equal(out[b].RunAt) {
			return out[a].StepIndex < out[b].StepIndex
		}
		return out[a].RunAt.Before(out[b].RunAt)
	})
	return out
}

var _ Queue = (*MemoryQueue)(nil)
