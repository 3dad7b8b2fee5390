package domain

import (
	"sort"

	"github.com/mitigateops/platform/internal/shared/errors"
)

// Status is an incident's workflow state
type Status string

const (
	StatusNew             Status = "new"
	StatusAcknowledged    Status = "acknowledged"
	StatusQuoteRequested  Status = "quote_requested"
	StatusActive          Status = "active"
	StatusOnHold          Status = "on_hold"
	StatusCompleted       Status = "completed"
	StatusCompletedBilled Status = "completed_billed"
	StatusPaid            Status = "paid"
	StatusClosed          Status = "closed"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{
	StatusNew, StatusAcknowledged, StatusQuoteRequested, StatusActive, StatusOnHold,
	StatusCompleted, StatusCompletedBilled, StatusPaid, StatusClosed,
}

// transitions is the only source of truth for the status gate. New and
// closed have no entries: new is left by the creation workflow, and closed
// is terminal.
var transitions = map[Status][]Status{
	StatusAcknowledged:    {StatusActive, StatusQuoteRequested, StatusOnHold},
	StatusQuoteRequested:  {StatusActive, StatusClosed},
	StatusActive:          {StatusOnHold, StatusCompleted},
	StatusOnHold:          {StatusActive, StatusCompleted},
	StatusCompleted:       {StatusCompletedBilled, StatusActive},
	StatusCompletedBilled: {StatusPaid, StatusActive},
	StatusPaid:            {StatusClosed},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether the gate allows from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the targets reachable from s, sorted for stable
// API output. Terminal and unknown statuses yield an empty slice.
func AllowedTransitions(s Status) []Status {
	out := append([]Status{}, transitions[s]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateTransition returns an INVALID_TRANSITION error naming both ends
// when the table does not allow from -> to.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return errors.InvalidTransition(string(from), string(to))
	}
	return nil
}
