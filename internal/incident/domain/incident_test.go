package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusAcknowledged:    {StatusActive, StatusQuoteRequested, StatusOnHold},
		StatusQuoteRequested:  {StatusActive, StatusClosed},
		StatusActive:          {StatusOnHold, StatusCompleted},
		StatusOnHold:          {StatusActive, StatusCompleted},
		StatusCompleted:       {StatusCompletedBilled, StatusActive},
		StatusCompletedBilled: {StatusPaid, StatusActive},
		StatusPaid:            {StatusClosed},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestNoGateExitFromNewOrClosed(t *testing.T) {
	assert.Empty(t, AllowedTransitions(StatusNew))
	assert.Empty(t, AllowedTransitions(StatusClosed))
	assert.Empty(t, AllowedTransitions(Status("bogus")))
}

func TestAllowedTransitionsSorted(t *testing.T) {
	assert.Equal(t,
		[]Status{StatusActive, StatusOnHold, StatusQuoteRequested},
		AllowedTransitions(StatusAcknowledged))
}

func TestValidateTransition(t *testing.T) {
	err := ValidateTransition(StatusPaid, StatusActive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "paid", appErr.Details["from"])
	assert.Equal(t, "active", appErr.Details["to"])

	assert.NoError(t, ValidateTransition(StatusCompletedBilled, StatusActive))
}

func TestNewIncident(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc, err := NewIncident(NewIncidentInput{
		PropertyID:              types.NewID(),
		ServicingOrganizationID: types.NewID(),
		Emergency:               true,
		Description:             "  burst pipe, second floor  ",
	}, now)

	require.NoError(t, err)
	assert.Equal(t, StatusNew, inc.Status)
	assert.Equal(t, "burst pipe, second floor", inc.Description)
	assert.Regexp(t, `^INC-20260301-[0-9A-F]{6}$`, inc.ReferenceNumber)
	assert.True(t, inc.Escalating())
}

func TestNewIncidentValidation(t *testing.T) {
	tests := []struct {
		name  string
		input NewIncidentInput
		field string
	}{
		{"missing property", NewIncidentInput{ServicingOrganizationID: types.NewID()}, "property_id"},
		{"missing organization", NewIncidentInput{PropertyID: types.NewID()}, "servicing_organization_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIncident(tt.input, time.Now())
			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
}

func TestAcknowledgeOnlyFromNew(t *testing.T) {
	inc := &Incident{Status: StatusNew}
	require.NoError(t, inc.Acknowledge(time.Now()))
	assert.Equal(t, StatusAcknowledged, inc.Status)
	assert.Error(t, inc.Acknowledge(time.Now()))
}

func TestTransitionTo(t *testing.T) {
	inc := &Incident{Status: StatusAcknowledged, Emergency: true}

	require.NoError(t, inc.TransitionTo(StatusActive, time.Now()))
	assert.False(t, inc.Escalating())

	err := inc.TransitionTo(StatusPaid, time.Now())
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	assert.Equal(t, StatusActive, inc.Status)
}

func TestListFilterNormalize(t *testing.T) {
	f := ListFilter{Limit: 1000, Offset: -3}.Normalize()
	assert.Equal(t, 50, f.Limit)
	assert.Equal(t, 0, f.Offset)
}
