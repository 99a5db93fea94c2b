package onboarding_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio-api/internal/onboarding"
)

var allStates = []onboarding.State{
	onboarding.StateCreated,
	onboarding.StateCompanyConfigured,
	onboarding.StateFirstClientAdded,
	onboarding.StateFirstInvoiceSent,
	onboarding.StateCompleted,
}

var allEvents = []onboarding.Event{
	onboarding.EventConfigureCompany,
	onboarding.EventAddFirstClient,
	onboarding.EventSendFirstInvoice,
	onboarding.EventComplete,
}

// allowed enumerates every legal (state, event) pair and its successor.
var allowed = map[onboarding.State]map[onboarding.Event]onboarding.State{
	onboarding.StateCreated: {
		onboarding.EventConfigureCompany: onboarding.StateCompanyConfigured,
	},
	onboarding.StateCompanyConfigured: {
		onboarding.EventAddFirstClient: onboarding.StateFirstClientAdded,
	},
	onboarding.StateFirstClientAdded: {
		onboarding.EventSendFirstInvoice: onboarding.StateFirstInvoiceSent,
	},
	onboarding.StateFirstInvoiceSent: {
		onboarding.EventComplete: onboarding.StateCompleted,
	},
}

func TestTransitionTableIsExhaustive(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for _, state := range allStates {
		for _, ev := range allEvents {
			p := onboarding.Progress{AccountID: uuid.New(), State: state}

			next, err := onboarding.Apply(p, ev, now)
			want, ok := allowed[state][ev]
			if !ok {
				require.ErrorIs(t, err, onboarding.ErrInvalidTransition,
					"%s × %s must be rejected", state, ev)
				continue
			}
			require.NoError(t, err, "%s × %s", state, ev)
			assert.Equal(t, want, next.State)
			assert.Equal(t, now, next.UpdatedAt)
		}
	}
}

func TestApplyStampsStepTimestamps(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p := onboarding.NewProgress(uuid.New(), now.Add(-time.Hour))

	steps := []struct {
		event onboarding.Event
		stamp func(onboarding.Progress) *time.Time
	}{
		{onboarding.EventConfigureCompany, func(p onboarding.Progress) *time.Time { return p.CompanyConfiguredAt }},
		{onboarding.EventAddFirstClient, func(p onboarding.Progress) *time.Time { return p.FirstClientAt }},
		{onboarding.EventSendFirstInvoice, func(p onboarding.Progress) *time.Time { return p.FirstInvoiceAt }},
		{onboarding.EventComplete, func(p onboarding.Progress) *time.Time { return p.CompletedAt }},
	}

	for _, step := range steps {
		var err error
		p, err = onboarding.Apply(p, step.event, now)
		require.NoError(t, err)
		stamped := step.stamp(p)
		require.NotNil(t, stamped)
		assert.Equal(t, now, *stamped)
	}
	assert.Equal(t, onboarding.StateCompleted, p.State)
}

func TestCompletedIsTerminal(t *testing.T) {
	p := onboarding.Progress{AccountID: uuid.New(), State: onboarding.StateCompleted}
	for _, ev := range allEvents {
		_, err := onboarding.Apply(p, ev, time.Now())
		require.ErrorIs(t, err, onboarding.ErrInvalidTransition)
	}
}

func TestEventsCannotSkipSteps(t *testing.T) {
	p := onboarding.NewProgress(uuid.New(), time.Now())
	_, err := onboarding.Apply(p, onboarding.EventSendFirstInvoice, time.Now())
	require.ErrorIs(t, err, onboarding.ErrInvalidTransition)
}

func TestParseEvent(t *testing.T) {
	ev, err := onboarding.ParseEvent("CONFIGURE_COMPANY")
	require.NoError(t, err)
	assert.Equal(t, onboarding.EventConfigureCompany, ev)

	_, err = onboarding.ParseEvent("FINISH")
	assert.Error(t, err)
}
