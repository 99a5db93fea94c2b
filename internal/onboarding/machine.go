// Package onboarding tracks the guided setup steps of a new account as a
// closed state machine rather than free-form step flags.
package onboarding

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a stage of the onboarding funnel.
type State string

const (
	StateCreated           State = "CREATED"
	StateCompanyConfigured State = "COMPANY_CONFIGURED"
	StateFirstClientAdded  State = "FIRST_CLIENT_ADDED"
	StateFirstInvoiceSent  State = "FIRST_INVOICE_SENT"
	StateCompleted         State = "COMPLETED"
)

// Event is a user action that can move the funnel forward.
type Event string

const (
	EventConfigureCompany Event = "CONFIGURE_COMPANY"
	EventAddFirstClient   Event = "ADD_FIRST_CLIENT"
	EventSendFirstInvoice Event = "SEND_FIRST_INVOICE"
	EventComplete         Event = "COMPLETE"
)

// ErrInvalidTransition is returned when the event is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("invalid onboarding transition")

// Progress is the persisted onboarding record of one account.
type Progress struct {
	AccountID           uuid.UUID  `json:"accountId"`
	State               State      `json:"state"`
	CompanyConfiguredAt *time.Time `json:"companyConfiguredAt,omitempty"`
	FirstClientAt       *time.Time `json:"firstClientAt,omitempty"`
	FirstInvoiceAt      *time.Time `json:"firstInvoiceAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

type transition struct {
	next  State
	stamp func(*Progress, time.Time)
}

// transitions is the closed table of allowed moves. Anything absent here is
// rejected; there is no fallthrough.
var transitions = map[State]map[Event]transition{
	StateCreated: {
		EventConfigureCompany: {
			next:  StateCompanyConfigured,
			stamp: func(p *Progress, t time.Time) { p.CompanyConfiguredAt = &t },
		},
	},
	StateCompanyConfigured: {
		EventAddFirstClient: {
			next:  StateFirstClientAdded,
			stamp: func(p *Progress, t time.Time) { p.FirstClientAt = &t },
		},
	},
	StateFirstClientAdded: {
		EventSendFirstInvoice: {
			next:  StateFirstInvoiceSent,
			stamp: func(p *Progress, t time.Time) { p.FirstInvoiceAt = &t },
		},
	},
	StateFirstInvoiceSent: {
		EventComplete: {
			next:  StateCompleted,
			stamp: func(p *Progress, t time.Time) { p.CompletedAt = &t },
		},
	},
	StateCompleted: {},
}

// ParseEvent normalises an event name.
func ParseEvent(s string) (Event, error) {
	ev := Event(s)
	switch ev {
	case EventConfigureCompany, EventAddFirstClient, EventSendFirstInvoice, EventComplete:
		return ev, nil
	}
	return "", fmt.Errorf("unknown onboarding event %q", s)
}

// Apply moves p through the table. It returns the updated progress or
// ErrInvalidTransition when the event is not allowed in the current state.
func Apply(p Progress, ev Event, now time.Time) (Progress, error) {
	allowed, ok := transitions[p.State]
	if !ok {
		return Progress{}, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, p.State)
	}
	tr, ok := allowed[ev]
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s does not accept %s", ErrInvalidTransition, p.State, ev)
	}
	p.State = tr.next
	tr.stamp(&p, now)
	p.UpdatedAt = now
	return p, nil
}

// NewProgress returns the initial record for an account.
func NewProgress(accountID uuid.UUID, now time.Time) Progress {
	return Progress{
		AccountID: accountID,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
