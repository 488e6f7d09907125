package domain

import (
	"fmt"
	"slices"
)

// TripStatus is the closed set of lifecycle states a trip moves through.
type TripStatus string

const (
	StatusDraft             TripStatus = "DRAFT"
	StatusPublished         TripStatus = "PUBLISHED"
	StatusOffered           TripStatus = "OFFERED"
	StatusFull              TripStatus = "FULL"
	StatusInProgress        TripStatus = "IN_PROGRESS"
	StatusDeparted          TripStatus = "DEPARTED"
	StatusEnRoute           TripStatus = "EN_ROUTE"
	StatusDriverArrived     TripStatus = "DRIVER_ARRIVED"
	StatusPassengersBoarded TripStatus = "PASSENGERS_BOARDED"
	StatusInTransit         TripStatus = "IN_TRANSIT"
	StatusDelayed           TripStatus = "DELAYED"
	StatusArrived           TripStatus = "ARRIVED"
	StatusCompleted         TripStatus = "COMPLETED"
	StatusCancelled         TripStatus = "CANCELLED"
)

// transitions lists, for every status, the statuses it may move to.
// Anything absent is illegal. Terminal statuses map to an empty set.
var transitions = map[TripStatus][]TripStatus{
	StatusDraft:             {StatusPublished},
	StatusPublished:         {StatusOffered, StatusFull, StatusCancelled},
	StatusOffered:           {StatusPublished, StatusInProgress, StatusCancelled},
	StatusFull:              {StatusInProgress, StatusCancelled},
	StatusInProgress:        {StatusDeparted, StatusEnRoute, StatusDriverArrived, StatusDelayed, StatusCancelled},
	StatusDeparted:          {StatusEnRoute, StatusDriverArrived, StatusDelayed, StatusCancelled},
	StatusEnRoute:           {StatusDriverArrived, StatusDelayed, StatusCancelled},
	StatusDriverArrived:     {StatusPassengersBoarded, StatusDelayed, StatusCancelled},
	StatusPassengersBoarded: {StatusInTransit, StatusDelayed, StatusCancelled},
	StatusInTransit:         {StatusArrived, StatusDelayed, StatusCancelled},
	// A delay resolves back into whichever phase the trip was held up in.
	StatusDelayed:   {StatusDeparted, StatusEnRoute, StatusDriverArrived, StatusPassengersBoarded, StatusInTransit, StatusArrived, StatusCancelled},
	StatusArrived:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []TripStatus {
	return []TripStatus{
		StatusDraft, StatusPublished, StatusOffered, StatusFull, StatusInProgress,
		StatusDeparted, StatusEnRoute, StatusDriverArrived, StatusPassengersBoarded,
		StatusInTransit, StatusDelayed, StatusArrived, StatusCompleted, StatusCancelled,
	}
}

// ParseTripStatus converts a raw string into a TripStatus.
// Unknown values are a validation error rather than a zero status.
func ParseTripStatus(s string) (TripStatus, error) {
	st := TripStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown trip status %q", ErrValidation, s)
	}
	return st, nil
}

// Valid reports whether s is one of the enumerated statuses.
func (s TripStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible from s.
func (s TripStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the table allows s -> to.
func (s TripStatus) CanTransitionTo(to TripStatus) bool {
	return slices.Contains(transitions[s], to)
}

// NextStatuses returns a copy of the statuses reachable from s in one step.
func (s TripStatus) NextStatuses() []TripStatus {
	return slices.Clone(transitions[s])
}

// CheckTransition returns nil when from -> to is in the lifecycle table and a
// wrapped ErrIllegalTransition otherwise. Unknown statuses always fail.
func CheckTransition(from, to TripStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsBookable reports whether passengers may reserve seats in status s.
func (s TripStatus) IsBookable() bool {
	return s == StatusPublished
}

// AllowsBookingCancellation reports whether seats can still be handed back.
// Once a trip is under way the seat ledger is frozen.
func (s TripStatus) AllowsBookingCancellation() bool {
	switch s {
	case StatusPublished, StatusOffered, StatusFull:
		return true
	}
	return false
}
