// Package hours decides when outbound calls are admissible.
package hours

import (
	"fmt"
	"time"

	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

// Window is the daily calling interval, in zoned hours. A timestamp is
// admissible when its hour falls in [StartHour, EndHour).
type Window struct {
	StartHour int
	EndHour   int
}

// Policy evaluates timestamps against a timezone-aware operating window and
// a set of closed weekdays. It is pure: no clocks, no side effects.
type Policy struct {
	location *time.Location
	window   Window
	closed   map[time.Weekday]bool
}

// NewPolicy builds a policy. At least one weekday must remain open so that
// NextAdmissible always terminates.
func NewPolicy(tz string, window Window, closedDays []time.Weekday) (*Policy, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid time zone %q: %v", apperrors.ErrValidation, tz, err)
	}
	if window.StartHour < 0 || window.EndHour > 24 || window.StartHour >= window.EndHour {
		return nil, fmt.Errorf("%w: operating window [%d, %d) is empty", apperrors.ErrValidation, window.StartHour, window.EndHour)
	}
	closed := make(map[time.Weekday]bool, len(closedDays))
	for _, d := range closedDays {
		closed[d] = true
	}
	if len(closed) >= 7 {
		return nil, fmt.Errorf("%w: every weekday is closed", apperrors.ErrValidation)
	}
	return &Policy{location: loc, window: window, closed: closed}, nil
}

// Admissible reports whether a call may be placed at t.
func (p *Policy) Admissible(t time.Time) bool {
	local := t.In(p.location)
	if p.closed[local.Weekday()] {
		return false
	}
	h := local.Hour()
	return h >= p.window.StartHour && h < p.window.EndHour
}

// NextAdmissible returns the earliest admissible timestamp at or after t.
// Before the window it snaps to the same-day start; at or past the end it
// moves to the next day's start; closed days are skipped. Bounded by seven
// day-advances since at least one weekday is open.
func (p *Policy) NextAdmissible(t time.Time) time.Time {
	if p.Admissible(t) {
		return t
	}

	local := t.In(p.location)
	candidate := local
	if local.Hour() >= p.window.StartHour {
		candidate = candidate.AddDate(0, 0, 1)
	}
	candidate = p.atWindowStart(candidate)

	for p.closed[candidate.Weekday()] {
		candidate = p.atWindowStart(candidate.AddDate(0, 0, 1))
	}
	return candidate
}

func (p *Policy) atWindowStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), p.window.StartHour, 0, 0, 0, p.location)
}
