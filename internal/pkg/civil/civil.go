// Package civil resolves calendar-day boundaries in one fixed time zone.
// Daily resets (spins, game win caps) all go through the same Clock so the
// read side and the write side can never disagree about what "today" is.
package civil

import (
	"fmt"
	"time"
)

// Clock resolves civil dates in a fixed time zone.
// The zero value is not usable; construct with NewClock.
type Clock struct {
	loc *time.Location

	// now is replaceable in tests.
	now func() time.Time
}

// NewClock creates a Clock for the named IANA time zone.
func NewClock(tz string) (*Clock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", tz, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// NewClockAt creates a Clock with an injected time source. Used in tests.
func NewClockAt(tz string, now func() time.Time) (*Clock, error) {
	c, err := NewClock(tz)
	if err != nil {
		return nil, err
	}
	c.now = now
	return c, nil
}

// Now returns the current instant in the clock's zone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns midnight of the current civil day in the clock's zone.
func (c *Clock) Today() time.Time {
	return Midnight(c.Now())
}

// NextMidnight returns the start of the next civil day in the clock's zone.
func (c *Clock) NextMidnight() time.Time {
	return Midnight(c.Now()).AddDate(0, 0, 1)
}

// Location returns the clock's time zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Midnight truncates t to the start of its civil day, keeping its zone.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same civil day once both are
// viewed in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
