// Package service holds the booking rules, scoring and event publishing
// shared by the HTTP handlers and the worker.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/sportsbook/internal/model"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether a and b share any instant.  Touching ranges do
// not overlap.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// ErrInvalidSlot wraps every rejection returned by SlotRules.Validate.
var ErrInvalidSlot = errors.New("invalid slot")

// DefaultMaxSlots bounds a booking when SlotRules.MaxSlots is unset.
const DefaultMaxSlots = 8

// SlotRules decides whether a requested range is bookable on a facility.
type SlotRules struct {
	MaxSlots int
	Now      func() time.Time
}

func (r SlotRules) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r SlotRules) maxSlots() int {
	if r.MaxSlots < 1 {
		return DefaultMaxSlots
	}
	return r.MaxSlots
}

// DayWindow returns the opening and closing instants of f on the local
// calendar day containing t.
func DayWindow(f model.Facility, t time.Time) (openAt, closeAt time.Time) {
	loc := f.Location()
	lt := t.In(loc)
	y, m, d := lt.Date()
	openAt = time.Date(y, m, d, 0, f.OpenMinute, 0, 0, loc)
	closeAt = time.Date(y, m, d, 0, f.CloseMinute, 0, 0, loc)
	return openAt, closeAt
}

// Validate checks [start, end) against the facility's opening hours and
// slot grid and returns the number of slots it spans.
func (r SlotRules) Validate(f model.Facility, start, end time.Time) (int, error) {
	if f.SlotMinutes <= 0 {
		return 0, fmt.Errorf("%w: facility has no slot length", ErrInvalidSlot)
	}
	if !end.After(start) {
		return 0, fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidSlot)
	}
	if !start.After(r.now()) {
		return 0, fmt.Errorf("%w: starts_at must be in the future", ErrInvalidSlot)
	}
	openAt, closeAt := DayWindow(f, start)
	if start.Before(openAt) || end.After(closeAt) {
		return 0, fmt.Errorf("%w: outside opening hours", ErrInvalidSlot)
	}
	slot := time.Duration(f.SlotMinutes) * time.Minute
	if start.Sub(openAt)%slot != 0 || end.Sub(start)%slot != 0 {
		return 0, fmt.Errorf("%w: not aligned to %d minute slots", ErrInvalidSlot, f.SlotMinutes)
	}
	n := int(end.Sub(start) / slot)
	if n > r.maxSlots() {
		return 0, fmt.Errorf("%w: at most %d slots per booking", ErrInvalidSlot, r.maxSlots())
	}
	return n, nil
}

// HourlyRate returns the hourly price that applies to a slot starting at t.
// The weekend rate applies on local Saturdays and Sundays when set.
func HourlyRate(f model.Facility, t time.Time) uint32 {
	if f.WeekendPricePerHourCents != nil {
		switch t.In(f.Location()).Weekday() {
		case time.Saturday, time.Sunday:
			return *f.WeekendPricePerHourCents
		}
	}
	return f.PricePerHourCents
}

// SlotPrice is the price of one slot starting at t, rounded to the nearest
// cent.
func SlotPrice(f model.Facility, t time.Time) uint32 {
	return uint32((uint64(HourlyRate(f, t))*uint64(f.SlotMinutes) + 30) / 60)
}

// Price sums the slot prices of [start, end).  The range is assumed to be
// validated.
func Price(f model.Facility, start, end time.Time) uint32 {
	if f.SlotMinutes <= 0 {
		return 0
	}
	slot := time.Duration(f.SlotMinutes) * time.Minute
	var total uint32
	for t := start; t.Before(end); t = t.Add(slot) {
		total += SlotPrice(f, t)
	}
	return total
}

// Slot is one cell of a facility's daily grid.
type Slot struct {
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	PriceCents uint32    `json:"price_cents"`
	Available  bool      `json:"available"`
}

// BuildDaySlots lays out every slot of f on the local day containing day.
// A slot is unavailable when it has already started or intersects a busy
// interval.
func BuildDaySlots(f model.Facility, day time.Time, busy []Interval, now time.Time) []Slot {
	if f.SlotMinutes <= 0 {
		return []Slot{}
	}
	openAt, closeAt := DayWindow(f, day)
	slot := time.Duration(f.SlotMinutes) * time.Minute
	out := []Slot{}
	for t := openAt; !t.Add(slot).After(closeAt); t = t.Add(slot) {
		s := Slot{StartsAt: t.UTC(), EndsAt: t.Add(slot).UTC(), PriceCents: SlotPrice(f, t), Available: t.After(now)}
		if s.Available {
			cell := Interval{Start: t, End: t.Add(slot)}
			for _, b := range busy {
				if cell.Overlaps(b) {
					s.Available = false
					break
				}
			}
		}
		out = append(out, s)
	}
	return out
}

// ParseLocalDate parses YYYY-MM-DD as midnight in loc.
func ParseLocalDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, loc)
}
