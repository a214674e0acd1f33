package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/sportsbook/internal/model"
)

// ErrInvalidFacility wraps every rejection returned by ValidateFacility.
var ErrInvalidFacility = errors.New("invalid facility")

// Slot length bounds in minutes.
const (
	MinSlotMinutes = 15
	MaxSlotMinutes = 240
)

// ValidateFacility checks the opening window, slot grid, prices and
// timezone of f.
func ValidateFacility(f model.Facility) error {
	if f.OpenMinute < 0 || f.CloseMinute > 24*60 || f.OpenMinute >= f.CloseMinute {
		return fmt.Errorf("%w: open_minute must be before close_minute within one day", ErrInvalidFacility)
	}
	if f.SlotMinutes < MinSlotMinutes || f.SlotMinutes > MaxSlotMinutes {
		return fmt.Errorf("%w: slot_minutes must be between %d and %d", ErrInvalidFacility, MinSlotMinutes, MaxSlotMinutes)
	}
	if (f.CloseMinute-f.OpenMinute)%f.SlotMinutes != 0 {
		return fmt.Errorf("%w: slot_minutes must divide the opening window", ErrInvalidFacility)
	}
	if f.PricePerHourCents == 0 {
		return fmt.Errorf("%w: price_per_hour_cents must be positive", ErrInvalidFacility)
	}
	if f.WeekendPricePerHourCents != nil && *f.WeekendPricePerHourCents == 0 {
		return fmt.Errorf("%w: weekend_price_per_hour_cents must be positive", ErrInvalidFacility)
	}
	if _, err := time.LoadLocation(f.Timezone); err != nil || f.Timezone == "" {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidFacility, f.Timezone)
	}
	return nil
}

// Occupancy is booked/open clamped to [0, 1]; zero when nothing was open.
func Occupancy(booked, open int64) float64 {
	if open <= 0 || booked <= 0 {
		return 0
	}
	if booked >= open {
		return 1
	}
	return float64(booked) / float64(open)
}
