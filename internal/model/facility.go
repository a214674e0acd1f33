package model

import "time"

// Facility is a bookable sports venue (a pitch, a court, a hall) managed by
// a MANAGER user.  Opening hours are expressed in minutes since local
// midnight in the facility's IANA Timezone; the day is cut into slots of
// SlotMinutes starting at OpenMinute.
type Facility struct {
	ID                       uint64    `json:"id"`
	ManagerID                uint64    `json:"manager_id"`
	Name                     string    `json:"name"`
	Sport                    string    `json:"sport"`
	City                     string    `json:"city"`
	Address                  string    `json:"address"`
	Description              *string   `json:"description,omitempty"`
	Timezone                 string    `json:"timezone"`
	OpenMinute               int       `json:"open_minute"`
	CloseMinute              int       `json:"close_minute"`
	SlotMinutes              int       `json:"slot_minutes"`
	PricePerHourCents        uint32    `json:"price_per_hour_cents"`
	WeekendPricePerHourCents *uint32   `json:"weekend_price_per_hour_cents,omitempty"`
	Currency                 string    `json:"currency"`
	IsActive                 bool      `json:"is_active"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Location resolves the facility timezone, falling back to UTC when the
// stored name cannot be loaded.
func (f Facility) Location() *time.Location {
	if f.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
