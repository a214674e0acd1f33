package model

import "time"

// Booking statuses.  PENDING bookings hold their slots until ExpiresAt;
// PENDING and CONFIRMED bookings are the "active" set that may never
// overlap on one facility.
const (
	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
	BookingExpired   = "EXPIRED"
	BookingCompleted = "COMPLETED"
)

// Booking reserves a facility for the half-open range [StartsAt, EndsAt).
// All timestamps are UTC.
type Booking struct {
	ID               uint64     `json:"id"`
	UserID           uint64     `json:"user_id"`
	FacilityID       uint64     `json:"facility_id"`
	StartsAt         time.Time  `json:"starts_at"`
	EndsAt           time.Time  `json:"ends_at"`
	Status           string     `json:"status"`
	TotalAmountCents uint32     `json:"total_amount_cents"`
	Currency         string     `json:"currency"`
	HoldToken        string     `json:"hold_token,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsActive reports whether the booking currently blocks its time range.
func (b *Booking) IsActive(now time.Time) bool {
	switch b.Status {
	case BookingConfirmed:
		return true
	case BookingPending:
		return b.ExpiresAt == nil || b.ExpiresAt.After(now)
	}
	return false
}

// BookingDetail is a booking joined with the facility it belongs to.
type BookingDetail struct {
	Booking
	FacilityName string `json:"facility_name"`
	Sport        string `json:"sport"`
	City         string `json:"city"`
	PaymentState string `json:"payment_status,omitempty"`
}
