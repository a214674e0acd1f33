package model

import "time"

// Payment statuses.
const (
	PaymentPending  = "PENDING"
	PaymentPaid     = "PAID"
	PaymentFailed   = "FAILED"
	PaymentRefunded = "REFUNDED"
)

// Payment records one charge attempt against a booking at the payment
// processor.  ProviderRef is the processor's charge id.
type Payment struct {
	ID           uint64    `json:"id"`
	BookingID    uint64    `json:"booking_id"`
	UserID       uint64    `json:"user_id"`
	Provider     string    `json:"provider"`
	ProviderRef  string    `json:"provider_ref"`
	AmountCents  uint32    `json:"amount_cents"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	AuthorizeURI string    `json:"authorize_uri,omitempty"`
	FailureCode  *string   `json:"failure_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
