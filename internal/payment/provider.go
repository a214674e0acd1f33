// Package payment wraps the payment processor behind a small interface so
// handlers can be tested without network access.
package payment

import (
	"context"
	"errors"
)

// Charge statuses reported by the processor.
const (
	StatusPending    = "pending"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
	StatusReversed   = "reversed"
)

// EventChargeComplete is the only webhook event key acted upon.
const EventChargeComplete = "charge.complete"

// ErrProvider wraps every failure talking to the processor.
var ErrProvider = errors.New("payment provider error")

// ErrDisabled is returned when no processor credentials are configured.
var ErrDisabled = errors.New("payments are not configured")

// ChargeInput describes a charge for one booking.
type ChargeInput struct {
	BookingID   uint64
	AmountCents int64
	Currency    string
	SourceType  string
	ReturnURI   string
}

// Charge is the processor-neutral view of a charge.
type Charge struct {
	ID           string
	Status       string
	AmountCents  int64
	Currency     string
	AuthorizeURI string
	FailureCode  string
	BookingID    uint64
}

// Final reports whether the charge will not change status any more.
func (c Charge) Final() bool {
	switch c.Status {
	case StatusSuccessful, StatusFailed, StatusExpired, StatusReversed:
		return true
	}
	return false
}

// Event is a webhook event re-fetched from the processor.
type Event struct {
	ID     string
	Key    string
	Charge *Charge
}

// Provider is implemented by payment processor clients.
type Provider interface {
	Name() string
	CreateCharge(ctx context.Context, in ChargeInput) (Charge, error)
	RetrieveCharge(ctx context.Context, chargeID string) (Charge, error)
	RetrieveEvent(ctx context.Context, eventID string) (Event, error)
	Refund(ctx context.Context, chargeID string, amountCents int64) error
}
