package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// ProviderOmise is the value stored in payments.provider.
const ProviderOmise = "omise"

// Omise implements Provider on top of the Omise API.  Charges are created
// from a freshly created source of the requested type, so redirect-based
// methods return an authorize URI for the client to follow.
type Omise struct {
	client *omise.Client
}

// NewOmise builds a client from the public and secret keys.
func NewOmise(publicKey, secretKey string) (*Omise, error) {
	if secretKey == "" {
		return nil, ErrDisabled
	}
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("payment.NewOmise: %w", err)
	}
	return &Omise{client: c}, nil
}

func (o *Omise) Name() string { return ProviderOmise }

// call runs one API request unless ctx is already done.  omise-go has no
// per-request context.
func call(ctx context.Context, op string, do func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := do(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrProvider, err)
	}
	return nil
}

// CreateCharge creates a source of in.SourceType and charges it.
func (o *Omise) CreateCharge(ctx context.Context, in ChargeInput) (Charge, error) {
	const op = "payment.Omise.CreateCharge"
	src := &omise.Source{}
	if err := call(ctx, op, func() error {
		return o.client.Do(src, &operations.CreateSource{
			Type:     in.SourceType,
			Amount:   in.AmountCents,
			Currency: in.Currency,
		})
	}); err != nil {
		return Charge{}, err
	}

	ch := &omise.Charge{}
	if err := call(ctx, op, func() error {
		return o.client.Do(ch, &operations.CreateCharge{
			Amount:    in.AmountCents,
			Currency:  in.Currency,
			Source:    src.ID,
			ReturnURI: in.ReturnURI,
			Metadata:  map[string]interface{}{"booking_id": strconv.FormatUint(in.BookingID, 10)},
		})
	}); err != nil {
		return Charge{}, err
	}
	return fromOmise(ch), nil
}

// RetrieveCharge fetches the current state of a charge.
func (o *Omise) RetrieveCharge(ctx context.Context, chargeID string) (Charge, error) {
	ch := &omise.Charge{}
	if err := call(ctx, "payment.Omise.RetrieveCharge", func() error {
		return o.client.Do(ch, &operations.RetrieveCharge{ChargeID: chargeID})
	}); err != nil {
		return Charge{}, err
	}
	return fromOmise(ch), nil
}

// RetrieveEvent re-fetches a webhook event so its payload is never trusted
// from the request body.
func (o *Omise) RetrieveEvent(ctx context.Context, eventID string) (Event, error) {
	const op = "payment.Omise.RetrieveEvent"
	ev := &omise.Event{}
	if err := call(ctx, op, func() error {
		return o.client.Do(ev, &operations.RetrieveEvent{EventID: eventID})
	}); err != nil {
		return Event{}, err
	}
	out := Event{ID: ev.ID, Key: ev.Key}
	if ev.Key != EventChargeComplete {
		return out, nil
	}
	ch, err := chargeFromEventData(ev.Data)
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w", op, err)
	}
	out.Charge = &ch
	return out, nil
}

// Refund refunds amountCents of a charge.
func (o *Omise) Refund(ctx context.Context, chargeID string, amountCents int64) error {
	return call(ctx, "payment.Omise.Refund", func() error {
		return o.client.Do(&omise.Refund{}, &operations.CreateRefund{
			ChargeID: chargeID,
			Amount:   amountCents,
		})
	})
}

func chargeFromEventData(data interface{}) (Charge, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Charge{}, err
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return Charge{}, err
	}
	return fromOmise(&ch), nil
}

func fromOmise(ch *omise.Charge) Charge {
	out := Charge{
		ID:           ch.ID,
		Status:       string(ch.Status),
		AmountCents:  ch.Amount,
		Currency:     ch.Currency,
		AuthorizeURI: ch.AuthorizeURI,
	}
	if ch.FailureCode != nil {
		out.FailureCode = *ch.FailureCode
	}
	if v, ok := ch.Metadata["booking_id"]; ok {
		switch id := v.(type) {
		case string:
			out.BookingID, _ = strconv.ParseUint(id, 10, 64)
		case float64:
			out.BookingID = uint64(id)
		}
	}
	return out
}
