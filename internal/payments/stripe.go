package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
)

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct {
	currency string
}

// NewStripeClient initializes the stripe client with the given secret key.
func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeClient{currency: currency}
}

// Hold creates and confirms a PaymentIntent with capture_method=manual so the
// funds are authorized but not taken. It returns the PaymentIntent ID once
// the intent is capturable.
func (s *StripeClient) Hold(ctx context.Context, amount int64, paymentMethodID, rideID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(s.currency),
		PaymentMethod:      stripe.String(paymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	if rideID != "" {
		params.AddMetadata("ride_id", rideID)
		params.SetIdempotencyKey("hold:" + rideID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		_ = s.Cancel(ctx, pi.ID)
		return "", fmt.Errorf("payment intent %s is %s, not capturable", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("capture:" + paymentIntentID)
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}

// Charge holds and immediately captures the fare; a failed capture releases the hold.
func (s *StripeClient) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if req.PaymentMethod == "" {
		return "", ErrPaymentMethodRequired
	}
	id, err := s.Hold(ctx, req.Amount, req.PaymentMethod, req.RideID)
	if err != nil {
		return "", err
	}
	if err := s.Capture(ctx, id); err != nil {
		_ = s.Cancel(ctx, id)
		return "", err
	}
	return id, nil
}

func (s *StripeClient) Refund(ctx context.Context, rideID, paymentIntentID string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	params.SetIdempotencyKey("refund:" + rideID)
	_, err := refund.New(params)
	return err
}
