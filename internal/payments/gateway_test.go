package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	stripe "github.com/stripe/stripe-go/v74"
)

func TestOfflineChargeIsKeyedByRide(t *testing.T) {
	var o Offline
	ctx := context.Background()
	a, err := o.Charge(ctx, ChargeRequest{RideID: "r1", Amount: 1750})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := o.Charge(ctx, ChargeRequest{RideID: "r1", Amount: 1750})
	c, _ := o.Charge(ctx, ChargeRequest{RideID: "r2", Amount: 900})
	if a != b || !strings.HasPrefix(a, "offline_r1_") {
		t.Fatalf("repeat charge for r1 gave %q then %q", a, b)
	}
	if c == a {
		t.Fatalf("different rides share ref %q", c)
	}
	if _, err := o.Charge(ctx, ChargeRequest{RideID: "r3", Amount: -1}); err == nil {
		t.Fatal("expected negative amount to fail")
	}
}

type stripeCall struct {
	path, idempotencyKey string
	form                 map[string]string
}

// fakeStripe answers the PaymentIntent and Refund endpoints the client uses.
type fakeStripe struct {
	mu         sync.Mutex
	calls      []stripeCall
	holdStatus string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k, v := range r.PostForm {
		form[k] = v[0]
	}
	f.mu.Lock()
	f.calls = append(f.calls, stripeCall{path: r.URL.Path, idempotencyKey: r.Header.Get("Idempotency-Key"), form: form})
	status := f.holdStatus
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/payment_intents":
		if status == "" {
			status = "requires_capture"
		}
		fmt.Fprintf(w, `{"id":"pi_1","object":"payment_intent","amount":%s,"status":%q}`, form["amount"], status)
	case "/v1/payment_intents/pi_1/capture":
		fmt.Fprint(w, `{"id":"pi_1","object":"payment_intent","status":"succeeded"}`)
	case "/v1/payment_intents/pi_1/cancel":
		fmt.Fprint(w, `{"id":"pi_1","object":"payment_intent","status":"canceled"}`)
	case "/v1/refunds":
		fmt.Fprint(w, `{"id":"re_1","object":"refund","status":"succeeded"}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeStripe) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.path
	}
	return out
}

func newStripeTest(t *testing.T, f *fakeStripe) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	prev := stripe.GetBackend(stripe.APIBackend)
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(0),
	}))
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, prev) })
	return NewStripeClient("sk_test_123", "usd")
}

func TestStripeChargeConfirmsThenCaptures(t *testing.T) {
	f := &fakeStripe{}
	c := newStripeTest(t, f)

	ref, err := c.Charge(context.Background(), ChargeRequest{RideID: "r1", Amount: 1750, PaymentMethod: "pm_card_visa"})
	if err != nil {
		t.Fatal(err)
	}
	if ref != "pi_1" {
		t.Fatalf("ref = %q", ref)
	}
	got := f.paths()
	if len(got) != 2 || got[0] != "/v1/payment_intents" || got[1] != "/v1/payment_intents/pi_1/capture" {
		t.Fatalf("calls = %v", got)
	}
	hold := f.calls[0]
	for k, want := range map[string]string{
		"amount":            "1750",
		"currency":          "usd",
		"payment_method":    "pm_card_visa",
		"confirm":           "true",
		"capture_method":    "manual",
		"metadata[ride_id]": "r1",
	} {
		if hold.form[k] != want {
			t.Errorf("hold %s = %q, want %q", k, hold.form[k], want)
		}
	}
	if hold.idempotencyKey != "hold:r1" {
		t.Errorf("hold idempotency key = %q", hold.idempotencyKey)
	}
	if f.calls[1].idempotencyKey != "capture:pi_1" {
		t.Errorf("capture idempotency key = %q", f.calls[1].idempotencyKey)
	}
}

func TestStripeChargeReleasesUncapturableIntent(t *testing.T) {
	f := &fakeStripe{holdStatus: "requires_action"}
	c := newStripeTest(t, f)

	if _, err := c.Charge(context.Background(), ChargeRequest{RideID: "r1", Amount: 1750, PaymentMethod: "pm_3ds"}); err == nil {
		t.Fatal("expected error for an intent that needs customer action")
	}
	got := f.paths()
	if len(got) != 2 || got[1] != "/v1/payment_intents/pi_1/cancel" {
		t.Fatalf("calls = %v", got)
	}
}

func TestStripeChargeNeedsPaymentMethod(t *testing.T) {
	f := &fakeStripe{}
	c := newStripeTest(t, f)

	_, err := c.Charge(context.Background(), ChargeRequest{RideID: "r1", Amount: 1750})
	if !errors.Is(err, ErrPaymentMethodRequired) {
		t.Fatalf("err = %v", err)
	}
	if len(f.paths()) != 0 {
		t.Fatalf("no request expected, got %v", f.paths())
	}
}

func TestStripeRefundKeyedByRide(t *testing.T) {
	f := &fakeStripe{}
	c := newStripeTest(t, f)

	if err := c.Refund(context.Background(), "r1", "pi_1"); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 1 || f.calls[0].path != "/v1/refunds" {
		t.Fatalf("calls = %v", f.paths())
	}
	if f.calls[0].form["payment_intent"] != "pi_1" || f.calls[0].idempotencyKey != "refund:r1" {
		t.Fatalf("refund call = %+v", f.calls[0])
	}
}

var _ Gateway = (*StripeClient)(nil)
var _ Gateway = (*Offline)(nil)
