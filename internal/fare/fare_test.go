package fare

import (
	"errors"
	"math"
	"testing"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/models"
)

func TestEstimateDefaults(t *testing.T) {
	e, err := New(DefaultRates())
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Estimate(10); got != 17.5 {
		t.Fatalf("Estimate(10) = %v, want 17.5", got)
	}
	if got := e.Estimate(0); got != 2.5 {
		t.Fatalf("Estimate(0) = %v, want 2.5", got)
	}
	if got := e.Estimate(-3); got != 2.5 {
		t.Fatalf("negative distance should price as base, got %v", got)
	}
}

func TestEstimateCustomRates(t *testing.T) {
	if got := Estimate(4, 1, 2); got != 9 {
		t.Fatalf("got %v", got)
	}
	if _, err := New(Rates{Base: -1}); err == nil {
		t.Fatal("expected negative base rate to be rejected")
	}
}

func TestValidateActual(t *testing.T) {
	e, _ := New(DefaultRates())
	cases := []struct {
		v  float64
		ok bool
	}{
		{0, true},
		{25.4, true},
		{10000, true},
		{10000.01, false},
		{-0.01, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	}
	for _, c := range cases {
		err := e.ValidateActual(c.v)
		if (err == nil) != c.ok {
			t.Errorf("ValidateActual(%v) = %v, want ok=%v", c.v, err, c.ok)
		}
		if err != nil && !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("ValidateActual(%v) kind = %v", c.v, apperr.KindOf(err))
		}
	}
}

func TestQuote(t *testing.T) {
	e, _ := New(DefaultRates())
	q, err := e.Quote(models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 0})
	if err != nil {
		t.Fatal(err)
	}
	if q.Fare != 2.5 || q.Minutes != 0 {
		t.Fatalf("unexpected quote %+v", q)
	}
	if _, err := e.Quote(models.Coord{Lat: 91}, models.Coord{}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if Cents(17.5) != 1750 {
		t.Fatalf("Cents(17.5) = %d", Cents(17.5))
	}
}

func TestQuoteAppliesTrafficFactor(t *testing.T) {
	rates := DefaultRates()
	rates.TrafficFactor = 1.5
	e, err := New(rates)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.QuoteDistance(100).Minutes; math.Abs(got-180) > 1e-9 {
		t.Fatalf("minutes = %v, want 180", got)
	}
	plain, _ := New(Rates{Base: 1, PerKm: 1})
	if got := plain.TravelMinutes(100); math.Abs(got-120) > 1e-9 {
		t.Fatalf("zero factor should read as 1, got %v", got)
	}
	if _, err := New(Rates{TrafficFactor: math.NaN()}); err == nil {
		t.Fatal("expected NaN traffic factor to be rejected")
	}
}
