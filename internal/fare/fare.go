// Package fare estimates and validates ride fares. It is stateless: the
// rate table is handed to New and never changes afterwards.
package fare

import (
	"fmt"
	"math"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

const (
	DefaultBaseRate  = 2.5
	DefaultPerKmRate = 1.5
	DefaultMaxFare   = 10000
)

type Rates struct {
	Base  float64
	PerKm float64
	// Max caps a driver-submitted actual fare; 0 disables the cap.
	Max float64
	// TrafficFactor scales quoted travel minutes; 0 is read as 1.
	TrafficFactor float64
}

func DefaultRates() Rates {
	return Rates{Base: DefaultBaseRate, PerKm: DefaultPerKmRate, Max: DefaultMaxFare, TrafficFactor: 1}
}

func (r Rates) Validate() error {
	switch {
	case !finite(r.Base) || r.Base < 0:
		return fmt.Errorf("base rate must be a non-negative number, got %v", r.Base)
	case !finite(r.PerKm) || r.PerKm < 0:
		return fmt.Errorf("per-km rate must be a non-negative number, got %v", r.PerKm)
	case !finite(r.Max) || r.Max < 0:
		return fmt.Errorf("max fare must be a non-negative number, got %v", r.Max)
	case !finite(r.TrafficFactor) || r.TrafficFactor < 0:
		return fmt.Errorf("traffic factor must be a non-negative number, got %v", r.TrafficFactor)
	}
	return nil
}

// Estimate is base + distance*perKm.
func Estimate(distanceKm, base, perKm float64) float64 {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	return base + distanceKm*perKm
}

type Estimator struct {
	rates Rates
}

func New(r Rates) (*Estimator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{rates: r}, nil
}

func (e *Estimator) Rates() Rates { return e.rates }

func (e *Estimator) Estimate(distanceKm float64) float64 {
	return Estimate(distanceKm, e.rates.Base, e.rates.PerKm)
}

// Quote is a priced straight-line trip.
type Quote struct {
	DistanceKm float64 `json:"distance_km"`
	Minutes    float64 `json:"estimated_minutes"`
	Fare       float64 `json:"estimated_fare"`
	BaseFare   float64 `json:"base_fare"`
	KmFare     float64 `json:"distance_fare"`
}

func (e *Estimator) Quote(pickup, dropoff models.Coord) (Quote, error) {
	if !geo.Valid(pickup) || !geo.Valid(dropoff) {
		return Quote{}, apperr.Validation("fare quote", "coordinates out of range")
	}
	d := geo.DistanceKm(pickup, dropoff)
	return e.QuoteDistance(d), nil
}

func (e *Estimator) QuoteDistance(distanceKm float64) Quote {
	return Quote{
		DistanceKm: distanceKm,
		Minutes:    e.TravelMinutes(distanceKm),
		Fare:       e.Estimate(distanceKm),
		BaseFare:   e.rates.Base,
		KmFare:     distanceKm * e.rates.PerKm,
	}
}

// TravelMinutes is the flat-speed drive time under the configured traffic factor.
func (e *Estimator) TravelMinutes(distanceKm float64) float64 {
	f := e.rates.TrafficFactor
	if f == 0 {
		f = 1
	}
	return geo.TravelMinutes(distanceKm) * f
}

// ValidateActual checks a driver-submitted fare. The value is trusted, not recomputed.
func (e *Estimator) ValidateActual(v float64) error {
	if !finite(v) {
		return apperr.Validation("complete", "actual fare must be a finite number")
	}
	if v < 0 {
		return apperr.Validation("complete", "actual fare cannot be negative")
	}
	if e.rates.Max > 0 && v > e.rates.Max {
		return apperr.Validation("complete", "actual fare cannot exceed %.2f", e.rates.Max)
	}
	return nil
}

// Cents converts a fare to the smallest currency unit for payment gateways.
func Cents(v float64) int64 { return int64(math.Round(v * 100)) }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
