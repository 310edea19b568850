// Package matcher answers the two read-only matching queries: open
// requests near a driver and available drivers near a ride's pickup.
// Results come from a snapshot and may be stale; the registry re-checks
// availability when a driver accepts.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/eta"
	"github.com/example/taxi-dispatch/internal/fare"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

const (
	DefaultRadiusKm = 5.0
	DefaultTopN     = 10
	maxLimit        = 50
)

type Service struct {
	Store storage.Store
	// Positions is an optional driver position index. Without it drivers
	// are scanned from the store.
	Positions       geo.Locator
	Fares           *fare.Estimator
	ETA             eta.Client // optional, flat-speed estimate when nil
	Logger          *slog.Logger
	TopN            int
	DefaultRadiusKm float64
}

// RequestMatch is an open ride seen from a driver's position.
type RequestMatch struct {
	Ride          models.Ride `json:"ride"`
	DistanceKm    float64     `json:"distance_km"`
	PickupMinutes float64     `json:"pickup_minutes"`
	EstimatedFare float64     `json:"estimated_fare"`
}

// DriverMatch is an available driver seen from a ride's pickup.
type DriverMatch struct {
	DriverID   string       `json:"driver_id"`
	VehicleID  string       `json:"vehicle_id,omitempty"`
	Location   models.Coord `json:"location"`
	DistanceKm float64      `json:"distance_km"`
	ETAMinutes float64      `json:"eta_minutes"`
	Rating     float64      `json:"rating"`
}

// NearbyRequests lists requested, unassigned rides whose pickup lies within
// radiusKm of the driver's last known location, nearest first and earliest
// request first on ties.
func (s *Service) NearbyRequests(ctx context.Context, p models.Principal, radiusKm float64) ([]RequestMatch, error) {
	const op = "nearby requests"
	start := time.Now()
	defer observe("nearby_requests", start)

	if err := requireRole(op, p, models.RoleDriver); err != nil {
		return nil, err
	}
	radius, err := s.radius(op, radiusKm)
	if err != nil {
		return nil, err
	}
	driver, err := s.Store.Driver(ctx, p.ID)
	if err != nil {
		return nil, lookupErr(op, "driver", p.ID, err)
	}
	if driver.Location == nil {
		return nil, apperr.Validation(op, "driver location unknown, send a location update first")
	}
	rides, err := s.Store.OpenRides(ctx)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}

	out := make([]RequestMatch, 0)
	for _, ride := range rides {
		if ride.Status != models.StatusRequested || ride.DriverID != "" || ride.Pickup == nil {
			continue
		}
		d := geo.DistanceKm(*driver.Location, *ride.Pickup)
		if d > radius {
			continue
		}
		out = append(out, RequestMatch{Ride: ride, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if !a.Ride.RequestedAt.Equal(b.Ride.RequestedAt) {
			return a.Ride.RequestedAt.Before(b.Ride.RequestedAt)
		}
		return a.Ride.ID < b.Ride.ID
	})

	for i := range out {
		m := &out[i]
		m.PickupMinutes = s.minutes(ctx, *driver.Location, *m.Ride.Pickup)
		if m.Ride.EstimatedFare != nil {
			m.EstimatedFare = *m.Ride.EstimatedFare
			continue
		}
		// no dropoff coordinate: price the approach leg
		tripKm := m.DistanceKm
		if m.Ride.HasRoute() {
			tripKm = geo.DistanceKm(*m.Ride.Pickup, *m.Ride.Dropoff)
		}
		f := s.Fares.Estimate(tripKm)
		m.EstimatedFare = f
		m.Ride.EstimatedFare = &f
	}
	observability.MatchResults.WithLabelValues("nearby_requests").Observe(float64(len(out)))
	return out, nil
}

// NearbyDrivers lists available drivers within radiusKm of the ride's
// pickup, nearest first, capped at limit. Only the ride's passenger may ask.
func (s *Service) NearbyDrivers(ctx context.Context, p models.Principal, rideID string, radiusKm float64, limit int) ([]DriverMatch, error) {
	const op = "nearby drivers"
	start := time.Now()
	defer observe("nearby_drivers", start)

	if err := requireRole(op, p, models.RolePassenger); err != nil {
		return nil, err
	}
	radius, err := s.radius(op, radiusKm)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.TopN
		if limit <= 0 {
			limit = DefaultTopN
		}
	}
	limit = min(limit, maxLimit)

	ride, err := s.Store.Ride(ctx, rideID)
	if err != nil {
		return nil, lookupErr(op, "ride", rideID, err)
	}
	if ride.PassengerID != p.ID {
		return nil, apperr.Unauthorized(op, "ride belongs to another passenger")
	}
	if ride.Status != models.StatusRequested {
		return nil, apperr.Transition(op, string(ride.Status), "find drivers")
	}
	if ride.Pickup == nil {
		return nil, apperr.Validation(op, "ride has no pickup coordinate")
	}
	pickup := *ride.Pickup

	cands, err := s.candidates(ctx, pickup, radius)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].DriverID < cands[j].DriverID
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	for i := range cands {
		cands[i].ETAMinutes = s.minutes(ctx, cands[i].Location, pickup)
	}
	observability.MatchResults.WithLabelValues("nearby_drivers").Observe(float64(len(cands)))
	return cands, nil
}

// candidates prefers the position index and falls back to a store scan
// when there is none or it fails.
func (s *Service) candidates(ctx context.Context, pickup models.Coord, radius float64) ([]DriverMatch, error) {
	if s.Positions != nil {
		hits, err := s.Positions.Within(ctx, pickup, radius)
		if err == nil {
			out := make([]DriverMatch, 0, len(hits))
			for _, h := range hits {
				d, err := s.Store.Driver(ctx, h.DriverID)
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				if !d.IsAvailable || d.ActiveRideID != "" {
					continue
				}
				out = append(out, DriverMatch{DriverID: d.ID, VehicleID: d.VehicleID, Location: h.Loc, DistanceKm: h.DistanceKm, Rating: d.Rating})
			}
			return out, nil
		}
		s.logger().Warn("position index query failed, scanning store", "error", err)
	}

	drivers, err := s.Store.AvailableDrivers(ctx)
	if err != nil {
		return nil, err
	}
	observability.DriversAvailable.Set(float64(len(drivers)))
	out := make([]DriverMatch, 0)
	for _, d := range drivers {
		if !d.IsAvailable || d.ActiveRideID != "" || d.Location == nil {
			continue
		}
		dist := geo.DistanceKm(*d.Location, pickup)
		if dist > radius {
			continue
		}
		out = append(out, DriverMatch{DriverID: d.ID, VehicleID: d.VehicleID, Location: *d.Location, DistanceKm: dist, Rating: d.Rating})
	}
	return out, nil
}

func (s *Service) minutes(ctx context.Context, from, to models.Coord) float64 {
	if s.ETA != nil {
		v, err := s.ETA.EstimateMinutes(ctx, from, to)
		if err == nil {
			return v
		}
		s.logger().Debug("eta lookup failed, using flat estimate", "error", err)
	}
	return s.Fares.TravelMinutes(geo.DistanceKm(from, to))
}

func (s *Service) radius(op string, r float64) (float64, error) {
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return 0, apperr.Validation(op, "radius must be a non-negative number")
	}
	if r == 0 {
		if s.DefaultRadiusKm > 0 {
			return s.DefaultRadiusKm, nil
		}
		return DefaultRadiusKm, nil
	}
	return r, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func requireRole(op string, p models.Principal, role models.Role) error {
	if p.ID == "" || !p.Role.Valid() {
		return apperr.Unauthorized(op, "unauthenticated principal")
	}
	if p.Role != role {
		return apperr.Unauthorized(op, "role %q may not query %s", p.Role, op)
	}
	return nil
}

func lookupErr(op, entity, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(op, entity, id)
	}
	return apperr.Storage(op, err)
}

func observe(query string, start time.Time) {
	observability.MatchQueries.WithLabelValues(query).Inc()
	observability.MatchLatency.WithLabelValues(query).Observe(time.Since(start).Seconds())
}
