package registry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

const maxAddressLen = 200

// RideRequest is the passenger input for a new ride. Coordinates are optional.
type RideRequest struct {
	PickupAddress  string        `json:"pickup_address"`
	Pickup         *models.Coord `json:"pickup,omitempty"`
	DropoffAddress string        `json:"dropoff_address"`
	Dropoff        *models.Coord `json:"dropoff,omitempty"`
}

func (req RideRequest) validate(op string) error {
	for _, f := range []struct {
		name, v string
	}{{"pickup_address", req.PickupAddress}, {"dropoff_address", req.DropoffAddress}} {
		if strings.TrimSpace(f.v) == "" {
			return apperr.Validation(op, "%s is required", f.name)
		}
		if utf8.RuneCountInString(f.v) > maxAddressLen {
			return apperr.Validation(op, "%s exceeds %d characters", f.name, maxAddressLen)
		}
	}
	if req.Pickup != nil && !geo.Valid(*req.Pickup) {
		return apperr.Validation(op, "pickup coordinate out of range")
	}
	if req.Dropoff != nil && !geo.Valid(*req.Dropoff) {
		return apperr.Validation(op, "dropoff coordinate out of range")
	}
	return nil
}

// CreateRide opens a new ride for the calling passenger.
func (r *Registry) CreateRide(ctx context.Context, p models.Principal, req RideRequest) (ride models.Ride, err error) {
	const op = "create"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RolePassenger); err != nil {
		return models.Ride{}, err
	}
	if err := req.validate(op); err != nil {
		return models.Ride{}, err
	}

	ride = models.Ride{
		ID:             r.newID(),
		PassengerID:    p.ID,
		PickupAddress:  strings.TrimSpace(req.PickupAddress),
		Pickup:         req.Pickup,
		DropoffAddress: strings.TrimSpace(req.DropoffAddress),
		Dropoff:        req.Dropoff,
		Status:         models.StatusRequested,
		RequestedAt:    r.now(),
		PaymentStatus:  models.PaymentPending,
	}
	if ride.HasRoute() {
		est := r.fares.Estimate(geo.DistanceKm(*ride.Pickup, *ride.Dropoff))
		ride.EstimatedFare = &est
	}
	ride = ride.Clone()

	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		return wrapStorage(op, tx.PutRide(ctx, ride))
	})
	if err != nil {
		return models.Ride{}, err
	}
	r.emit(event(models.EventRequested, ride, fmt.Sprintf("Ride requested from %s", ride.PickupAddress), ride.RequestedAt))
	return ride, nil
}

// Accept assigns the calling driver to a requested ride. Availability is
// re-checked here, inside the transaction, whatever matching showed earlier.
func (r *Registry) Accept(ctx context.Context, p models.Principal, rideID string) (ride models.Ride, err error) {
	const op = "accept"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Ride{}, err
	}
	var driver models.Driver
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if ride, err = loadRide(ctx, tx, op, rideID); err != nil {
			return err
		}
		if ride.Status != models.StatusRequested {
			return apperr.Transition(op, string(ride.Status), op)
		}
		if driver, err = loadDriver(ctx, tx, op, p.ID); err != nil {
			return err
		}
		if !driver.IsAvailable || driver.ActiveRideID != "" {
			return apperr.TransitionMsg(op, string(ride.Status), op, "driver is not available")
		}

		ride.DriverID = driver.ID
		ride.Status = models.StatusAccepted
		ride.AcceptedAt = r.stamp(&ride.RequestedAt)
		driver.IsAvailable = false
		driver.ActiveRideID = ride.ID

		if err := tx.PutRide(ctx, ride); err != nil {
			return wrapStorage(op, err)
		}
		return wrapStorage(op, tx.PutDriver(ctx, driver))
	})
	if err != nil {
		return models.Ride{}, err
	}
	r.syncPosition(ctx, driver)
	ev := event(models.EventAccepted, ride, fmt.Sprintf("Driver %s has accepted your ride", ride.DriverID), *ride.AcceptedAt)
	if driver.Location != nil && ride.Pickup != nil {
		eta := math.Ceil(r.fares.TravelMinutes(geo.DistanceKm(*driver.Location, *ride.Pickup)))
		ev.ETAMinutes = &eta
		ev.Message = fmt.Sprintf("Driver %s has accepted your ride and will arrive in about %.0f minutes", ride.DriverID, eta)
	}
	r.emit(ev)
	return ride, nil
}

// Start moves an accepted ride to in_progress. Only the assigned driver may start it.
func (r *Registry) Start(ctx context.Context, p models.Principal, rideID string) (ride models.Ride, err error) {
	const op = "start"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Ride{}, err
	}
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if ride, err = loadRide(ctx, tx, op, rideID); err != nil {
			return err
		}
		if err := requireAssigned(op, p, ride); err != nil {
			return err
		}
		if ride.Status != models.StatusAccepted {
			return apperr.Transition(op, string(ride.Status), op)
		}
		ride.Status = models.StatusInProgress
		ride.StartedAt = r.stamp(ride.AcceptedAt)
		return wrapStorage(op, tx.PutRide(ctx, ride))
	})
	if err != nil {
		return models.Ride{}, err
	}
	r.emit(event(models.EventStarted, ride, "Your ride has started", *ride.StartedAt))
	return ride, nil
}

// Complete finishes an in-progress ride with the driver-submitted fare and
// frees the driver. The vehicle's counters move in the same transaction.
func (r *Registry) Complete(ctx context.Context, p models.Principal, rideID string, actualFare float64) (ride models.Ride, err error) {
	const op = "complete"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Ride{}, err
	}
	if err := r.fares.ValidateActual(actualFare); err != nil {
		return models.Ride{}, err
	}
	var driver models.Driver
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if ride, err = loadRide(ctx, tx, op, rideID); err != nil {
			return err
		}
		if err := requireAssigned(op, p, ride); err != nil {
			return err
		}
		if ride.Status != models.StatusInProgress {
			return apperr.Transition(op, string(ride.Status), op)
		}
		if driver, err = loadDriver(ctx, tx, op, ride.DriverID); err != nil {
			return err
		}

		amount := actualFare
		ride.Status = models.StatusCompleted
		ride.CompletedAt = r.stamp(ride.StartedAt)
		ride.ActualFare = &amount
		driver.IsAvailable = true
		driver.ActiveRideID = ""

		if driver.VehicleID != "" {
			v, err := loadVehicle(ctx, tx, op, driver.VehicleID)
			if err != nil {
				return err
			}
			v.TotalRides++
			if ride.HasRoute() {
				v.TotalDistance += geo.DistanceKm(*ride.Pickup, *ride.Dropoff)
			}
			if err := tx.PutVehicle(ctx, v); err != nil {
				return wrapStorage(op, err)
			}
		}
		if err := tx.PutRide(ctx, ride); err != nil {
			return wrapStorage(op, err)
		}
		return wrapStorage(op, tx.PutDriver(ctx, driver))
	})
	if err != nil {
		return models.Ride{}, err
	}
	r.syncPosition(ctx, driver)
	ev := event(models.EventCompleted, ride, fmt.Sprintf("Your ride has been completed. Fare: $%.2f", *ride.ActualFare), *ride.CompletedAt)
	ev.Fare = ride.ActualFare
	r.emit(ev)
	return ride, nil
}

// Cancel is allowed to the owning passenger while the ride is requested or
// accepted. A driver already attached becomes available again but stays on
// the ride record.
func (r *Registry) Cancel(ctx context.Context, p models.Principal, rideID string) (ride models.Ride, err error) {
	const op = "cancel"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RolePassenger); err != nil {
		return models.Ride{}, err
	}
	var freed *models.Driver
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		freed = nil
		if ride, err = loadRide(ctx, tx, op, rideID); err != nil {
			return err
		}
		if ride.PassengerID != p.ID {
			return apperr.Unauthorized(op, "ride belongs to another passenger")
		}
		if ride.Status != models.StatusRequested && ride.Status != models.StatusAccepted {
			return apperr.Transition(op, string(ride.Status), op)
		}

		if ride.DriverID != "" {
			driver, err := loadDriver(ctx, tx, op, ride.DriverID)
			if err != nil {
				return err
			}
			if driver.ActiveRideID == ride.ID {
				driver.IsAvailable = true
				driver.ActiveRideID = ""
				if err := tx.PutDriver(ctx, driver); err != nil {
					return wrapStorage(op, err)
				}
				freed = &driver
			}
		}
		prev := ride.AcceptedAt
		if prev == nil {
			prev = &ride.RequestedAt
		}
		ride.Status = models.StatusCancelled
		ride.CancelledAt = r.stamp(prev)
		return wrapStorage(op, tx.PutRide(ctx, ride))
	})
	if err != nil {
		return models.Ride{}, err
	}
	if freed != nil {
		r.syncPosition(ctx, *freed)
	}
	r.emit(event(models.EventCancelled, ride, "Your ride has been cancelled", *ride.CancelledAt))
	return ride, nil
}

// requireAssigned rejects drivers other than the one on the ride. Rides with
// no driver yet fall through to the status check.
func requireAssigned(op string, p models.Principal, ride models.Ride) error {
	if ride.DriverID != "" && ride.DriverID != p.ID {
		return apperr.Unauthorized(op, "ride is assigned to another driver")
	}
	return nil
}
