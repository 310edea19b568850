package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

const defaultRating = 5.0

// RegisterDriver creates the driver profile for the calling principal.
// New drivers start available.
func (r *Registry) RegisterDriver(ctx context.Context, p models.Principal, licenseNumber string) (driver models.Driver, err error) {
	const op = "register driver"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Driver{}, err
	}
	licenseNumber = strings.TrimSpace(licenseNumber)
	if licenseNumber == "" {
		return models.Driver{}, apperr.Validation(op, "license_number is required")
	}
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Driver(ctx, p.ID)
		switch {
		case err == nil:
			return apperr.Validation(op, "driver %q already registered", p.ID)
		case !errors.Is(err, storage.ErrNotFound):
			return wrapStorage(op, err)
		}
		driver = models.Driver{
			ID:            p.ID,
			LicenseNumber: licenseNumber,
			IsAvailable:   true,
			Rating:        defaultRating,
			CreatedAt:     r.now(),
		}
		return wrapStorage(op, tx.PutDriver(ctx, driver))
	})
	if err != nil {
		return models.Driver{}, err
	}
	return driver, nil
}

// VehicleSpec is the immutable reference data of a vehicle.
type VehicleSpec struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
	VehicleType  string `json:"vehicle_type"`
	Capacity     int    `json:"capacity"`
}

func (s *VehicleSpec) normalize(op string) error {
	s.Make = strings.TrimSpace(s.Make)
	s.Model = strings.TrimSpace(s.Model)
	s.LicensePlate = strings.ToUpper(strings.TrimSpace(s.LicensePlate))
	switch {
	case s.Make == "":
		return apperr.Validation(op, "make is required")
	case s.Model == "":
		return apperr.Validation(op, "model is required")
	case s.LicensePlate == "":
		return apperr.Validation(op, "license_plate is required")
	case s.Capacity < 0 || s.Capacity > 8:
		return apperr.Validation(op, "capacity must be between 1 and 8")
	case s.Year < 0:
		return apperr.Validation(op, "year cannot be negative")
	}
	if s.Capacity == 0 {
		s.Capacity = 4
	}
	if strings.TrimSpace(s.VehicleType) == "" {
		s.VehicleType = "standard"
	}
	return nil
}

// AssignVehicle registers a vehicle and attaches it to the calling driver,
// releasing the one the driver had before. A vehicle has at most one driver.
func (r *Registry) AssignVehicle(ctx context.Context, p models.Principal, spec VehicleSpec) (vehicle models.Vehicle, err error) {
	const op = "assign vehicle"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Vehicle{}, err
	}
	if err := spec.normalize(op); err != nil {
		return models.Vehicle{}, err
	}
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		driver, err := loadDriver(ctx, tx, op, p.ID)
		if err != nil {
			return err
		}
		if driver.VehicleID != "" {
			old, err := loadVehicle(ctx, tx, op, driver.VehicleID)
			if err != nil {
				return err
			}
			old.DriverID = ""
			if err := tx.PutVehicle(ctx, old); err != nil {
				return wrapStorage(op, err)
			}
		}
		vehicle = models.Vehicle{
			ID:            r.newID(),
			DriverID:      driver.ID,
			Make:          spec.Make,
			Model:         spec.Model,
			Year:          spec.Year,
			Color:         spec.Color,
			LicensePlate:  spec.LicensePlate,
			VehicleType:   spec.VehicleType,
			Capacity:      spec.Capacity,
			AverageRating: defaultRating,
			CreatedAt:     r.now(),
		}
		if err := tx.PutVehicle(ctx, vehicle); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Validation(op, "license plate %q already registered", spec.LicensePlate)
			}
			return wrapStorage(op, err)
		}
		driver.VehicleID = vehicle.ID
		return wrapStorage(op, tx.PutDriver(ctx, driver))
	})
	if err != nil {
		return models.Vehicle{}, err
	}
	return vehicle, nil
}

// UpdateLocation replaces the driver's last known position. The position
// index is refreshed after commit.
func (r *Registry) UpdateLocation(ctx context.Context, p models.Principal, loc models.Coord) (driver models.Driver, err error) {
	const op = "update location"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Driver{}, err
	}
	if !geo.Valid(loc) {
		return models.Driver{}, apperr.Validation(op, "coordinate out of range")
	}
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if driver, err = loadDriver(ctx, tx, op, p.ID); err != nil {
			return err
		}
		at := r.now()
		driver.Location = &loc
		driver.LocationUpdatedAt = &at
		return wrapStorage(op, tx.PutDriver(ctx, driver))
	})
	if err != nil {
		return models.Driver{}, err
	}
	observability.LocationUpdates.WithLabelValues("direct").Inc()
	r.syncPosition(ctx, driver)
	return driver, nil
}

// SetAvailability toggles whether the driver can be matched. Going available
// while holding an active ride is refused.
func (r *Registry) SetAvailability(ctx context.Context, p models.Principal, available bool) (driver models.Driver, err error) {
	const op = "set availability"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Driver{}, err
	}
	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if driver, err = loadDriver(ctx, tx, op, p.ID); err != nil {
			return err
		}
		if available && driver.ActiveRideID != "" {
			return apperr.TransitionMsg(op, "on_ride", "become available", "finish or release ride "+driver.ActiveRideID+" first")
		}
		driver.IsAvailable = available
		return wrapStorage(op, tx.PutDriver(ctx, driver))
	})
	if err != nil {
		return models.Driver{}, err
	}
	r.syncPosition(ctx, driver)
	return driver, nil
}

// Driver returns the caller's own driver profile.
func (r *Registry) Driver(ctx context.Context, p models.Principal) (driver models.Driver, err error) {
	const op = "get driver"
	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Driver{}, err
	}
	return loadDriver(ctx, r.store, op, p.ID)
}

// Vehicle returns a vehicle by id; vehicles are reference data visible to any principal.
func (r *Registry) Vehicle(ctx context.Context, p models.Principal, id string) (models.Vehicle, error) {
	const op = "get vehicle"
	if err := authorize(op, p, models.RoleDriver, models.RolePassenger); err != nil {
		return models.Vehicle{}, err
	}
	return loadVehicle(ctx, r.store, op, id)
}
