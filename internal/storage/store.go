package storage

import (
	"context"
	"errors"

	"github.com/example/taxi-dispatch/internal/models"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate key")
)

// Reader fetches single entities. Inside a Tx the fetched rows are locked
// until the transaction ends.
type Reader interface {
	Ride(ctx context.Context, id string) (models.Ride, error)
	Driver(ctx context.Context, id string) (models.Driver, error)
	Vehicle(ctx context.Context, id string) (models.Vehicle, error)
}

// Tx is one all-or-nothing unit of work. Puts are upserts.
type Tx interface {
	Reader
	PutRide(ctx context.Context, r models.Ride) error
	PutDriver(ctx context.Context, d models.Driver) error
	PutVehicle(ctx context.Context, v models.Vehicle) error
}

// Store is the persistence capability used by the registry and the matcher.
// Query methods read a committed snapshot and may be stale.
type Store interface {
	Reader
	OpenRides(ctx context.Context) ([]models.Ride, error)
	RidesForDriver(ctx context.Context, driverID string) ([]models.Ride, error)
	RidesForPassenger(ctx context.Context, passengerID string) ([]models.Ride, error)
	AvailableDrivers(ctx context.Context) ([]models.Driver, error)

	// WithinTx runs fn in a transaction; a non-nil error from fn rolls back
	// every write it made.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
