// Package registry owns ride records and the ride lifecycle:
//
//	requested -> accepted -> in_progress -> completed
//	requested | accepted -> cancelled
//
// Every mutation runs inside one storage transaction that covers the ride
// and the driver whose availability it toggles, so concurrent callers see
// either the whole transition or none of it. Events are handed to the
// Notifier only after commit.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/fare"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/payments"
	"github.com/example/taxi-dispatch/internal/storage"
)

// Notifier receives one event per committed transition. Implementations
// must not block.
type Notifier interface {
	Notify(ev models.Event)
}

// PositionSink mirrors the positions of available drivers into a search
// index. Busy or offline drivers are removed from it.
type PositionSink interface {
	Upsert(ctx context.Context, driverID string, loc models.Coord) error
	Remove(ctx context.Context, driverID string) error
}

type Registry struct {
	store     storage.Store
	fares     *fare.Estimator
	notifier  Notifier
	positions PositionSink
	payments  payments.Gateway
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Registry)

func WithNotifier(n Notifier) Option { return func(r *Registry) { r.notifier = n } }

func WithPositions(p PositionSink) Option { return func(r *Registry) { r.positions = p } }

func WithPayments(g payments.Gateway) Option { return func(r *Registry) { r.payments = g } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithIDs(newID func() string) Option { return func(r *Registry) { r.newID = newID } }

func New(store storage.Store, fares *fare.Estimator, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		fares:    fares,
		payments: &payments.Offline{},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Fares() *fare.Estimator { return r.fares }

// authorize is the single role check every operation starts with.
func authorize(op string, p models.Principal, roles ...models.Role) error {
	if p.ID == "" || !p.Role.Valid() {
		return apperr.Unauthorized(op, "unauthenticated principal")
	}
	for _, role := range roles {
		if p.Role == role {
			return nil
		}
	}
	return apperr.Unauthorized(op, "role %q may not %s", p.Role, op)
}

// transact runs fn in a store transaction. Errors that already carry a kind
// pass through; anything else is a storage failure.
func (r *Registry) transact(ctx context.Context, op string, fn func(ctx context.Context, tx storage.Tx) error) error {
	err := r.store.WithinTx(ctx, fn)
	if err == nil || apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Storage(op, err)
}

func loadRide(ctx context.Context, rd storage.Reader, op, id string) (models.Ride, error) {
	ride, err := rd.Ride(ctx, id)
	return ride, lookupErr(op, "ride", id, err)
}

func loadDriver(ctx context.Context, rd storage.Reader, op, id string) (models.Driver, error) {
	d, err := rd.Driver(ctx, id)
	return d, lookupErr(op, "driver", id, err)
}

func loadVehicle(ctx context.Context, rd storage.Reader, op, id string) (models.Vehicle, error) {
	v, err := rd.Vehicle(ctx, id)
	return v, lookupErr(op, "vehicle", id, err)
}

func lookupErr(op, entity, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(op, entity, id)
	default:
		return apperr.Storage(op, err)
	}
}

func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Storage(op, err)
}

// stamp returns now, never earlier than prev, so lifecycle timestamps stay ordered.
func (r *Registry) stamp(prev *time.Time) *time.Time {
	now := r.now()
	if prev != nil && now.Before(*prev) {
		now = *prev
	}
	return &now
}

func (r *Registry) emit(ev models.Event) {
	if r.notifier == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notifier panicked", "event_type", ev.Type, "ride_id", ev.RideID, "panic", rec)
		}
	}()
	r.notifier.Notify(ev)
}

// syncPosition runs after commit; index failures are logged only.
func (r *Registry) syncPosition(ctx context.Context, d models.Driver) {
	if r.positions == nil {
		return
	}
	var err error
	if d.IsAvailable && d.Location != nil {
		err = r.positions.Upsert(ctx, d.ID, *d.Location)
	} else {
		err = r.positions.Remove(ctx, d.ID)
	}
	if err != nil {
		r.logger.Warn("position index update failed", "driver_id", d.ID, "error", err)
	}
}

func (r *Registry) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	observability.Transitions.WithLabelValues(op, outcome).Inc()
	switch apperr.KindOf(err) {
	case apperr.KindUnknown:
		if err != nil {
			r.logger.Error("registry op failed", "op", op, "error", err)
		}
	case apperr.KindStorage, apperr.KindExternal:
		r.logger.Error("registry op failed", "op", op, "error", err)
	default:
		r.logger.Debug("registry op rejected", "op", op, "error", err)
	}
}

func event(t models.EventType, ride models.Ride, msg string, at time.Time) models.Event {
	return models.Event{
		Type:        t,
		RideID:      ride.ID,
		PassengerID: ride.PassengerID,
		DriverID:    ride.DriverID,
		Status:      ride.Status,
		Message:     msg,
		At:          at,
	}
}
