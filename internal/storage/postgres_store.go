package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema files in name order. They are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const rideColumns = `id, passenger_id, driver_id, pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng, status, requested_at, accepted_at, started_at,
	completed_at, cancelled_at, estimated_fare, actual_fare, payment_status, payment_ref,
	passenger_rating, driver_rating, passenger_comment, driver_comment`

const driverColumns = `id, license_number, vehicle_id, is_available, active_ride_id,
	location_lat, location_lng, location_updated_at, rating, rated_rides, created_at`

const vehicleColumns = `id, driver_id, make, model, year, color, license_plate, vehicle_type,
	capacity, total_rides, total_distance, average_rating, rated_rides, created_at`

func (p *PostgresStore) Ride(ctx context.Context, id string) (models.Ride, error) {
	return getRide(ctx, p.db, id, false)
}

func (p *PostgresStore) Driver(ctx context.Context, id string) (models.Driver, error) {
	return getDriver(ctx, p.db, id, false)
}

func (p *PostgresStore) Vehicle(ctx context.Context, id string) (models.Vehicle, error) {
	return getVehicle(ctx, p.db, id, false)
}

func (p *PostgresStore) OpenRides(ctx context.Context) ([]models.Ride, error) {
	return queryRides(ctx, p.db, `SELECT `+rideColumns+` FROM rides
		WHERE status = 'requested' AND driver_id IS NULL ORDER BY requested_at ASC, id ASC`)
}

func (p *PostgresStore) RidesForDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	return queryRides(ctx, p.db, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1 ORDER BY requested_at DESC, id ASC`, driverID)
}

func (p *PostgresStore) RidesForPassenger(ctx context.Context, passengerID string) ([]models.Ride, error) {
	return queryRides(ctx, p.db, `SELECT `+rideColumns+` FROM rides
		WHERE passenger_id = $1 ORDER BY requested_at DESC, id ASC`, passengerID)
}

func (p *PostgresStore) AvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE is_available ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			_ = sqlTx.Rollback()
			panic(rec)
		}
	}()
	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgTx locks every row it reads with SELECT ... FOR UPDATE, so concurrent
// transitions on the same ride or driver queue behind each other.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Ride(ctx context.Context, id string) (models.Ride, error) {
	return getRide(ctx, t.tx, id, true)
}

func (t *pgTx) Driver(ctx context.Context, id string) (models.Driver, error) {
	return getDriver(ctx, t.tx, id, true)
}

func (t *pgTx) Vehicle(ctx context.Context, id string) (models.Vehicle, error) {
	return getVehicle(ctx, t.tx, id, true)
}

func (t *pgTx) PutRide(ctx context.Context, r models.Ride) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO rides (`+rideColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (id) DO UPDATE SET
			driver_id = EXCLUDED.driver_id,
			status = EXCLUDED.status,
			accepted_at = EXCLUDED.accepted_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			cancelled_at = EXCLUDED.cancelled_at,
			estimated_fare = EXCLUDED.estimated_fare,
			actual_fare = EXCLUDED.actual_fare,
			payment_status = EXCLUDED.payment_status,
			payment_ref = EXCLUDED.payment_ref,
			passenger_rating = EXCLUDED.passenger_rating,
			driver_rating = EXCLUDED.driver_rating,
			passenger_comment = EXCLUDED.passenger_comment,
			driver_comment = EXCLUDED.driver_comment`,
		r.ID, r.PassengerID, nullString(r.DriverID),
		r.PickupAddress, latOf(r.Pickup), lngOf(r.Pickup),
		r.DropoffAddress, latOf(r.Dropoff), lngOf(r.Dropoff),
		string(r.Status), r.RequestedAt, nullTime(r.AcceptedAt), nullTime(r.StartedAt),
		nullTime(r.CompletedAt), nullTime(r.CancelledAt),
		nullFloat(r.EstimatedFare), nullFloat(r.ActualFare), string(r.PaymentStatus), r.PaymentRef,
		nullInt(r.PassengerRating), nullInt(r.DriverRating), r.PassengerComment, r.DriverComment,
	)
	return err
}

func (t *pgTx) PutDriver(ctx context.Context, d models.Driver) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO drivers (`+driverColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			license_number = EXCLUDED.license_number,
			vehicle_id = EXCLUDED.vehicle_id,
			is_available = EXCLUDED.is_available,
			active_ride_id = EXCLUDED.active_ride_id,
			location_lat = EXCLUDED.location_lat,
			location_lng = EXCLUDED.location_lng,
			location_updated_at = EXCLUDED.location_updated_at,
			rating = EXCLUDED.rating,
			rated_rides = EXCLUDED.rated_rides`,
		d.ID, d.LicenseNumber, nullString(d.VehicleID), d.IsAvailable, nullString(d.ActiveRideID),
		latOf(d.Location), lngOf(d.Location), nullTime(d.LocationUpdatedAt),
		d.Rating, d.RatedRides, d.CreatedAt,
	)
	return err
}

func (t *pgTx) PutVehicle(ctx context.Context, v models.Vehicle) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO vehicles (`+vehicleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			driver_id = EXCLUDED.driver_id,
			total_rides = EXCLUDED.total_rides,
			total_distance = EXCLUDED.total_distance,
			average_rating = EXCLUDED.average_rating,
			rated_rides = EXCLUDED.rated_rides`,
		v.ID, nullString(v.DriverID), v.Make, v.Model, v.Year, v.Color, v.LicensePlate, v.VehicleType,
		v.Capacity, v.TotalRides, v.TotalDistance, v.AverageRating, v.RatedRides, v.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func getRide(ctx context.Context, q querier, id string, lock bool) (models.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	r, err := scanRide(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, ErrNotFound
	}
	return r, err
}

func getDriver(ctx context.Context, q querier, id string, lock bool) (models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	d, err := scanDriver(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, ErrNotFound
	}
	return d, err
}

func getVehicle(ctx context.Context, q querier, id string, lock bool) (models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var v models.Vehicle
	var driverID sql.NullString
	err := q.QueryRowContext(ctx, query, id).Scan(&v.ID, &driverID, &v.Make, &v.Model, &v.Year, &v.Color,
		&v.LicensePlate, &v.VehicleType, &v.Capacity, &v.TotalRides, &v.TotalDistance, &v.AverageRating,
		&v.RatedRides, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vehicle{}, ErrNotFound
	}
	v.DriverID = driverID.String
	return v, err
}

func queryRides(ctx context.Context, q querier, query string, args ...any) ([]models.Ride, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (models.Ride, error) {
	var (
		r                               models.Ride
		driverID                        sql.NullString
		pLat, pLng, dLat, dLng          sql.NullFloat64
		status, payment                 string
		accepted, started, done, cancel sql.NullTime
		estimated, actual               sql.NullFloat64
		pRating, dRating                sql.NullInt64
	)
	err := s.Scan(&r.ID, &r.PassengerID, &driverID, &r.PickupAddress, &pLat, &pLng,
		&r.DropoffAddress, &dLat, &dLng, &status, &r.RequestedAt, &accepted, &started,
		&done, &cancel, &estimated, &actual, &payment, &r.PaymentRef,
		&pRating, &dRating, &r.PassengerComment, &r.DriverComment)
	if err != nil {
		return models.Ride{}, err
	}
	r.DriverID = driverID.String
	r.Pickup = coordOf(pLat, pLng)
	r.Dropoff = coordOf(dLat, dLng)
	r.Status = models.Status(status)
	r.PaymentStatus = models.PaymentStatus(payment)
	r.AcceptedAt = timeOf(accepted)
	r.StartedAt = timeOf(started)
	r.CompletedAt = timeOf(done)
	r.CancelledAt = timeOf(cancel)
	r.EstimatedFare = floatOf(estimated)
	r.ActualFare = floatOf(actual)
	r.PassengerRating = intOf(pRating)
	r.DriverRating = intOf(dRating)
	return r, nil
}

func scanDriver(s scanner) (models.Driver, error) {
	var (
		d                 models.Driver
		vehicleID, rideID sql.NullString
		lat, lng          sql.NullFloat64
		locUpdated        sql.NullTime
	)
	err := s.Scan(&d.ID, &d.LicenseNumber, &vehicleID, &d.IsAvailable, &rideID,
		&lat, &lng, &locUpdated, &d.Rating, &d.RatedRides, &d.CreatedAt)
	if err != nil {
		return models.Driver{}, err
	}
	d.VehicleID = vehicleID.String
	d.ActiveRideID = rideID.String
	d.Location = coordOf(lat, lng)
	d.LocationUpdatedAt = timeOf(locUpdated)
	return d, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func latOf(c *models.Coord) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}
}

func lngOf(c *models.Coord) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lng, Valid: true}
}

func coordOf(lat, lng sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
}

func timeOf(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func floatOf(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func intOf(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}
