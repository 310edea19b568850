package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Status is the ride lifecycle state. Values serialize as the lowercase literals.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether a driver holding a ride in this status is busy.
func (s Status) Active() bool { return s == StatusAccepted || s == StatusInProgress }

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Role is the closed set of principal kinds.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

func (r Role) Valid() bool { return r == RolePassenger || r == RoleDriver }

// Principal is an authenticated actor handed to the core by the auth layer.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type Ride struct {
	ID          string `json:"id"`
	PassengerID string `json:"passenger_id"`
	DriverID    string `json:"driver_id,omitempty"`

	PickupAddress  string `json:"pickup_address"`
	Pickup         *Coord `json:"pickup,omitempty"`
	DropoffAddress string `json:"dropoff_address"`
	Dropoff        *Coord `json:"dropoff,omitempty"`

	Status      Status     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	EstimatedFare *float64      `json:"estimated_fare,omitempty"`
	ActualFare    *float64      `json:"actual_fare,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRef    string        `json:"payment_ref,omitempty"`

	// PassengerRating is the score the passenger gave the trip,
	// DriverRating the score the driver gave the passenger.
	PassengerRating  *int   `json:"passenger_rating,omitempty"`
	DriverRating     *int   `json:"driver_rating,omitempty"`
	PassengerComment string `json:"passenger_comment,omitempty"`
	DriverComment    string `json:"driver_comment,omitempty"`
}

// HasRoute reports whether both pickup and dropoff coordinates are known.
func (r Ride) HasRoute() bool { return r.Pickup != nil && r.Dropoff != nil }

type Driver struct {
	ID            string `json:"id"`
	LicenseNumber string `json:"license_number"`
	VehicleID     string `json:"vehicle_id,omitempty"`

	IsAvailable  bool   `json:"is_available"`
	ActiveRideID string `json:"active_ride_id,omitempty"`

	Location          *Coord     `json:"location,omitempty"`
	LocationUpdatedAt *time.Time `json:"location_updated_at,omitempty"`

	Rating     float64 `json:"rating"` // 1..5
	RatedRides int     `json:"rated_rides"`

	CreatedAt time.Time `json:"created_at"`
}

type Vehicle struct {
	ID           string `json:"id"`
	DriverID     string `json:"driver_id,omitempty"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year,omitempty"`
	Color        string `json:"color,omitempty"`
	LicensePlate string `json:"license_plate"`
	VehicleType  string `json:"vehicle_type"`
	Capacity     int    `json:"capacity"`

	TotalRides    int     `json:"total_rides"`
	TotalDistance float64 `json:"total_distance_km"`
	AverageRating float64 `json:"average_rating"`
	RatedRides    int     `json:"rated_rides"`

	CreatedAt time.Time `json:"created_at"`
}

// EventType names the ride transition an Event reports.
type EventType string

const (
	EventRequested EventType = "ride_requested"
	EventAccepted  EventType = "ride_accepted"
	EventStarted   EventType = "ride_started"
	EventCompleted EventType = "ride_completed"
	EventCancelled EventType = "ride_cancelled"
	EventPaid      EventType = "payment_paid"
	EventRefunded  EventType = "payment_refunded"
)

type Event struct {
	Type        EventType `json:"event_type"`
	RideID      string    `json:"ride_id"`
	PassengerID string    `json:"passenger_id"`
	DriverID    string    `json:"driver_id,omitempty"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	Fare        *float64  `json:"fare,omitempty"`
	ETAMinutes  *float64  `json:"eta_minutes,omitempty"` // pickup ETA, ride_accepted only
	At          time.Time `json:"at"`
}

// LocationUpdate is the driver position message carried over Kafka.
type LocationUpdate struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}

// Clone returns a copy that shares no pointers with r.
func (r Ride) Clone() Ride {
	r.Pickup = cloneCoord(r.Pickup)
	r.Dropoff = cloneCoord(r.Dropoff)
	r.AcceptedAt = cloneTime(r.AcceptedAt)
	r.StartedAt = cloneTime(r.StartedAt)
	r.CompletedAt = cloneTime(r.CompletedAt)
	r.CancelledAt = cloneTime(r.CancelledAt)
	r.EstimatedFare = cloneFloat(r.EstimatedFare)
	r.ActualFare = cloneFloat(r.ActualFare)
	r.PassengerRating = cloneInt(r.PassengerRating)
	r.DriverRating = cloneInt(r.DriverRating)
	return r
}

func (d Driver) Clone() Driver {
	d.Location = cloneCoord(d.Location)
	d.LocationUpdatedAt = cloneTime(d.LocationUpdatedAt)
	return d
}

func cloneCoord(c *Coord) *Coord {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
