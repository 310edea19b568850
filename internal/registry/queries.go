package registry

import (
	"context"
	"sort"
	"time"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/models"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

// Get returns a ride to its passenger or its assigned driver.
func (r *Registry) Get(ctx context.Context, p models.Principal, rideID string) (models.Ride, error) {
	const op = "get ride"
	if err := authorize(op, p, models.RolePassenger, models.RoleDriver); err != nil {
		return models.Ride{}, err
	}
	ride, err := loadRide(ctx, r.store, op, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if !isParty(p, ride) {
		return models.Ride{}, apperr.Unauthorized(op, "not a party to this ride")
	}
	return ride, nil
}

func isParty(p models.Principal, ride models.Ride) bool {
	switch p.Role {
	case models.RolePassenger:
		return ride.PassengerID == p.ID
	case models.RoleDriver:
		return ride.DriverID != "" && ride.DriverID == p.ID
	}
	return false
}

func (r *Registry) ridesOf(ctx context.Context, op string, p models.Principal) ([]models.Ride, error) {
	var (
		rides []models.Ride
		err   error
	)
	if p.Role == models.RoleDriver {
		rides, err = r.store.RidesForDriver(ctx, p.ID)
	} else {
		rides, err = r.store.RidesForPassenger(ctx, p.ID)
	}
	return rides, wrapStorage(op, err)
}

// ActiveRides lists the caller's rides that have not reached a terminal
// state, newest request first. For a driver that is at most one ride.
func (r *Registry) ActiveRides(ctx context.Context, p models.Principal) ([]models.Ride, error) {
	const op = "active rides"
	if err := authorize(op, p, models.RolePassenger, models.RoleDriver); err != nil {
		return nil, err
	}
	rides, err := r.ridesOf(ctx, op, p)
	if err != nil {
		return nil, err
	}
	out := rides[:0]
	for _, ride := range rides {
		if !ride.Status.Terminal() {
			out = append(out, ride)
		}
	}
	return out, nil
}

type Page struct {
	Rides       []models.Ride `json:"rides"`
	Total       int           `json:"total"`
	Pages       int           `json:"pages"`
	CurrentPage int           `json:"current_page"`
}

// History pages through the caller's completed and cancelled rides, most
// recently finished first.
func (r *Registry) History(ctx context.Context, p models.Principal, page, perPage int) (Page, error) {
	const op = "ride history"
	if err := authorize(op, p, models.RolePassenger, models.RoleDriver); err != nil {
		return Page{}, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	rides, err := r.ridesOf(ctx, op, p)
	if err != nil {
		return Page{}, err
	}
	done := make([]models.Ride, 0, len(rides))
	for _, ride := range rides {
		if ride.Status.Terminal() {
			done = append(done, ride)
		}
	}
	sort.SliceStable(done, func(i, j int) bool { return finishedAt(done[i]).After(finishedAt(done[j])) })

	out := Page{Total: len(done), CurrentPage: page, Pages: (len(done) + perPage - 1) / perPage, Rides: []models.Ride{}}
	start := (page - 1) * perPage
	if start < len(done) {
		end := min(start+perPage, len(done))
		out.Rides = done[start:end]
	}
	return out, nil
}

func finishedAt(ride models.Ride) time.Time {
	switch {
	case ride.CompletedAt != nil:
		return *ride.CompletedAt
	case ride.CancelledAt != nil:
		return *ride.CancelledAt
	}
	return ride.RequestedAt
}
