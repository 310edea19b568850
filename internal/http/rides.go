package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/registry"
)

type rideOp func(ctx context.Context, p models.Principal, rideID string) (models.Ride, error)

// rideAction adapts a body-less ride transition to a handler.
func (s *Server) rideAction(op rideOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ride, err := op(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ride)
	}
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req registry.RideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.registry.CreateRide(r.Context(), principalFrom(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.registry.Get(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	q := r.URL.Query()
	switch q.Get("scope") {
	case "", "active":
		rides, err := s.registry.ActiveRides(r.Context(), p)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
	case "history":
		page, err := intParam(q.Get("page"), "page")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		perPage, err := intParam(q.Get("per_page"), "per_page")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := s.registry.History(r.Context(), p, page, perPage)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		s.writeError(w, r, apperr.Validation("list rides", "scope must be active or history"))
	}
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActualFare *float64 `json:"actual_fare"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.ActualFare == nil {
		s.writeError(w, r, apperr.Validation("complete", "actual_fare is required"))
		return
	}
	ride, err := s.registry.Complete(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], *body.ActualFare)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// handlePayRide accepts an empty body for gateways that need no payment method.
func (s *Server) handlePayRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentMethod string `json:"payment_method"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	ride, err := s.registry.Pay(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], body.PaymentMethod)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRateRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.registry.Rate(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], body.Rating, body.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	radius, err := floatParam(q.Get("radius"), "radius")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	drivers, err := s.matcher.NearbyDrivers(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], radius, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (s *Server) handleFareEstimate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pickup  *models.Coord `json:"pickup"`
		Dropoff *models.Coord `json:"dropoff"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Pickup == nil || body.Dropoff == nil {
		s.writeError(w, r, apperr.Validation("fare quote", "pickup and dropoff are required"))
		return
	}
	quote, err := s.registry.Fares().Quote(*body.Pickup, *body.Dropoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// empty values mean "use the default" and come back as zero
func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("query", "%s must be an integer", name)
	}
	return n, nil
}

func floatParam(v, name string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperr.Validation("query", "%s must be a number", name)
	}
	return f, nil
}
