package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/registry"
)

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LicenseNumber string `json:"license_number"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.registry.RegisterDriver(r.Context(), principalFrom(r.Context()), body.LicenseNumber)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Driver(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAssignVehicle(w http.ResponseWriter, r *http.Request) {
	var spec registry.VehicleSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.registry.AssignVehicle(r.Context(), principalFrom(r.Context()), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Vehicle(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if err := decodeJSON(w, r, &loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	if s.ingest == nil {
		d, err := s.registry.UpdateLocation(r.Context(), p, loc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
		return
	}

	const op = "update location"
	if p.Role != models.RoleDriver {
		s.writeError(w, r, apperr.Unauthorized(op, "role %q may not %s", p.Role, op))
		return
	}
	if !geo.Valid(loc) {
		s.writeError(w, r, apperr.Validation(op, "coordinate out of range"))
		return
	}
	u := models.LocationUpdate{DriverID: p.ID, Loc: loc, At: time.Now().UTC()}
	if err := s.ingest.PublishLocation(r.Context(), u); err != nil {
		s.writeError(w, r, apperr.External(op, err))
		return
	}
	observability.LocationUpdates.WithLabelValues("kafka").Inc()
	writeJSON(w, http.StatusAccepted, u)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsAvailable *bool `json:"is_available"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.IsAvailable == nil {
		s.writeError(w, r, apperr.Validation("set availability", "is_available is required"))
		return
	}
	d, err := s.registry.SetAvailability(r.Context(), principalFrom(r.Context()), *body.IsAvailable)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleNearbyRequests(w http.ResponseWriter, r *http.Request) {
	radius, err := floatParam(r.URL.Query().Get("radius"), "radius")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rides, err := s.matcher.NearbyRequests(r.Context(), principalFrom(r.Context()), radius)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}
