package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/auth"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/registry"
)

// LocationPublisher queues a location ping for asynchronous application.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, u models.LocationUpdate) error
}

type Deps struct {
	Registry *registry.Registry
	Matcher  *matcher.Service
	Auth     *auth.Manager
	WS       *dispatch.WSRegistry
	// Ingest is optional. When set, location pings are validated and handed
	// to Kafka instead of being written directly.
	Ingest LocationPublisher
	Logger *slog.Logger
}

type Server struct {
	registry *registry.Registry
	matcher  *matcher.Service
	auth     *auth.Manager
	ws       *dispatch.WSRegistry
	ingest   LocationPublisher
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: d.Registry,
		matcher:  d.Matcher,
		auth:     d.Auth,
		ws:       d.WS,
		ingest:   d.Ingest,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/accept", s.rideAction(s.registry.Accept)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/start", s.rideAction(s.registry.Start)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.rideAction(s.registry.Cancel)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/pay", s.handlePayRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/refund", s.rideAction(s.registry.Refund)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/rate", s.handleRateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/nearby-drivers", s.handleNearbyDrivers).Methods(http.MethodGet)

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers/me", s.handleGetDriver).Methods(http.MethodGet)
	api.HandleFunc("/drivers/vehicle", s.handleAssignVehicle).Methods(http.MethodPost)
	api.HandleFunc("/drivers/location", s.handleDriverLocation).Methods(http.MethodPost)
	api.HandleFunc("/drivers/availability", s.handleAvailability).Methods(http.MethodPost)
	api.HandleFunc("/drivers/nearby-requests", s.handleNearbyRequests).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}", s.handleGetVehicle).Methods(http.MethodGet)

	api.HandleFunc("/fare/estimate", s.handleFareEstimate).Methods(http.MethodPost)

	s.mux.Handle("/ws", s.wsAuthMiddleware(http.HandlerFunc(s.handleWS))).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// tokens, not cookies, authenticate the stream
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS streams the caller's ride events until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "principal_id", p.ID, "error", err)
		return
	}
	s.logger.Info("websocket connected", "principal_id", p.ID, "role", p.Role)
	s.ws.Serve(p.ID, conn)
	s.logger.Info("websocket disconnected", "principal_id", p.ID)
}
