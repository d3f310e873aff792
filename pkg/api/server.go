package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/namisoft/coinflip/pkg/api/handlers"
	"github.com/namisoft/coinflip/pkg/api/middleware"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/registry"
	"github.com/namisoft/coinflip/pkg/repositories"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
	stream *EventStream
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port int
	TLS  *TLSConfig
	// AdminToken protects the /registry endpoints; AdminAddr is the
	// caller identity those endpoints act as.
	AdminToken string
	AdminAddr  string
	Registry   *registry.GameMaster
	// Providers maps the names accepted in registration requests to
	// vetted randomness providers.
	Providers  map[string]registry.Provider
	Repository repositories.Repository
	Stream     *EventStream
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	adminMiddleware := middleware.NewAdminMiddleware(opts.AdminToken)

	r := mux.NewRouter()
	r.HandleFunc("/houses", handlers.HandleListHouses(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/houses/{houseID}", handlers.HandleGetHouse(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/houses/{houseID}/stats", handlers.HandleGetHouseStats(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/houses/{houseID}/bets", handlers.HandlePlaceBet(opts.Registry)).Methods(http.MethodPost)
	r.HandleFunc("/houses/{houseID}/bets/{betID}", handlers.HandleGetBet(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/houses/{houseID}/bets/{betID}/cancel", handlers.HandleCancelBet(opts.Registry)).Methods(http.MethodPost)
	r.HandleFunc("/houses/{houseID}/bets/{betID}/finalize", handlers.HandleFinalizeBet(opts.Registry)).Methods(http.MethodPost)
	if opts.Repository != nil {
		r.HandleFunc("/houses/{houseID}/events", handlers.HandleListEvents(opts.Registry, opts.Repository)).Methods(http.MethodGet)
	}
	if opts.Stream != nil {
		r.HandleFunc("/events", opts.Stream.HandleWebsocket).Methods(http.MethodGet)
	}

	admin := r.PathPrefix("/registry").Subrouter()
	admin.Use(adminMiddleware)
	admin.HandleFunc("/houses", handlers.HandleRegisterHouse(opts.Registry, opts.Providers)).Methods(http.MethodPost)
	admin.HandleFunc("/houses/{houseID}", handlers.HandleUnregisterHouse(opts.Registry, opts.AdminAddr)).Methods(http.MethodDelete)
	admin.HandleFunc("/houses/{houseID}/migrate", handlers.HandleMigrateHouse(opts.Registry, opts.AdminAddr)).Methods(http.MethodPost)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: r,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
		stream: opts.Stream,
	}
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
