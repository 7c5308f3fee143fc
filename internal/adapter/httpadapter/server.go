package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

// DatasetView is the read side of the refresh pipeline.
type DatasetView interface {
	Latest() (domain.Snapshot, bool)
	LastFailure() (domain.Failure, bool)
}

// Refresher schedules an asynchronous reload.
type Refresher interface {
	Trigger() bool
}

// Server exposes the dataset API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	view       DatasetView
	refresher  Refresher
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the ops routes and the /v1 dataset API.
func NewServer(addr string, ready sharedobs.ReadinessChecker, view DatasetView, refresher Refresher, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			// the unfiltered dataset is large
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		view:      view,
		refresher: refresher,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/dataset", s.withSnapshot(s.handleDataset))
	mux.HandleFunc("GET /v1/places", s.withSnapshot(s.handlePlaces))
	mux.HandleFunc("GET /v1/places/{place}", s.withSnapshot(s.handlePlace))
	mux.HandleFunc("GET /v1/range", s.withSnapshot(s.handleRange))
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/refresh", s.handleRefresh)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
