package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DiagnosisService is the core the API exposes.
type DiagnosisService interface {
	Diagnose(ctx context.Context, crop domain.Crop, photo []byte, loc *domain.LocationInput) (domain.DiagnosisOutcome, error)
	FindSuppliers(ctx context.Context, loc domain.LocationInput) (domain.SupplierMatch, error)
	DescribeOrigin(ctx context.Context, origin domain.Coordinate) string
	IneligibleNotice() string
	Catalog() *domain.Catalog
	Directory() *domain.Directory
}

// ReadyFunc adapts a function to sharedobs.ReadinessChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

// Server exposes the diagnosis API alongside health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer     *http.Server
	service        DiagnosisService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewServer creates an HTTP server. Uploads larger than maxUploadBytes are
// refused with 413.
func NewServer(addr string, ready sharedobs.ReadinessChecker, service DiagnosisService, maxUploadBytes int64, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/crops", s.handleCrops)
	mux.HandleFunc("GET /v1/regions", s.handleRegions)
	mux.HandleFunc("GET /v1/suppliers", s.handleSuppliers)
	mux.HandleFunc("POST /v1/diagnoses", s.handleDiagnose)
	mux.HandleFunc("POST /v1/diagnoses/report", s.handleReport)

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
