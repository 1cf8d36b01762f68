// Package admin provides the REST API for managing imposters.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/shamd/shamd/pkg/engine"
	"github.com/shamd/shamd/pkg/logging"
	"github.com/shamd/shamd/pkg/metrics"
	"github.com/shamd/shamd/pkg/registry"
)

// AdminAPI exposes the imposter management endpoints.
type AdminAPI struct {
	reg    *registry.Registry
	engine *engine.Engine

	httpServer *http.Server
	port       int
	log        *slog.Logger
	version    string
	startTime  time.Time

	metricsRegistry *metrics.Registry
	impostersGauge  *metrics.Gauge

	mu      sync.Mutex
	running bool
}

// Option configures an AdminAPI.
type Option func(*AdminAPI)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *AdminAPI) {
		if log != nil {
			a.log = log
		}
	}
}

// WithVersion sets the version string reported by the status endpoint.
func WithVersion(v string) Option {
	return func(a *AdminAPI) { a.version = v }
}

// WithMetricsRegistry sets the registry served at /metrics.
func WithMetricsRegistry(reg *metrics.Registry) Option {
	return func(a *AdminAPI) { a.metricsRegistry = reg }
}

// NewAdminAPI creates the admin API over a registry and engine.
func NewAdminAPI(port int, reg *registry.Registry, eng *engine.Engine, opts ...Option) *AdminAPI {
	a := &AdminAPI{
		reg:     reg,
		engine:  eng,
		port:    port,
		log:     logging.Nop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metricsRegistry == nil {
		a.metricsRegistry = metrics.NewRegistry()
	}
	a.impostersGauge = a.metricsRegistry.NewGauge("shamd_imposters",
		"Number of registered imposters.")
	return a
}

// Start begins serving the admin API. It returns once the listener is
// bound; request serving continues in the background.
func (a *AdminAPI) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("admin API already running")
	}

	mux := http.NewServeMux()
	a.registerRoutes(mux)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("admin listen on %d: %w", a.port, err)
	}
	a.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.running = true
	a.startTime = time.Now()

	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin server stopped", "error", err)
		}
	}()

	a.log.Info("admin API listening", "port", a.port)
	return nil
}

// Shutdown stops the admin API.
func (a *AdminAPI) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	return a.httpServer.Shutdown(ctx)
}

// Handler returns the admin mux, used directly by tests.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerRoutes(mux)
	return mux
}
