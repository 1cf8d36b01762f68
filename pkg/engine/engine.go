// Package engine runs one HTTP listener per imposter and answers requests
// by matching them against the imposter's compiled stubs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shamd/shamd/pkg/imposter"
	"github.com/shamd/shamd/pkg/logging"
	"github.com/shamd/shamd/pkg/metrics"
	"github.com/shamd/shamd/pkg/registry"

	"github.com/shamd/shamd/internal/predicates"
)

// maxBodyBytes bounds how much of a request body is read for matching.
const maxBodyBytes = 10 << 20

// Engine owns the per-imposter listeners. All state transitions go through
// the mutex; request handling only touches the imposter's compiled form.
type Engine struct {
	log *slog.Logger
	reg *registry.Registry

	requestsTotal *metrics.Counter
	matchLatency  *metrics.Histogram

	mu      sync.Mutex
	servers map[int]*http.Server
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics registers the engine's metric families on the registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) {
		e.requestsTotal = reg.NewCounter("shamd_requests_total",
			"Requests received by imposters.", "port", "matched")
		e.matchLatency = reg.NewHistogram("shamd_match_seconds",
			"Time spent matching a request against stubs.", nil)
	}
}

// New creates an engine over a registry.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		log:     logging.Nop(),
		reg:     reg,
		servers: make(map[int]*http.Server),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartImposter opens the imposter's listener. The imposter must already be
// registered; a listen failure leaves the registry untouched.
func (e *Engine) StartImposter(imp *imposter.Compiled) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.servers[imp.Port]; running {
		return fmt.Errorf("port %d already serving", imp.Port)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", imp.Port))
	if err != nil {
		return fmt.Errorf("listen on %d: %w", imp.Port, err)
	}

	srv := &http.Server{
		Handler:           e.handler(imp),
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.servers[imp.Port] = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("imposter server stopped", "port", imp.Port, "error", err)
		}
	}()

	e.log.Info("imposter listening", "port", imp.Port, "name", imp.Name, "stubs", len(imp.Stubs))
	return nil
}

// StartAll opens a listener for every imposter currently registered,
// typically after loading imposters from configuration files at boot.
func (e *Engine) StartAll() error {
	for _, imp := range e.reg.List() {
		if err := e.StartImposter(imp); err != nil {
			return err
		}
	}
	return nil
}

// StopImposter shuts down the listener on a port.
func (e *Engine) StopImposter(ctx context.Context, port int) error {
	e.mu.Lock()
	srv, ok := e.servers[port]
	delete(e.servers, port)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	e.log.Info("imposter stopped", "port", port)
	return srv.Shutdown(ctx)
}

// Shutdown stops every listener.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	servers := e.servers
	e.servers = make(map[int]*http.Server)
	e.mu.Unlock()

	var firstErr error
	for port, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown port %d: %w", port, err)
		}
	}
	return firstErr
}

// handler builds the request handler for one imposter.
func (e *Engine) handler(imp *imposter.Compiled) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		f := predicates.FromRequest(r, body)
		imp.Record(f)

		start := time.Now()
		stub := imp.Match(f)
		if e.matchLatency != nil {
			e.matchLatency.Observe(time.Since(start).Seconds())
		}
		if e.requestsTotal != nil {
			e.requestsTotal.With(strconv.Itoa(imp.Port), strconv.FormatBool(stub != nil)).Inc()
		}

		if stub == nil {
			e.log.Debug("no stub matched", "port", imp.Port, "method", r.Method, "path", r.URL.Path)
			writeResponse(w, imp.DefaultResponse)
			return
		}
		resp := stub.NextResponse()
		if resp == nil {
			// A matched stub with no responses serves the imposter default.
			resp = imp.DefaultResponse
		}
		writeResponse(w, resp)
	})
}

// writeResponse renders a canned response. A missing response or one with
// no is block degrades to an empty 200.
func writeResponse(w http.ResponseWriter, resp *imposter.Response) {
	if resp == nil || resp.Is == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	is := resp.Is
	for k, v := range is.Headers {
		w.Header().Set(k, v)
	}
	status := is.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(is.BodyBytes())
}
