// Route registration for the admin API.

package admin

import (
	"net/http"
)

// registerRoutes sets up all API routes.
func (a *AdminAPI) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.Handle("GET /metrics", a.metricsRegistry.Handler())

	mux.HandleFunc("GET /imposters", a.handleListImposters)
	mux.HandleFunc("POST /imposters", a.handleCreateImposter)
	mux.HandleFunc("PUT /imposters", a.handleReplaceImposters)
	mux.HandleFunc("DELETE /imposters", a.handleDeleteAllImposters)
	mux.HandleFunc("GET /imposters/{port}", a.handleGetImposter)
	mux.HandleFunc("DELETE /imposters/{port}", a.handleDeleteImposter)
}
