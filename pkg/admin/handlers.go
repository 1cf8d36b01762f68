// HTTP handlers for imposter management.

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shamd/shamd/pkg/imposter"
	"github.com/shamd/shamd/pkg/registry"
)

// stopTimeout bounds how long a delete waits for an imposter's listener.
const stopTimeout = 5 * time.Second

// imposterSummary is the shallow list representation.
type imposterSummary struct {
	Port             int    `json:"port"`
	Protocol         string `json:"protocol"`
	Name             string `json:"name,omitempty"`
	NumberOfStubs    int    `json:"numberOfStubs"`
	NumberOfRequests int    `json:"numberOfRequests"`
}

// imposterDetail is the full representation returned for a single imposter.
type imposterDetail struct {
	imposter.Imposter
	Requests         []imposter.RecordedRequest `json:"requests,omitempty"`
	NumberOfRequests int                        `json:"numberOfRequests"`
}

func summarize(imp *imposter.Compiled) imposterSummary {
	return imposterSummary{
		Port:             imp.Port,
		Protocol:         imp.Protocol,
		Name:             imp.Name,
		NumberOfStubs:    len(imp.Stubs),
		NumberOfRequests: imp.NumberOfRequests(),
	}
}

func detail(imp *imposter.Compiled) imposterDetail {
	return imposterDetail{
		Imposter:         imp.Imposter,
		Requests:         imp.Requests(),
		NumberOfRequests: imp.NumberOfRequests(),
	}
}

func (a *AdminAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminAPI) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   a.version,
		"uptime":    time.Since(a.startTime).Round(time.Second).String(),
		"imposters": len(a.reg.List()),
	})
}

func (a *AdminAPI) handleListImposters(w http.ResponseWriter, _ *http.Request) {
	imps := a.reg.List()
	out := make([]imposterSummary, 0, len(imps))
	for _, imp := range imps {
		out = append(out, summarize(imp))
	}
	writeJSON(w, http.StatusOK, map[string]any{"imposters": out})
}

func (a *AdminAPI) handleCreateImposter(w http.ResponseWriter, r *http.Request) {
	var def imposter.Imposter
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", ErrMsgInvalidJSON)
		return
	}

	comp, err := imposter.Compile(&def)
	if err != nil {
		// Definition errors describe the user's own input, so the message
		// is safe to return.
		writeError(w, http.StatusBadRequest, "invalid_imposter", err.Error())
		return
	}

	if err := a.reg.Add(comp); err != nil {
		if errors.Is(err, registry.ErrPortInUse) {
			writeError(w, http.StatusConflict, "port_in_use", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "registry_error",
			sanitizeError(err, a.log, "register imposter", "port", comp.Port))
		return
	}

	if err := a.engine.StartImposter(comp); err != nil {
		_, _ = a.reg.Delete(comp.Port)
		writeError(w, http.StatusBadRequest, "bind_failed",
			sanitizeError(err, a.log, "start imposter", "port", comp.Port))
		return
	}

	a.updateGauge()
	a.log.Info("imposter created", "port", comp.Port, "stubs", len(comp.Stubs))
	writeJSON(w, http.StatusCreated, detail(comp))
}

func (a *AdminAPI) handleReplaceImposters(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Imposters []imposter.Imposter `json:"imposters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", ErrMsgInvalidJSON)
		return
	}

	compiled := make([]*imposter.Compiled, 0, len(payload.Imposters))
	for i := range payload.Imposters {
		comp, err := imposter.Compile(&payload.Imposters[i])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_imposter", err.Error())
			return
		}
		compiled = append(compiled, comp)
	}

	// Swap the registry before touching any listener so a rejected payload
	// (duplicate ports) leaves the current imposters serving untouched.
	old := a.reg.List()
	if err := a.reg.Replace(compiled); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_imposter", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	for _, imp := range old {
		_ = a.engine.StopImposter(ctx, imp.Port)
	}

	for i, comp := range compiled {
		if err := a.engine.StartImposter(comp); err != nil {
			// Unregister the failing imposter and everything not yet started
			// so the registry only lists imposters with a live listener.
			for _, rest := range compiled[i:] {
				_, _ = a.reg.Delete(rest.Port)
			}
			a.updateGauge()
			writeError(w, http.StatusBadRequest, "bind_failed",
				sanitizeError(err, a.log, "start imposter", "port", comp.Port))
			return
		}
	}

	a.updateGauge()
	a.handleListImposters(w, r)
}

func (a *AdminAPI) handleDeleteAllImposters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	removed := a.reg.DeleteAll()
	out := make([]imposterDetail, 0, len(removed))
	for _, imp := range removed {
		_ = a.engine.StopImposter(ctx, imp.Port)
		out = append(out, detail(imp))
	}

	a.updateGauge()
	writeJSON(w, http.StatusOK, map[string]any{"imposters": out})
}

func (a *AdminAPI) handleGetImposter(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	imp, err := a.reg.Get(port)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", ErrMsgNotFound)
		return
	}
	writeJSON(w, http.StatusOK, detail(imp))
}

func (a *AdminAPI) handleDeleteImposter(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	imp, err := a.reg.Delete(port)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", ErrMsgNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	_ = a.engine.StopImposter(ctx, port)

	a.updateGauge()
	a.log.Info("imposter deleted", "port", port)
	writeJSON(w, http.StatusOK, detail(imp))
}

func (a *AdminAPI) updateGauge() {
	a.impostersGauge.Set(float64(len(a.reg.List())))
}

func portParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_port", "Port must be an integer")
		return 0, false
	}
	return port, true
}
