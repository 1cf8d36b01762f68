// Error handling utilities for the admin API. Definition errors coming
// from the user's own imposter JSON are returned verbatim; anything else is
// sanitized to avoid leaking internal details.

package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shamd/shamd/pkg/registry"
)

// Safe generic messages for client responses.
const (
	ErrMsgInternalError = "An internal error occurred"
	ErrMsgInvalidJSON   = "Invalid JSON in request body"
	ErrMsgNotFound      = "Resource not found"
)

// apiError is the wire shape of every error response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

// sanitizeError logs the full error server-side and returns a message safe
// for the client.
func sanitizeError(err error, log *slog.Logger, operation string, details ...any) string {
	if log != nil {
		args := []any{"operation", operation, "error", err}
		args = append(args, details...)
		log.Error("operation failed", args...)
	}
	if errors.Is(err, registry.ErrNotFound) {
		return ErrMsgNotFound
	}
	return ErrMsgInternalError
}
