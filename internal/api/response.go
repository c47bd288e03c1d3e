// Package api provides HTTP response utilities for costbridge.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		// Use pre-marshaled fallback response - if this fails, we have bigger problems
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	// Write headers and response only after successful JSON marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// reauthLocation is surfaced on session-expired responses so the routing
// layer can redirect the caller to re-authenticate.
const reauthLocation = "/login"

// writeError converts a classified error into the envelope with the kind's
// associated status code. Session expiry maps to a redirect-style response so
// callers know to re-authenticate rather than retry.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	resp := models.Error(apperr.MessageOf(err))
	resp.Kind = string(kind)
	if kind == apperr.KindSessionExpired {
		resp.Location = reauthLocation
	}
	writeJSONResponse(w, apperr.HTTPStatus(kind), resp)
}
