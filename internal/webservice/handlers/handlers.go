// Package handlers provides HTTP handlers for the web service.
//
// Every response body is JSON, including errors. Clients are calculators and
// collection scripts, never browsers, so there is no HTML anywhere.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// response is the envelope shared by the authenticated endpoints.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   *int   `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Message: message})
}
