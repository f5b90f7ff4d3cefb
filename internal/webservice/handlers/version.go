package handlers

import (
	"net/http"

	"github.com/wattline/wattline/internal/constants"
)

type versionResponse struct {
	Version string `json:"version"`
}

// VersionHandler handles requests to the /version endpoint.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	writeJSON(w, http.StatusOK, versionResponse{Version: constants.Version})
}
