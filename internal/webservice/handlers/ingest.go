package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/wattline/wattline/internal/constants"
	"github.com/wattline/wattline/internal/webservice/ingestion"
)

// IngestConfig exposes the dynamic parts of the ingest endpoint behavior.
type IngestConfig interface {
	IsValidKey(string) bool
	DefaultStrategy() string
}

// Ingest is the authenticated telemetry submission handler.
type Ingest struct {
	config        IngestConfig
	strategies    map[string]ingestion.Strategy
	maxUploadSize int64
}

// NewIngest creates a new Ingest handler dispatching to the given strategies.
func NewIngest(cfg IngestConfig, strategies map[string]ingestion.Strategy, maxUploadSize int64) *Ingest {
	return &Ingest{
		config:        cfg,
		strategies:    strategies,
		maxUploadSize: maxUploadSize,
	}
}

// ingestEnvelope is the optional JSON request body. Plain text bodies are
// accepted as-is, so collection scripts can POST their log tail directly.
type ingestEnvelope struct {
	CSV    string `json:"csv"`
	Raw    string `json:"raw"`
	Source string `json:"source"`
}

// ServeHTTP handles incoming telemetry submissions.
func (h *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()

	if !h.config.IsValidKey(r.Header.Get("x-api-key")) {
		writeError(w, http.StatusUnauthorized, "Invalid API key.")
		slog.Warn("Rejected submission with invalid API key", "req_id", reqID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body.")
		slog.Error("Failed to read request body", "req_id", reqID, "err", err)
		return
	}

	payload, source := string(body), ""
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		var env ingestEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body.")
			slog.Error("Invalid JSON body", "req_id", reqID, "err", err)
			return
		}
		payload = env.CSV
		if payload == "" {
			payload = env.Raw
		}
		source = env.Source
	}

	source = resolveSource(r, source)

	strategyName := h.config.DefaultStrategy()
	strategy, ok := h.strategies[strategyName]
	if !ok {
		writeError(w, http.StatusInternalServerError, "Ingestion strategy unavailable.")
		slog.Error("Configured ingestion strategy is not registered", "req_id", reqID, "strategy", strategyName)
		return
	}

	count, err := strategy.Ingest(r.Context(), payload, source)
	if errors.Is(err, ingestion.ErrEmptyPayload) {
		writeError(w, http.StatusBadRequest, "Payload contains no data.")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store telemetry.")
		slog.Error("Failed to store telemetry", "req_id", reqID, "strategy", strategyName, "err", err)
		return
	}

	slog.Info("Telemetry accepted", "req_id", reqID, "strategy", strategyName, "source", source, "lines", count)
	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: "Telemetry accepted.",
		Count:   &count,
	})
}

// resolveSource picks the submission source tag. The query parameter wins,
// then the JSON body field, then the x-source header.
func resolveSource(r *http.Request, bodySource string) string {
	if s := r.URL.Query().Get("source"); s != "" {
		return s
	}
	if bodySource != "" {
		return bodySource
	}
	if s := r.Header.Get("x-source"); s != "" {
		return s
	}
	return constants.DefaultSource
}
