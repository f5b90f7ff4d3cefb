package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/wattline/wattline/internal/constants"
	"github.com/wattline/wattline/internal/webservice/ingestion"
)

// queueResponse matches the shape legacy collection scripts already parse:
// a bare message on success, a bare error otherwise.
type queueResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// QueueIngest is the unauthenticated compatibility endpoint. It always uses
// the queue strategy, storing the payload verbatim for the batch processor.
type QueueIngest struct {
	strategy      ingestion.Strategy
	maxUploadSize int64
}

// NewQueueIngest creates a new QueueIngest handler backed by store.
func NewQueueIngest(store ingestion.QueueStore, maxUploadSize int64) *QueueIngest {
	return &QueueIngest{
		strategy:      ingestion.NewQueue(store),
		maxUploadSize: maxUploadSize,
	}
}

// ServeHTTP handles incoming raw payload submissions.
func (h *QueueIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, queueResponse{Error: "Failed to read request body."})
		slog.Error("Failed to read request body", "req_id", reqID, "err", err)
		return
	}

	count, err := h.strategy.Ingest(r.Context(), string(body), constants.DefaultSource)
	if errors.Is(err, ingestion.ErrEmptyPayload) {
		writeJSON(w, http.StatusBadRequest, queueResponse{Error: "No data provided."})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, queueResponse{Error: "Failed to queue data."})
		slog.Error("Failed to queue data", "req_id", reqID, "err", err)
		return
	}

	slog.Info("Payload queued", "req_id", reqID, "lines", count)
	writeJSON(w, http.StatusOK, queueResponse{Message: "Data queued successfully."})
}
