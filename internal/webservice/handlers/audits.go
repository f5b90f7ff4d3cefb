package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/wattline/wattline/internal/database"
)

// AuditStore persists and retrieves energy audits.
type AuditStore interface {
	ListAudits(ctx context.Context) ([]database.Audit, error)
	GetAuditDetails(ctx context.Context, auditID int64) ([]database.Device, error)
	SaveAudit(ctx context.Context, name string, notes *string, devices []database.Device) (int64, error)
}

// AuditList serves the saved audits, most recent first.
type AuditList struct {
	store AuditStore
}

// NewAuditList creates a new AuditList handler.
func NewAuditList(store AuditStore) *AuditList {
	return &AuditList{store: store}
}

type auditListResponse struct {
	Success bool             `json:"success"`
	Audits  []database.Audit `json:"audits"`
}

// ServeHTTP handles audit listing requests.
func (h *AuditList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	audits, err := h.store.ListAudits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load audits.")
		slog.Error("Failed to load audits", "err", err)
		return
	}
	writeJSON(w, http.StatusOK, auditListResponse{Success: true, Audits: audits})
}

// AuditDevices serves the device line items of a single audit.
type AuditDevices struct {
	store AuditStore
}

// NewAuditDevices creates a new AuditDevices handler.
func NewAuditDevices(store AuditStore) *AuditDevices {
	return &AuditDevices{store: store}
}

type auditDevicesResponse struct {
	Success bool              `json:"success"`
	Devices []database.Device `json:"devices"`
}

// ServeHTTP handles audit detail requests.
func (h *AuditDevices) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auditID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid audit id.")
		return
	}

	devices, err := h.store.GetAuditDetails(r.Context(), auditID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load audit devices.")
		slog.Error("Failed to load audit devices", "audit_id", auditID, "err", err)
		return
	}
	writeJSON(w, http.StatusOK, auditDevicesResponse{Success: true, Devices: devices})
}

// AuditSave stores a new audit with its devices.
type AuditSave struct {
	store         AuditStore
	maxUploadSize int64
}

// NewAuditSave creates a new AuditSave handler.
func NewAuditSave(store AuditStore, maxUploadSize int64) *AuditSave {
	return &AuditSave{store: store, maxUploadSize: maxUploadSize}
}

// saveAuditRequest mirrors the field names the calculator frontend sends.
type saveAuditRequest struct {
	AuditName string            `json:"auditName"`
	Notes     *string           `json:"notes"`
	Devices   []saveAuditDevice `json:"devices"`
}

type saveAuditDevice struct {
	Class       string  `json:"class"`
	Description *string `json:"description"`
	Power       int     `json:"power"`
	Quantity    int     `json:"quantity"`
	Time        float64 `json:"time"`
	DailyKwh    float64 `json:"dailyKwh"`
}

type saveAuditResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	AuditID int64  `json:"audit_id"`
}

// ServeHTTP handles audit save requests.
//
// The audit and its devices are stored atomically; a failure leaves no
// partial audit behind.
func (h *AuditSave) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	var req saveAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	req.AuditName = strings.TrimSpace(req.AuditName)
	if req.AuditName == "" {
		writeError(w, http.StatusBadRequest, "Audit name is required.")
		return
	}
	// An explicitly empty list is a valid audit with no devices; only an
	// absent field is rejected.
	if req.Devices == nil {
		writeError(w, http.StatusBadRequest, "Devices list is required.")
		return
	}

	devices := make([]database.Device, 0, len(req.Devices))
	for _, d := range req.Devices {
		devices = append(devices, database.Device{
			Class:            d.Class,
			Description:      d.Description,
			PowerRatingWatts: d.Power,
			Quantity:         d.Quantity,
			HoursPerDay:      d.Time,
			DailyKwhTotal:    d.DailyKwh,
		})
	}

	auditID, err := h.store.SaveAudit(r.Context(), req.AuditName, req.Notes, devices)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save audit.")
		slog.Error("Failed to save audit", "req_id", reqID, "err", err)
		return
	}

	slog.Info("Audit saved", "req_id", reqID, "audit_id", auditID, "devices", len(devices))
	writeJSON(w, http.StatusOK, saveAuditResponse{
		Success: true,
		Message: "Audit saved.",
		AuditID: auditID,
	})
}
