package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattline/wattline/internal/database"
	"github.com/wattline/wattline/internal/telemetry"
	"github.com/wattline/wattline/internal/webservice/handlers"
	"github.com/wattline/wattline/internal/webservice/ingestion"
)

const maxUploadSize = 1 << 17

type mockConfig struct {
	keys     []string
	strategy string
}

func (m *mockConfig) IsValidKey(key string) bool {
	for _, k := range m.keys {
		if key == k {
			return true
		}
	}
	return false
}

func (m *mockConfig) DefaultStrategy() string {
	if m.strategy == "" {
		return "direct"
	}
	return m.strategy
}

type mockStore struct {
	insertErr  error
	enqueueErr error
	listErr    error
	detailsErr error
	saveErr    error

	inserted []telemetry.Record
	enqueued []string
	audits   []database.Audit
	devices  []database.Device

	savedName    string
	savedNotes   *string
	savedDevices []database.Device
}

func (m *mockStore) InsertTelemetry(ctx context.Context, rec telemetry.Record) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, rec)
	return nil
}

func (m *mockStore) Enqueue(ctx context.Context, payload string) (int64, error) {
	if m.enqueueErr != nil {
		return 0, m.enqueueErr
	}
	m.enqueued = append(m.enqueued, payload)
	return int64(len(m.enqueued)), nil
}

func (m *mockStore) ListAudits(ctx context.Context) ([]database.Audit, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.audits, nil
}

func (m *mockStore) GetAuditDetails(ctx context.Context, auditID int64) ([]database.Device, error) {
	if m.detailsErr != nil {
		return nil, m.detailsErr
	}
	return m.devices, nil
}

func (m *mockStore) SaveAudit(ctx context.Context, name string, notes *string, devices []database.Device) (int64, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.savedName = name
	m.savedNotes = notes
	m.savedDevices = devices
	return 42, nil
}

func newIngestHandler(cfg *mockConfig, store *mockStore) *handlers.Ingest {
	strategies := map[string]ingestion.Strategy{
		"direct": ingestion.NewDirect(store),
		"queue":  ingestion.NewQueue(store),
	}
	return handlers.NewIngest(cfg, strategies, maxUploadSize)
}

func TestIngest(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		apiKey      string
		contentType string
		body        string
		query       string
		headers     map[string]string
		strategy    string
		insertErr   error
		enqueueErr  error

		wantStatus   int
		wantCount    int
		wantSource   string
		wantInserted int
		wantEnqueued int
	}{
		"Plain text body with direct strategy": {
			apiKey:       "valid-key",
			body:         "2024-01-01T10:00:00Z,42.5\nnot a line\n",
			wantStatus:   http.StatusOK,
			wantCount:    2,
			wantSource:   "unknown",
			wantInserted: 2,
		},
		"JSON envelope with csv field": {
			apiKey:       "valid-key",
			contentType:  "application/json",
			body:         `{"csv": "2024-01-01T10:00:00Z,42.5", "source": "lab-3"}`,
			wantStatus:   http.StatusOK,
			wantCount:    1,
			wantSource:   "lab-3",
			wantInserted: 1,
		},
		"JSON envelope falls back to raw field": {
			apiKey:       "valid-key",
			contentType:  "application/json; charset=utf-8",
			body:         `{"raw": "free text report"}`,
			wantStatus:   http.StatusOK,
			wantCount:    1,
			wantSource:   "unknown",
			wantInserted: 1,
		},
		"Query source overrides body source": {
			apiKey:       "valid-key",
			contentType:  "application/json",
			body:         `{"csv": "2024-01-01T10:00:00Z,42.5", "source": "body-source"}`,
			query:        "?source=query-source",
			wantStatus:   http.StatusOK,
			wantCount:    1,
			wantSource:   "query-source",
			wantInserted: 1,
		},
		"Header source used when body has none": {
			apiKey:       "valid-key",
			body:         "2024-01-01T10:00:00Z,42.5",
			headers:      map[string]string{"x-source": "header-source"},
			wantStatus:   http.StatusOK,
			wantCount:    1,
			wantSource:   "header-source",
			wantInserted: 1,
		},
		"Queue strategy enqueues verbatim": {
			apiKey:       "valid-key",
			strategy:     "queue",
			body:         "line one\nline two",
			wantStatus:   http.StatusOK,
			wantCount:    2,
			wantEnqueued: 1,
		},

		// Error cases
		"Missing API key is unauthorized": {
			body:       "2024-01-01T10:00:00Z,42.5",
			wantStatus: http.StatusUnauthorized,
		},
		"Wrong API key is unauthorized": {
			apiKey:     "other-key",
			body:       "2024-01-01T10:00:00Z,42.5",
			wantStatus: http.StatusUnauthorized,
		},
		"Empty body is a bad request": {
			apiKey:     "valid-key",
			body:       "  \n ",
			wantStatus: http.StatusBadRequest,
		},
		"Invalid JSON body is a bad request": {
			apiKey:      "valid-key",
			contentType: "application/json",
			body:        "{not json",
			wantStatus:  http.StatusBadRequest,
		},
		"Store failure is an internal error": {
			apiKey:     "valid-key",
			body:       "2024-01-01T10:00:00Z,42.5",
			insertErr:  errors.New("error requested by test"),
			wantStatus: http.StatusInternalServerError,
		},
		"Unknown configured strategy is an internal error": {
			apiKey:     "valid-key",
			strategy:   "carrier-pigeon",
			body:       "2024-01-01T10:00:00Z,42.5",
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := &mockConfig{keys: []string{"valid-key"}, strategy: tc.strategy}
			store := &mockStore{insertErr: tc.insertErr, enqueueErr: tc.enqueueErr}
			h := newIngestHandler(cfg, store)

			req := httptest.NewRequest(http.MethodPost, "/ingest"+tc.query, strings.NewReader(tc.body))
			if tc.apiKey != "" {
				req.Header.Set("x-api-key", tc.apiKey)
			}
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.Equal(t, tc.wantStatus, w.Code, "unexpected status code, body: %s", w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
				Count   *int   `json:"count"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "response must be JSON")

			if tc.wantStatus != http.StatusOK {
				assert.False(t, resp.Success)
				assert.NotEmpty(t, resp.Message, "error responses carry a message")
				return
			}

			assert.True(t, resp.Success)
			require.NotNil(t, resp.Count, "success responses carry a count")
			assert.Equal(t, tc.wantCount, *resp.Count, "unexpected accepted line count")
			assert.Len(t, store.inserted, tc.wantInserted)
			assert.Len(t, store.enqueued, tc.wantEnqueued)
			for _, rec := range store.inserted {
				assert.Equal(t, tc.wantSource, rec.Source, "records should carry the resolved source")
			}
		})
	}
}

func TestQueueIngest(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		body       string
		enqueueErr error

		wantStatus   int
		wantEnqueued int
	}{
		"Payload queued verbatim": {
			body:         "line one\nline two\n",
			wantStatus:   http.StatusOK,
			wantEnqueued: 1,
		},

		// Error cases
		"Empty body is a bad request": {
			body:       "",
			wantStatus: http.StatusBadRequest,
		},
		"Enqueue failure is an internal error": {
			body:       "line one",
			enqueueErr: errors.New("error requested by test"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := &mockStore{enqueueErr: tc.enqueueErr}
			h := handlers.NewQueueIngest(store, maxUploadSize)

			req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.Equal(t, tc.wantStatus, w.Code, "unexpected status code, body: %s", w.Body.String())

			var resp struct {
				Message string `json:"message"`
				Error   string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "response must be JSON")

			if tc.wantStatus != http.StatusOK {
				assert.NotEmpty(t, resp.Error, "error responses carry an error message")
				assert.Empty(t, store.enqueued)
				return
			}

			assert.Equal(t, "Data queued successfully.", resp.Message)
			require.Len(t, store.enqueued, tc.wantEnqueued)
			assert.Equal(t, tc.body, store.enqueued[0], "payload must be stored verbatim")
		})
	}
}

func TestVersionHandler(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	w := httptest.NewRecorder()
	handlers.VersionHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Version)
}

func auditFixture() []database.Audit {
	notes := "baseline"
	return []database.Audit{
		{ID: 2, Name: "office", Notes: &notes, CreatedAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)},
		{ID: 1, Name: "lab", CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
}
