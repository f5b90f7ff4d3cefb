package processor_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattline/wattline/internal/database"
	"github.com/wattline/wattline/internal/processor"
	"github.com/wattline/wattline/internal/telemetry"
)

type mockStore struct {
	items       map[int64]string
	order       []int64
	lockErr     error
	pendingErr  error
	failItems   map[int64]error
	released    bool
	transformed map[int64][]telemetry.MetricsRecord
}

func newMockStore(items map[int64]string, order []int64) *mockStore {
	return &mockStore{
		items:       items,
		order:       order,
		failItems:   map[int64]error{},
		transformed: map[int64][]telemetry.MetricsRecord{},
	}
}

func (m *mockStore) AcquireRunLock(ctx context.Context) (func(), error) {
	if m.lockErr != nil {
		return nil, m.lockErr
	}
	return func() { m.released = true }, nil
}

func (m *mockStore) PendingItems(ctx context.Context) ([]int64, error) {
	if m.pendingErr != nil {
		return nil, m.pendingErr
	}
	return m.order, nil
}

func (m *mockStore) ProcessItem(ctx context.Context, id int64, transform func(string) ([]telemetry.MetricsRecord, error)) (int, error) {
	if err := m.failItems[id]; err != nil {
		return 0, err
	}
	payload, ok := m.items[id]
	if !ok {
		return 0, nil
	}
	records, err := transform(payload)
	if err != nil {
		return 0, err
	}
	m.transformed[id] = records
	delete(m.items, id)
	return len(records), nil
}

const validLine = "2024-05-01 09:30:00,WKS-042,42,50,40,1048576"

func TestProcess(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		items      map[int64]string
		order      []int64
		failItems  map[int64]error
		lockErr    error
		pendingErr error
		policy     telemetry.Leniency

		want    processor.Summary
		wantErr bool
	}{
		"Empty queue is no work": {
			want: processor.Summary{},
		},
		"Single item with several lines": {
			items: map[int64]string{1: validLine + "\n" + validLine},
			order: []int64{1},
			want:  processor.Summary{Items: 1, Rows: 2},
		},
		"Items processed oldest first": {
			items: map[int64]string{1: validLine, 2: validLine, 3: validLine},
			order: []int64{1, 2, 3},
			want:  processor.Summary{Items: 3, Rows: 3},
		},
		"Failed item does not stop the run": {
			items:     map[int64]string{1: validLine, 2: validLine, 3: validLine},
			order:     []int64{1, 2, 3},
			failItems: map[int64]error{2: errors.New("error requested by test")},
			want:      processor.Summary{Items: 2, Failed: 1, Rows: 2},
		},
		"Malformed line shape fails only its item": {
			items: map[int64]string{1: "not,the,right,shape", 2: validLine},
			order: []int64{1, 2},
			want:  processor.Summary{Items: 1, Failed: 1, Rows: 1},
		},
		"Coercion keeps malformed numerics": {
			items: map[int64]string{1: "ts,host,7,N/A,??,bad"},
			order: []int64{1},
			want:  processor.Summary{Items: 1, Rows: 1},
		},
		"Strict policy fails the coercible item": {
			items:  map[int64]string{1: "ts,host,7,N/A,??,bad", 2: validLine},
			order:  []int64{1, 2},
			policy: telemetry.Strict,
			want:   processor.Summary{Items: 1, Failed: 1, Rows: 1},
		},
		"Held lock reports no work": {
			items:   map[int64]string{1: validLine},
			order:   []int64{1},
			lockErr: database.ErrRunLocked,
			want:    processor.Summary{},
		},

		// Error cases
		"Lock failure errors": {
			lockErr: errors.New("error requested by test"),
			wantErr: true,
		},
		"Pending listing failure errors": {
			pendingErr: errors.New("error requested by test"),
			wantErr:    true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore(tc.items, tc.order)
			store.lockErr = tc.lockErr
			store.pendingErr = tc.pendingErr
			for id, err := range tc.failItems {
				store.failItems[id] = err
			}

			proc, err := processor.New(store, tc.policy, prometheus.NewRegistry())
			require.NoError(t, err, "Setup: failed to create processor")

			summary, err := proc.Process(t.Context())
			if tc.wantErr {
				require.Error(t, err, "expected Process to fail")
				return
			}
			require.NoError(t, err, "expected Process to succeed")
			assert.Equal(t, tc.want, summary, "unexpected run summary")
		})
	}
}

func TestProcessDerivesWatts(t *testing.T) {
	t.Parallel()

	store := newMockStore(map[int64]string{1: validLine}, []int64{1})
	proc, err := processor.New(store, telemetry.CoerceZero, prometheus.NewRegistry())
	require.NoError(t, err, "Setup: failed to create processor")

	_, err = proc.Process(t.Context())
	require.NoError(t, err, "expected Process to succeed")

	records := store.transformed[1]
	require.Len(t, records, 1)
	// 50*0.85 + 40*0.25 + 22.5
	assert.InDelta(t, 75.0, records[0].InferredWatts, 1e-9, "unexpected derived wattage")
}

func TestReprocessingYieldsIdenticalRows(t *testing.T) {
	t.Parallel()

	// Simulates a crash-and-retry: the same undeleted item is processed by
	// two separate runs. The derived rows must be identical both times.
	payload := validLine + "\n" + "2024-05-01 09:31:00,WKS-042,42,10,20,2048"

	first := newMockStore(map[int64]string{7: payload}, []int64{7})
	second := newMockStore(map[int64]string{7: payload}, []int64{7})

	for _, store := range []*mockStore{first, second} {
		proc, err := processor.New(store, telemetry.CoerceZero, prometheus.NewRegistry())
		require.NoError(t, err, "Setup: failed to create processor")
		_, err = proc.Process(t.Context())
		require.NoError(t, err, "expected Process to succeed")
	}

	assert.Equal(t, first.transformed[7], second.transformed[7], "retried item must yield the same rows")
}

func TestProcessReleasesLock(t *testing.T) {
	t.Parallel()

	store := newMockStore(map[int64]string{1: validLine}, []int64{1})
	proc, err := processor.New(store, telemetry.CoerceZero, prometheus.NewRegistry())
	require.NoError(t, err, "Setup: failed to create processor")

	_, err = proc.Process(t.Context())
	require.NoError(t, err, "expected Process to succeed")
	assert.True(t, store.released, "run lock must be released after the run")
}

func TestProcessMetrics(t *testing.T) {
	t.Parallel()

	store := newMockStore(map[int64]string{1: validLine + "\n" + validLine, 2: validLine}, []int64{1, 2, 3})
	store.failItems[3] = errors.New("error requested by test")

	reg := prometheus.NewRegistry()
	proc, err := processor.New(store, telemetry.CoerceZero, reg)
	require.NoError(t, err, "Setup: failed to create processor")

	_, err = proc.Process(t.Context())
	require.NoError(t, err, "expected Process to succeed")

	mfs, err := reg.Gather()
	require.NoError(t, err, "failed to gather metrics")

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		require.NoError(t, enc.Encode(mf), "failed to encode metric family")
	}

	out := buf.String()
	assert.Contains(t, out, `ingest_processor_items_processed_total{result="processed"} 2`)
	assert.Contains(t, out, `ingest_processor_items_processed_total{result="failed"} 1`)
	assert.Contains(t, out, `ingest_processor_rows_inserted_total 3`)
}

func TestNewRejectsDuplicateMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_processor_items_processed_total",
	}, []string{"result"}))

	_, err := processor.New(newMockStore(nil, nil), telemetry.CoerceZero, reg)
	require.Error(t, err, "expected New to fail on an already registered collector")
}
