// Package processor drains the raw ingest queue into the metrics repository.
//
// Each queue item is handled in its own transaction: every metrics row
// derived from the item and the deletion of the item commit together, or not
// at all. A failing item is left queued for the next run and does not stop
// the remaining items from being attempted.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wattline/wattline/internal/database"
	"github.com/wattline/wattline/internal/telemetry"
)

// Store is the queue and metrics storage the processor drains into.
type Store interface {
	AcquireRunLock(ctx context.Context) (release func(), err error)
	PendingItems(ctx context.Context) ([]int64, error)
	ProcessItem(ctx context.Context, id int64, transform func(payload string) ([]telemetry.MetricsRecord, error)) (int, error)
}

// Processor converts queued raw CSV payloads into metrics rows.
type Processor struct {
	store  Store
	policy telemetry.Leniency

	itemsProcessed *prometheus.CounterVec
	rowsInserted   prometheus.Counter
	runDuration    prometheus.Histogram
}

// Summary reports the outcome of one processor run.
type Summary struct {
	Items  int // queue items fully committed and removed
	Failed int // queue items rolled back and left queued
	Rows   int // metrics rows inserted
}

// New creates a processor using the provided store, leniency policy, and
// Prometheus registerer.
func New(store Store, policy telemetry.Leniency, reg prometheus.Registerer) (*Processor, error) {
	itemsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_processor_items_processed_total",
		Help: "Number of queue items handled by the processor, by result.",
	}, []string{"result"})
	rowsInserted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_processor_rows_inserted_total",
		Help: "Number of metrics rows inserted by the processor.",
	})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_processor_run_duration_seconds",
		Help:    "Duration of processor runs.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	for _, c := range []prometheus.Collector{itemsProcessed, rowsInserted, runDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register processor metrics: %v", err)
		}
	}

	return &Processor{
		store:  store,
		policy: policy,

		itemsProcessed: itemsProcessed,
		rowsInserted:   rowsInserted,
		runDuration:    runDuration,
	}, nil
}

// Process performs one batch run: claim the run lock, read all pending queue
// items oldest first, and consume each one in its own transaction.
//
// A run lock held by another processor is not an error; the run reports no
// work and the next scheduled run retries. Item failures are logged and
// counted in the summary, not returned: only run-level failures (lock,
// listing, canceled context) produce an error.
func (p *Processor) Process(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { p.runDuration.Observe(time.Since(start).Seconds()) }()

	release, err := p.store.AcquireRunLock(ctx)
	if errors.Is(err, database.ErrRunLocked) {
		slog.Info("Another processor run is in progress, skipping")
		return Summary{}, nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer release()

	ids, err := p.store.PendingItems(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	if len(ids) == 0 {
		slog.Info("Queue is empty, no work to do")
		return Summary{}, nil
	}

	slog.Info("Starting queue processing", "pending", len(ids))

	var summary Summary
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		rows, err := p.store.ProcessItem(ctx, id, p.transform)
		if err != nil {
			slog.Error("Failed to process queue item, leaving it queued", "id", id, "err", err)
			p.itemsProcessed.WithLabelValues("failed").Inc()
			summary.Failed++
			continue
		}

		slog.Debug("Processed queue item", "id", id, "rows", rows)
		p.itemsProcessed.WithLabelValues("processed").Inc()
		p.rowsInserted.Add(float64(rows))
		summary.Items++
		summary.Rows += rows
	}

	slog.Info("Queue processing finished",
		"processed", summary.Items,
		"failed", summary.Failed,
		"rows", summary.Rows,
		"duration", time.Since(start))
	return summary, nil
}

// transform parses every non-blank line of a queue payload into a metrics
// record with its derived wattage.
//
// A line that is not the 6-field metrics shape fails the whole item so it
// stays queued for inspection; malformed numeric fields within a
// well-shaped line follow the leniency policy instead.
func (p *Processor) transform(payload string) ([]telemetry.MetricsRecord, error) {
	var records []telemetry.MetricsRecord
	for i, line := range telemetry.Lines(payload) {
		rec, err := telemetry.ParseMetricsLine(line, p.policy)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		rec.Derive()
		records = append(records, rec)
	}
	return records, nil
}
