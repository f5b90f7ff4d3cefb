// Package ingestion defines the strategies for accepting telemetry payloads.
//
// Both strategies accept the same input, a raw payload and a source tag, and
// differ only in where the data lands: Direct parses every line immediately
// and writes telemetry rows, Queue stores the payload verbatim for the batch
// processor to pick up. Which one an endpoint uses is configuration, not a
// separate code path.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/wattline/wattline/internal/telemetry"
)

// ErrEmptyPayload is returned when a payload contains no non-blank lines.
var ErrEmptyPayload = errors.New("payload contains no data")

// Strategy ingests one raw payload and reports how many lines were accepted.
type Strategy interface {
	Name() string
	Ingest(ctx context.Context, payload, source string) (count int, err error)
}

// TelemetryStore persists individual parsed telemetry records.
type TelemetryStore interface {
	InsertTelemetry(ctx context.Context, rec telemetry.Record) error
}

// QueueStore persists raw payloads for later batch processing.
type QueueStore interface {
	Enqueue(ctx context.Context, payload string) (int64, error)
}

// Direct parses each line as it arrives and writes one telemetry row per
// line. Unparseable lines are stored unstructured, never dropped.
type Direct struct {
	store TelemetryStore
}

// NewDirect creates the direct ingestion strategy.
func NewDirect(store TelemetryStore) *Direct {
	return &Direct{store: store}
}

// Name implements Strategy.
func (d *Direct) Name() string { return "direct" }

// Ingest implements Strategy. Concurrent submissions are independent: each
// line is a separate insert with no read-modify-write.
func (d *Direct) Ingest(ctx context.Context, payload, source string) (int, error) {
	lines := telemetry.Lines(payload)
	if len(lines) == 0 {
		return 0, ErrEmptyPayload
	}

	for i, line := range lines {
		rec := telemetry.ParseLine(line, source)
		if err := d.store.InsertTelemetry(ctx, rec); err != nil {
			return i, fmt.Errorf("failed to store line %d: %w", i+1, err)
		}
	}
	return len(lines), nil
}

// Queue stores the whole payload as a single queue item, leaving parsing to
// the batch processor.
type Queue struct {
	store QueueStore
}

// NewQueue creates the queue ingestion strategy.
func NewQueue(store QueueStore) *Queue {
	return &Queue{store: store}
}

// Name implements Strategy.
func (q *Queue) Name() string { return "queue" }

// Ingest implements Strategy.
func (q *Queue) Ingest(ctx context.Context, payload, source string) (int, error) {
	lines := telemetry.Lines(payload)
	if len(lines) == 0 {
		return 0, ErrEmptyPayload
	}

	if _, err := q.store.Enqueue(ctx, payload); err != nil {
		return 0, fmt.Errorf("failed to enqueue payload: %w", err)
	}
	return len(lines), nil
}
