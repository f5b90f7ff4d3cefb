package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/wattline/wattline/internal/telemetry"
)

// processorLockKey identifies the batch-processor advisory lock. Two
// processors against the same database contend on this key, so overlapping
// runs cannot double-process queue items.
const processorLockKey = int64(0x77617474_6c696e65)

// ErrRunLocked is returned when another batch-processor run holds the
// advisory lock.
var ErrRunLocked = errors.New("another processor run holds the queue lock")

// Enqueue appends one raw payload to the ingest queue and returns its id.
// Ids are assigned by the store and are monotonically increasing.
func (db Manager) Enqueue(ctx context.Context, payload string) (int64, error) {
	pool, err := db.pool()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var id int64
	err = pool.QueryRow(ctx,
		`INSERT INTO ingest_queue (payload) VALUES ($1) RETURNING id`,
		payload,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue payload: %v", err)
	}
	return id, nil
}

// PendingItems returns the ids of all queued items, oldest first. Ascending
// id order is the only ordering guarantee the queue makes.
func (db Manager) PendingItems(ctx context.Context) ([]int64, error) {
	pool, err := db.pool()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	rows, err := pool.Query(ctx, `SELECT id FROM ingest_queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %v", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan queue item id: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue items: %v", err)
	}
	return ids, nil
}

// AcquireRunLock claims the processor advisory lock.
//
// The lock is transaction scoped: it is held until the returned release
// function is called, and released by the database automatically if the
// session dies. Returns ErrRunLocked if another run holds it.
func (db Manager) AcquireRunLock(ctx context.Context) (release func(), err error) {
	pool, err := db.pool()
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin lock transaction: %v", err)
	}

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, processorLockKey).Scan(&locked); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("failed to acquire processor lock: %v", err)
	}
	if !locked {
		_ = tx.Rollback(ctx)
		return nil, ErrRunLocked
	}

	return func() {
		if err := tx.Commit(ctx); err != nil {
			slog.Warn("Failed to release processor lock cleanly", "err", err)
		}
	}, nil
}

// ProcessItem consumes one queue item: within a single transaction it claims
// the item's row, transforms its payload into metrics records, inserts one
// metrics row per record, and deletes the item.
//
// Either everything derived from the item is committed and the item is gone,
// or nothing is and the item stays queued for the next run. An item that
// disappeared before the claim (consumed by a previous run) counts as zero
// rows and no error.
func (db Manager) ProcessItem(ctx context.Context, id int64, transform func(payload string) ([]telemetry.MetricsRecord, error)) (inserted int, err error) {
	pool, err := db.pool()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for item %d: %v", id, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var payload string
	err = tx.QueryRow(ctx, `SELECT payload FROM ingest_queue WHERE id = $1 FOR UPDATE`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already consumed, nothing to do.
		return 0, tx.Rollback(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to claim queue item %d: %v", id, err)
	}

	records, err := transform(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to transform queue item %d: %w", id, err)
	}

	for _, rec := range records {
		if _, err = tx.Exec(ctx,
			`INSERT INTO metrics_repository (
				timestamp_utc,
				computer_name,
				computer_number,
				cpu_percent,
				mem_percent_used,
				disk_bytes_sec,
				inferred_watts
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.TimestampUTC,
			rec.ComputerName,
			rec.ComputerNumber,
			rec.CPUPercent,
			rec.MemPercentUsed,
			rec.DiskBytesSec,
			rec.InferredWatts,
		); err != nil {
			return 0, fmt.Errorf("failed to insert metrics row for item %d: %v", id, err)
		}
	}

	if _, err = tx.Exec(ctx, `DELETE FROM ingest_queue WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("failed to delete queue item %d: %v", id, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit queue item %d: %v", id, err)
	}
	return len(records), nil
}
