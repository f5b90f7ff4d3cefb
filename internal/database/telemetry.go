package database

import (
	"context"
	"fmt"

	"github.com/wattline/wattline/internal/telemetry"
)

// InsertTelemetry stores one parsed telemetry record.
//
// Unstructured records are stored with NULL timestamp and wattage; the raw
// line is always kept.
func (db Manager) InsertTelemetry(ctx context.Context, rec telemetry.Record) error {
	pool, err := db.pool()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err = pool.Exec(ctx,
		`INSERT INTO telemetry (source, timestamp_utc, wattage, raw) VALUES ($1, $2, $3, $4)`,
		rec.Source,
		rec.Timestamp, // NULL when absent
		rec.Wattage,   // NULL when absent
		rec.Raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry record: %v", err)
	}
	return nil
}
