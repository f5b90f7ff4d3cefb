package database

import (
	"context"
	"fmt"
	"time"
)

// Audit is a named snapshot of a user's enumerated devices.
type Audit struct {
	ID        int64     `json:"audit_id"`
	Name      string    `json:"audit_name"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

// Device is one device line item belonging to an audit.
type Device struct {
	Class            string  `json:"device_class"`
	Description      *string `json:"description"`
	PowerRatingWatts int     `json:"power_rating_watts"`
	Quantity         int     `json:"quantity"`
	HoursPerDay      float64 `json:"hours_per_day"`
	DailyKwhTotal    float64 `json:"daily_kwh_total"`
}

// ListAudits returns all audits, most recent first.
func (db Manager) ListAudits(ctx context.Context) ([]Audit, error) {
	pool, err := db.pool()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	rows, err := pool.Query(ctx,
		`SELECT audit_id, audit_name, notes, created_at
		 FROM audits
		 ORDER BY created_at DESC, audit_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %v", err)
	}
	defer rows.Close()

	audits := []Audit{}
	for rows.Next() {
		var a Audit
		if err := rows.Scan(&a.ID, &a.Name, &a.Notes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %v", err)
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audits: %v", err)
	}
	return audits, nil
}

// GetAuditDetails returns the device line items of one audit.
//
// An unknown audit id yields an empty list, not an error.
func (db Manager) GetAuditDetails(ctx context.Context, auditID int64) ([]Device, error) {
	pool, err := db.pool()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	rows, err := pool.Query(ctx,
		`SELECT device_class, description, power_rating_watts, quantity, hours_per_day, daily_kwh_total
		 FROM devices
		 WHERE audit_id = $1
		 ORDER BY id ASC`, auditID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit details: %v", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.Class, &d.Description, &d.PowerRatingWatts, &d.Quantity, &d.HoursPerDay, &d.DailyKwhTotal); err != nil {
			return nil, fmt.Errorf("failed to scan device: %v", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read devices: %v", err)
	}
	return devices, nil
}

// SaveAudit stores a new audit and its devices as one transaction and
// returns the generated audit id.
//
// Either the audit row and every device row are committed, or nothing is;
// no partial audit is ever visible. An empty device list still creates the
// audit.
func (db Manager) SaveAudit(ctx context.Context, name string, notes *string, devices []Device) (auditID int64, err error) {
	pool, err := db.pool()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin audit transaction: %v", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	err = tx.QueryRow(ctx,
		`INSERT INTO audits (audit_name, notes) VALUES ($1, $2) RETURNING audit_id`,
		name, notes,
	).Scan(&auditID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit: %v", err)
	}

	for _, d := range devices {
		if _, err = tx.Exec(ctx,
			`INSERT INTO devices (
				audit_id,
				device_class,
				description,
				power_rating_watts,
				quantity,
				hours_per_day,
				daily_kwh_total
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			auditID, d.Class, d.Description, d.PowerRatingWatts, d.Quantity, d.HoursPerDay, d.DailyKwhTotal,
		); err != nil {
			return 0, fmt.Errorf("failed to insert device: %v", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit audit transaction: %v", err)
	}
	return auditID, nil
}
