package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/shellyflux/internal/infrastructure/database"
)

// SQLiteRepository persists devices in the collector's SQLite database.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository backed by db.
// The devices table must already exist (db.Migrate).
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts or updates a device record by ID.
func (r *SQLiteRepository) Save(ctx context.Context, d Device) error {
	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}
	if d.Capabilities == nil {
		caps = []byte("[]")
	}

	var lastSuccess sql.NullTime
	if !d.LastSuccessAt.IsZero() {
		lastSuccess = sql.NullTime{Time: d.LastSuccessAt.UTC(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO devices (
    id, address, model, capabilities, health, consecutive_failures,
    last_success_at, firmware_version, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    address              = excluded.address,
    model                = excluded.model,
    capabilities         = excluded.capabilities,
    health               = excluded.health,
    consecutive_failures = excluded.consecutive_failures,
    last_success_at      = excluded.last_success_at,
    firmware_version     = excluded.firmware_version,
    updated_at           = excluded.updated_at`,
		d.ID, d.Address, d.Model, string(caps), string(d.Health),
		d.ConsecutiveFailures, lastSuccess, d.FirmwareVersion,
		d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", d.ID, err)
	}
	return nil
}

// Delete removes a device record. Deleting a missing record is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted device record.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, address, model, capabilities, health, consecutive_failures,
       last_success_at, firmware_version, created_at, updated_at
FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// scanDevice maps one devices row onto a Device.
func scanDevice(rows *sql.Rows) (Device, error) {
	var (
		d           Device
		caps        string
		health      string
		lastSuccess sql.NullTime
		firmware    sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
	)

	if err := rows.Scan(
		&d.ID, &d.Address, &d.Model, &caps, &health,
		&d.ConsecutiveFailures, &lastSuccess, &firmware,
		&createdAt, &updatedAt,
	); err != nil {
		return Device{}, fmt.Errorf("scanning device row: %w", err)
	}

	if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
		return Device{}, fmt.Errorf("decoding capabilities for %s: %w", d.ID, err)
	}

	d.Health = Health(health)
	if !d.Health.Valid() {
		d.Health = HealthDiscovered
	}
	if lastSuccess.Valid {
		d.LastSuccessAt = lastSuccess.Time
	}
	d.FirmwareVersion = firmware.String
	d.CreatedAt = createdAt
	d.UpdatedAt = updatedAt

	return d, nil
}
