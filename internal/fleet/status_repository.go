package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/database"
)

// StatusRepository persists device status records.
type StatusRepository interface {
	// MergeStatus validates r and merge-upserts it into the record addressed
	// by (r.OrganizationID, r.DeviceID), returning the merged record.
	MergeStatus(ctx context.Context, r StatusReport) (*DeviceStatus, error)

	// GetStatus returns ErrDeviceNotFound if the device has never reported.
	GetStatus(ctx context.Context, orgID, deviceID string) (*DeviceStatus, error)

	// ListStatuses returns every device status of an organization.
	ListStatuses(ctx context.Context, orgID string) ([]DeviceStatus, error)
}

// SQLiteStatusRepository implements StatusRepository using SQLite.
type SQLiteStatusRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLiteStatusRepository creates a new SQLite-backed status repository.
func NewSQLiteStatusRepository(db *database.DB) *SQLiteStatusRepository {
	return &SQLiteStatusRepository{db: db, now: time.Now}
}

const statusColumns = `organization_id, device_id, online, battery, firmware_version,
	reported_at, metadata, created_at, updated_at`

// MergeStatus performs a single-record read-modify-write in one transaction.
func (r *SQLiteStatusRepository) MergeStatus(ctx context.Context, report StatusReport) (*DeviceStatus, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	var merged *DeviceStatus
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+statusColumns+` FROM device_status
			WHERE organization_id = ? AND device_id = ?`,
			report.OrganizationID, report.DeviceID,
		)
		current, err := scanStatusRow(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = &DeviceStatus{CreatedAt: r.now().UTC()}
		case err != nil:
			return fmt.Errorf("reading device status: %w", err)
		}

		current.Apply(report)

		metadataJSON, err := json.Marshal(current.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_status (`+statusColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (organization_id, device_id) DO UPDATE SET
				online = excluded.online,
				battery = excluded.battery,
				firmware_version = excluded.firmware_version,
				reported_at = excluded.reported_at,
				metadata = excluded.metadata,
				updated_at = excluded.updated_at`,
			current.OrganizationID,
			current.DeviceID,
			boolToInt(current.Online),
			nullableFloat(current.Battery),
			nullableString(current.FirmwareVersion),
			current.ReportedAt,
			string(metadataJSON),
			formatTime(current.CreatedAt),
			current.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting device status: %w", err)
		}

		merged = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// GetStatus retrieves one device status.
func (r *SQLiteStatusRepository) GetStatus(ctx context.Context, orgID, deviceID string) (*DeviceStatus, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM device_status
		WHERE organization_id = ? AND device_id = ?`,
		orgID, deviceID,
	)
	status, err := scanStatusRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device status: %w", err)
	}
	return status, nil
}

// ListStatuses retrieves all device statuses of an organization ordered by device ID.
func (r *SQLiteStatusRepository) ListStatuses(ctx context.Context, orgID string) ([]DeviceStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+statusColumns+` FROM device_status
		WHERE organization_id = ?
		ORDER BY device_id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]DeviceStatus, 0)
	for rows.Next() {
		s, err := scanStatusRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device status: %w", err)
		}
		statuses = append(statuses, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device statuses: %w", err)
	}
	return statuses, nil
}

func scanStatusRow(scanner rowScanner) (*DeviceStatus, error) {
	var s DeviceStatus
	var online int
	var battery sql.NullFloat64
	var firmware sql.NullString
	var metadataJSON, createdAt string

	err := scanner.Scan(
		&s.OrganizationID,
		&s.DeviceID,
		&online,
		&battery,
		&firmware,
		&s.ReportedAt,
		&metadataJSON,
		&createdAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Online = online != 0
	if battery.Valid {
		s.Battery = &battery.Float64
	}
	if firmware.Valid {
		s.FirmwareVersion = &firmware.String
	}

	if s.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metadataJSON), &s.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}

	return &s, nil
}
