package devicesession

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the database handle the PostgreSQL repository needs: plain
// query execution plus the ability to open a transaction for the
// atomic multi-write operations. Both pgxpool.Pool and *pgx.Conn
// satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresDeviceRepository implements DeviceRepository on PostgreSQL.
type PostgresDeviceRepository struct {
	db DB
}

// NewPostgresDeviceRepository creates a new PostgreSQL device repository.
func NewPostgresDeviceRepository(db DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

const deviceColumns = `user_id, device_id, device_name, device_type, os_version, app_version,
	manufacturer, model, screen_resolution, timezone, locale,
	registered_at, last_used, is_primary, ip_address`

func scanDevice(row pgx.Row) (DeviceRecord, error) {
	var d DeviceRecord
	err := row.Scan(
		&d.UserID, &d.DeviceID, &d.DeviceName, &d.DeviceType, &d.OSVersion, &d.AppVersion,
		&d.Manufacturer, &d.Model, &d.ScreenResolution, &d.Timezone, &d.Locale,
		&d.RegisteredAt, &d.LastUsed, &d.IsPrimary, &d.IPAddress,
	)
	return d, err
}

// CreateDevice inserts a device and its switch audit record in one
// transaction. The primary-key insert is the collision guard for
// generated device keys, and the (user_id, slot_class) unique index
// serializes concurrent registrations into one slot.
func (r *PostgresDeviceRepository) CreateDevice(ctx context.Context, device DeviceRecord, sw SwitchRecord) (DeviceRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := insertDevice(ctx, tx, device)
	if err != nil {
		if uniqueErr := mapUniqueViolation(err); uniqueErr != nil {
			return DeviceRecord{}, uniqueErr
		}
		return DeviceRecord{}, fmt.Errorf("failed to insert device: %w", err)
	}

	if err := insertSwitch(ctx, tx, switchDefaults(sw, device)); err != nil {
		return DeviceRecord{}, fmt.Errorf("failed to insert switch record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeviceRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

// GetDevice fetches one device by its composite key.
func (r *PostgresDeviceRepository) GetDevice(ctx context.Context, userID, deviceID string) (DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM user_devices WHERE user_id = $1 AND device_id = $2`
	device, err := scanDevice(r.db.QueryRow(ctx, query, userID, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeviceRecord{}, ErrDeviceNotFound
		}
		return DeviceRecord{}, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// FindDevicesByUser returns the account's devices, oldest first.
func (r *PostgresDeviceRepository) FindDevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM user_devices WHERE user_id = $1 ORDER BY registered_at ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceRecord
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// UpdateDeviceLastUsed touches last_used and the network origin.
func (r *PostgresDeviceRepository) UpdateDeviceLastUsed(ctx context.Context, userID, deviceID string, lastUsed time.Time, ipAddress string) (DeviceRecord, error) {
	query := `
		UPDATE user_devices
		SET last_used = $3, ip_address = COALESCE(NULLIF($4, ''), ip_address)
		WHERE user_id = $1 AND device_id = $2
		RETURNING ` + deviceColumns
	device, err := scanDevice(r.db.QueryRow(ctx, query, userID, deviceID, lastUsed, ipAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeviceRecord{}, ErrDeviceNotFound
		}
		return DeviceRecord{}, fmt.Errorf("failed to update device last used: %w", err)
	}
	return device, nil
}

// RemoveDevice deletes a device and writes its removal record in one
// transaction.
func (r *PostgresDeviceRepository) RemoveDevice(ctx context.Context, userID, deviceID string, removal RemovalRecord) (DeviceRecord, RemovalRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return DeviceRecord{}, RemovalRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `DELETE FROM user_devices WHERE user_id = $1 AND device_id = $2 RETURNING ` + deviceColumns
	device, err := scanDevice(tx.QueryRow(ctx, query, userID, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeviceRecord{}, RemovalRecord{}, ErrDeviceNotFound
		}
		return DeviceRecord{}, RemovalRecord{}, fmt.Errorf("failed to delete device: %w", err)
	}

	if removal.ID == "" {
		removal.ID = uuid.New().String()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO device_removals (id, user_id, device_id, device_name, removed_at, reason, ip_address, quota_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		removal.ID, removal.UserID, removal.DeviceID, removal.DeviceName,
		removal.RemovedAt, removal.Reason, removal.IPAddress, removal.QuotaUsed,
	)
	if err != nil {
		return DeviceRecord{}, RemovalRecord{}, fmt.Errorf("failed to insert removal record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeviceRecord{}, RemovalRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Debug("device removed", "user_id", userID, "device_id", deviceID, "quota_used", removal.QuotaUsed)
	return device, removal, nil
}

// ReplaceDevice deletes the old device, inserts the new one and writes
// the replacement switch record in one transaction.
func (r *PostgresDeviceRepository) ReplaceDevice(ctx context.Context, userID, oldDeviceID string, newDevice DeviceRecord, sw SwitchRecord) (DeviceRecord, DeviceRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return DeviceRecord{}, DeviceRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `DELETE FROM user_devices WHERE user_id = $1 AND device_id = $2 RETURNING ` + deviceColumns
	replaced, err := scanDevice(tx.QueryRow(ctx, query, userID, oldDeviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeviceRecord{}, DeviceRecord{}, ErrDeviceNotFound
		}
		return DeviceRecord{}, DeviceRecord{}, fmt.Errorf("failed to delete replaced device: %w", err)
	}

	created, err := insertDevice(ctx, tx, newDevice)
	if err != nil {
		if uniqueErr := mapUniqueViolation(err); uniqueErr != nil {
			return DeviceRecord{}, DeviceRecord{}, uniqueErr
		}
		return DeviceRecord{}, DeviceRecord{}, fmt.Errorf("failed to insert replacement device: %w", err)
	}

	if err := insertSwitch(ctx, tx, switchDefaults(sw, newDevice)); err != nil {
		return DeviceRecord{}, DeviceRecord{}, fmt.Errorf("failed to insert switch record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeviceRecord{}, DeviceRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Debug("device replaced", "user_id", userID, "old_device_id", oldDeviceID, "new_device_id", newDevice.DeviceID)
	return created, replaced, nil
}

// CountQuotaRemovalsSince counts quota-consuming removals at or after
// the given instant.
func (r *PostgresDeviceRepository) CountQuotaRemovalsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM device_removals
		WHERE user_id = $1 AND quota_used = true AND removed_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count removals: %w", err)
	}
	return count, nil
}

// CreateSwitch appends a standalone switch audit record.
func (r *PostgresDeviceRepository) CreateSwitch(ctx context.Context, sw SwitchRecord) (SwitchRecord, error) {
	if sw.ID == "" {
		sw.ID = uuid.New().String()
	}
	if err := insertSwitch(ctx, r.db, sw); err != nil {
		return SwitchRecord{}, fmt.Errorf("failed to insert switch record: %w", err)
	}
	return sw, nil
}

// FindSwitchesByUser returns the account's switches, newest first.
func (r *PostgresDeviceRepository) FindSwitchesByUser(ctx context.Context, userID string, limit int) ([]SwitchRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, from_device_id, to_device_id, switch_type, switched_at, ip_address, device_info
		FROM device_switches
		WHERE user_id = $1
		ORDER BY switched_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query switches: %w", err)
	}
	defer rows.Close()

	var switches []SwitchRecord
	for rows.Next() {
		var sw SwitchRecord
		var from sql.NullString
		var infoJSON []byte
		err := rows.Scan(&sw.ID, &sw.UserID, &from, &sw.ToDeviceID, &sw.SwitchType, &sw.SwitchedAt, &sw.IPAddress, &infoJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan switch: %w", err)
		}
		sw.FromDeviceID = from.String
		if len(infoJSON) > 0 {
			if err := json.Unmarshal(infoJSON, &sw.DeviceInfo); err != nil {
				return nil, fmt.Errorf("failed to decode device info snapshot: %w", err)
			}
		}
		switches = append(switches, sw)
	}
	return switches, rows.Err()
}

// CountSwitchesByUser returns the account's all-time switch count.
func (r *PostgresDeviceRepository) CountSwitchesByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM device_switches WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count switches: %w", err)
	}
	return count, nil
}

// CountSwitchesSince counts switches at or after the given instant.
func (r *PostgresDeviceRepository) CountSwitchesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM device_switches WHERE user_id = $1 AND switched_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count switches: %w", err)
	}
	return count, nil
}

// mapUniqueViolation translates a unique_violation on user_devices
// into the matching sentinel: the slot index means the slot is held
// by another device, the primary key means this device key already
// exists. Returns nil for any other error.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	if pgErr.ConstraintName == "user_devices_user_slot_idx" {
		return ErrSlotOccupied
	}
	return ErrDeviceExists
}

// execer covers both a transaction and the pooled handle for the
// shared insert helpers.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func insertDevice(ctx context.Context, db execer, device DeviceRecord) (DeviceRecord, error) {
	query := `
		INSERT INTO user_devices (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING ` + deviceColumns
	return scanDevice(db.QueryRow(ctx, query,
		device.UserID, device.DeviceID, device.DeviceName, device.DeviceType,
		device.OSVersion, device.AppVersion, device.Manufacturer, device.Model,
		device.ScreenResolution, device.Timezone, device.Locale,
		device.RegisteredAt, device.LastUsed, device.IsPrimary, device.IPAddress,
	))
}

func insertSwitch(ctx context.Context, db execer, sw SwitchRecord) error {
	infoJSON, err := json.Marshal(sw.DeviceInfo)
	if err != nil {
		return fmt.Errorf("failed to encode device info snapshot: %w", err)
	}

	from := sql.NullString{String: sw.FromDeviceID, Valid: sw.FromDeviceID != ""}
	_, err = db.Exec(ctx, `
		INSERT INTO device_switches (id, user_id, from_device_id, to_device_id, switch_type, switched_at, ip_address, device_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sw.ID, sw.UserID, from, sw.ToDeviceID, sw.SwitchType, sw.SwitchedAt, sw.IPAddress, infoJSON,
	)
	return err
}
