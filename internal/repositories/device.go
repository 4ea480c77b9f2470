package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

const deviceColumns = `id, name, client_id, client_secret_hash, family_id, device_group_id,
	is_on, is_muted, volume_percent, is_sound_server, last_heartbeat_at, created_at, updated_at`

var errDeviceNotFound = shared.NotFound("Device not found")

// DeviceRepository implements [models.Repository] for [models.Device] persistence.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new [DeviceRepository] with the given database connection
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create inserts a new device with generated ID and sequence
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if err := device.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "devices")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if device.ID == "" {
		device.ID = shared.GenerateID()
	}
	device.Stamp(time.Now())

	query := `
		INSERT INTO devices (id, sequence, name, client_id, client_secret_hash, family_id, device_group_id,
			is_on, is_muted, volume_percent, is_sound_server, last_heartbeat_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		device.ID, sequence, device.Name, device.ClientID, device.ClientSecretHash, device.FamilyID,
		nullable(device.DeviceGroupID), device.IsOn, device.IsMuted, device.VolumePercent, device.IsSoundServer,
		nullableTime(device.LastHeartbeatAt), device.CreatedAt, device.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}

	return nil
}

// Get retrieves a device by ID
func (r *DeviceRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	return r.getOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
}

// GetByClientID retrieves a device by the client id it authenticates with
func (r *DeviceRepository) GetByClientID(ctx context.Context, clientID string) (*models.Device, error) {
	return r.getOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE client_id = ?`, clientID)
}

func (r *DeviceRepository) getOne(ctx context.Context, query string, arg any) (*models.Device, error) {
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return device, nil
}

// Update writes every mutable device field
func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	if err := device.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	device.Stamp(time.Now())

	query := `
		UPDATE devices
		SET name = ?, device_group_id = ?, is_on = ?, is_muted = ?, volume_percent = ?,
			is_sound_server = ?, last_heartbeat_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		device.Name, nullable(device.DeviceGroupID), device.IsOn, device.IsMuted, device.VolumePercent,
		device.IsSoundServer, nullableTime(device.LastHeartbeatAt), device.UpdatedAt, device.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}

	return affectedOne(result, errDeviceNotFound)
}

// SetGroup moves devices into groupID, or out of any group when groupID is empty.
func (r *DeviceRepository) SetGroup(ctx context.Context, groupID string, deviceIDs ...string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range deviceIDs {
		result, err := tx.ExecContext(ctx, `UPDATE devices SET device_group_id = ?, updated_at = ? WHERE id = ?`,
			nullable(groupID), now, id)
		if err != nil {
			return fmt.Errorf("failed to set device group: %w", err)
		}
		if err := affectedOne(result, errDeviceNotFound); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Delete removes a device by ID
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	return affectedOne(result, errDeviceNotFound)
}

// List retrieves devices in registration order.
//
// Supported criteria: "family_id", "device_group_id" (string), "no_group" and "is_on" (bool).
func (r *DeviceRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Device, error) {
	var where whereBuilder

	if familyID, ok := criteria["family_id"].(string); ok && familyID != "" {
		where.add("family_id = ?", familyID)
	}
	if groupID, ok := criteria["device_group_id"].(string); ok && groupID != "" {
		where.add("device_group_id = ?", groupID)
	}
	if noGroup, ok := criteria["no_group"].(bool); ok && noGroup {
		where.add("device_group_id IS NULL")
	}
	if isOn, ok := criteria["is_on"].(bool); ok {
		where.add("is_on = ?", isOn)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices`+where.String()+` ORDER BY sequence ASC`, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return devices, nil
}

// ListByFamily returns every device of a family.
func (r *DeviceRepository) ListByFamily(ctx context.Context, familyID string) ([]*models.Device, error) {
	return r.List(ctx, map[string]any{"family_id": familyID})
}

// ListByGroup returns the members of a device group.
func (r *DeviceRepository) ListByGroup(ctx context.Context, groupID string) ([]*models.Device, error) {
	return r.List(ctx, map[string]any{"device_group_id": groupID})
}

// ListNotInGroup returns the family's devices that belong to no group.
func (r *DeviceRepository) ListNotInGroup(ctx context.Context, familyID string) ([]*models.Device, error) {
	return r.List(ctx, map[string]any{"family_id": familyID, "no_group": true})
}

// ListStale returns online devices whose last heartbeat is older than before.
// Devices that never sent a heartbeat are not considered stale.
func (r *DeviceRepository) ListStale(ctx context.Context, before time.Time) ([]*models.Device, error) {
	online, err := r.List(ctx, map[string]any{"is_on": true})
	if err != nil {
		return nil, err
	}

	var stale []*models.Device
	for _, d := range online {
		if d.LastHeartbeatAt != nil && d.LastHeartbeatAt.Before(before) {
			stale = append(stale, d)
		}
	}
	return stale, nil
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		device        models.Device
		deviceGroupID sql.NullString
		lastHeartbeat sql.NullTime
	)

	err := row.Scan(&device.ID, &device.Name, &device.ClientID, &device.ClientSecretHash, &device.FamilyID,
		&deviceGroupID, &device.IsOn, &device.IsMuted, &device.VolumePercent, &device.IsSoundServer,
		&lastHeartbeat, &device.CreatedAt, &device.UpdatedAt)
	if err != nil {
		return nil, err
	}

	device.DeviceGroupID = deviceGroupID.String
	device.LastHeartbeatAt = timePtr(lastHeartbeat)
	return &device, nil
}
