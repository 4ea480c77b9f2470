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

const deviceGroupColumns = `id, name, family_id, is_default, is_muted, created_at, updated_at`

var errDeviceGroupNotFound = shared.NotFound("Device group not found")

// DeviceGroupRepository implements [models.Repository] for [models.DeviceGroup] persistence.
type DeviceGroupRepository struct {
	db *sql.DB
}

// NewDeviceGroupRepository creates a new [DeviceGroupRepository] with the given database connection
func NewDeviceGroupRepository(db *sql.DB) *DeviceGroupRepository {
	return &DeviceGroupRepository{db: db}
}

// Create inserts a new device group with generated ID and sequence
func (r *DeviceGroupRepository) Create(ctx context.Context, group *models.DeviceGroup) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "device_groups")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if group.ID == "" {
		group.ID = shared.GenerateID()
	}
	group.Stamp(time.Now())

	query := `
		INSERT INTO device_groups (id, sequence, name, family_id, is_default, is_muted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		group.ID, sequence, group.Name, group.FamilyID, group.IsDefault, group.IsMuted, group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device group: %w", err)
	}

	return nil
}

// Get retrieves a device group by ID
func (r *DeviceGroupRepository) Get(ctx context.Context, id string) (*models.DeviceGroup, error) {
	group, err := scanDeviceGroup(r.db.QueryRowContext(ctx, `SELECT `+deviceGroupColumns+` FROM device_groups WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errDeviceGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device group: %w", err)
	}
	return group, nil
}

// Update modifies name, default flag and mute state
func (r *DeviceGroupRepository) Update(ctx context.Context, group *models.DeviceGroup) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	group.Stamp(time.Now())

	result, err := r.db.ExecContext(ctx,
		`UPDATE device_groups SET name = ?, is_default = ?, is_muted = ?, updated_at = ? WHERE id = ?`,
		group.Name, group.IsDefault, group.IsMuted, group.UpdatedAt, group.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update device group: %w", err)
	}

	return affectedOne(result, errDeviceGroupNotFound)
}

// Delete removes a device group. Member devices become stand-alone.
func (r *DeviceGroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device group: %w", err)
	}

	return affectedOne(result, errDeviceGroupNotFound)
}

// List retrieves device groups. Supported criteria: "family_id" (string), "is_default" (bool).
func (r *DeviceGroupRepository) List(ctx context.Context, criteria map[string]any) ([]*models.DeviceGroup, error) {
	var where whereBuilder
	if familyID, ok := criteria["family_id"].(string); ok && familyID != "" {
		where.add("family_id = ?", familyID)
	}
	if isDefault, ok := criteria["is_default"].(bool); ok {
		where.add("is_default = ?", isDefault)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceGroupColumns+` FROM device_groups`+where.String()+` ORDER BY sequence ASC`, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query device groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.DeviceGroup
	for rows.Next() {
		group, err := scanDeviceGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device group: %w", err)
		}
		groups = append(groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return groups, nil
}

// ListByFamily returns a family's device groups.
func (r *DeviceGroupRepository) ListByFamily(ctx context.Context, familyID string) ([]*models.DeviceGroup, error) {
	return r.List(ctx, map[string]any{"family_id": familyID})
}

func scanDeviceGroup(row rowScanner) (*models.DeviceGroup, error) {
	var group models.DeviceGroup
	if err := row.Scan(&group.ID, &group.Name, &group.FamilyID, &group.IsDefault, &group.IsMuted,
		&group.CreatedAt, &group.UpdatedAt); err != nil {
		return nil, err
	}
	return &group, nil
}
