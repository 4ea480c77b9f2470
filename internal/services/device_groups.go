package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// DeviceGroupsService manages a family's device groups. Every operation is scoped to the
// caller's family; groups of other families are reported as missing.
type DeviceGroupsService struct {
	stores *Stores
	logger *log.Logger
}

// NewDeviceGroupsService creates a [DeviceGroupsService].
func NewDeviceGroupsService(stores *Stores, logger *log.Logger) *DeviceGroupsService {
	return &DeviceGroupsService{stores: stores, logger: orDiscard(logger)}
}

func (s *DeviceGroupsService) CreateDeviceGroup(ctx context.Context, familyID, name string, isDefault bool) (*models.DeviceGroup, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, err
	}

	group := models.NewDeviceGroup(familyID, name, isDefault)
	if err := s.stores.DeviceGroups.Create(ctx, group); err != nil {
		return nil, err
	}

	s.logger.Info("device group created", "group", group.ID, "family", familyID)
	return group, nil
}

// GetDeviceGroup returns the group when it belongs to familyID.
func (s *DeviceGroupsService) GetDeviceGroup(ctx context.Context, familyID, groupID string) (*models.DeviceGroup, error) {
	group, err := s.stores.DeviceGroups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.FamilyID != familyID {
		return nil, shared.NotFound("Device group not found")
	}
	return group, nil
}

func (s *DeviceGroupsService) UpdateDeviceGroup(ctx context.Context, familyID, groupID, name string) (*models.DeviceGroup, error) {
	group, err := s.GetDeviceGroup(ctx, familyID, groupID)
	if err != nil {
		return nil, err
	}

	group.Name = strings.TrimSpace(name)
	if err := s.stores.DeviceGroups.Update(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteDeviceGroup removes a group; its members become stand-alone devices.
func (s *DeviceGroupsService) DeleteDeviceGroup(ctx context.Context, familyID, groupID string) error {
	group, err := s.GetDeviceGroup(ctx, familyID, groupID)
	if err != nil {
		return err
	}

	if err := s.stores.DeviceGroups.Delete(ctx, group.ID); err != nil {
		return err
	}
	s.logger.Info("device group deleted", "group", group.ID, "family", familyID)
	return nil
}

// AddDevices moves devices of the same family into the group.
func (s *DeviceGroupsService) AddDevices(ctx context.Context, familyID, groupID string, deviceIDs ...string) (*models.DeviceGroup, error) {
	group, err := s.GetDeviceGroup(ctx, familyID, groupID)
	if err != nil {
		return nil, err
	}

	for _, id := range deviceIDs {
		device, err := s.stores.Devices.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if device.FamilyID != familyID {
			return nil, shared.BadRequest(fmt.Sprintf("Device %s does not belong to the family", id))
		}
	}

	if err := s.stores.Devices.SetGroup(ctx, group.ID, deviceIDs...); err != nil {
		return nil, err
	}
	return group, nil
}

// RemoveDevices takes members out of the group.
func (s *DeviceGroupsService) RemoveDevices(ctx context.Context, familyID, groupID string, deviceIDs ...string) (*models.DeviceGroup, error) {
	group, err := s.GetDeviceGroup(ctx, familyID, groupID)
	if err != nil {
		return nil, err
	}

	for _, id := range deviceIDs {
		device, err := s.stores.Devices.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if device.DeviceGroupID != group.ID {
			return nil, shared.BadRequest(fmt.Sprintf("Device %s is not in the device group", id))
		}
	}

	if err := s.stores.Devices.SetGroup(ctx, "", deviceIDs...); err != nil {
		return nil, err
	}
	return group, nil
}

// ListDevices returns the members of a group.
func (s *DeviceGroupsService) ListDevices(ctx context.Context, familyID, groupID string) ([]*models.Device, error) {
	group, err := s.GetDeviceGroup(ctx, familyID, groupID)
	if err != nil {
		return nil, err
	}
	return s.stores.Devices.ListByGroup(ctx, group.ID)
}
