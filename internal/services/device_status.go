package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// DeviceStatusService reads and changes the live state of devices and groups and publishes
// the resulting status updates.
type DeviceStatusService struct {
	stores *Stores
	events *notifier
	logger *log.Logger
}

// NewDeviceStatusService creates a [DeviceStatusService].
func NewDeviceStatusService(stores *Stores, publisher events.Publisher, logger *log.Logger) *DeviceStatusService {
	logger = orDiscard(logger)
	return &DeviceStatusService{stores: stores, events: newNotifier(publisher, logger), logger: logger}
}

func (s *DeviceStatusService) GetDeviceStatus(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return models.DeviceStatus{}, err
	}
	return models.NewDeviceStatus(device), nil
}

// GetDeviceGroupStatus returns a group with the status of each member.
func (s *DeviceStatusService) GetDeviceGroupStatus(ctx context.Context, groupID string) (models.DeviceGroupStatus, error) {
	return groupStatus(ctx, s.stores, groupID)
}

// GetOverviewDeviceStatus returns the family's groups, without members, and its stand-alone devices.
func (s *DeviceStatusService) GetOverviewDeviceStatus(ctx context.Context, familyID string) (models.OverviewDeviceStatus, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return models.OverviewDeviceStatus{}, err
	}
	return overviewStatus(ctx, s.stores, familyID)
}

// PublishAffectedStatusUpdates announces a change to device. The device status always fires, the
// group status fires when the device is grouped, and the family overview fires for stand-alone
// devices or when cascades is set.
func (s *DeviceStatusService) PublishAffectedStatusUpdates(ctx context.Context, device *models.Device, cascades bool) error {
	return publishAffected(ctx, s.stores, s.events, device, cascades)
}

// SetDeviceMuted mutes or unmutes a device and keeps its group's flag in step: the group is muted
// exactly when all of its members are.
func (s *DeviceStatusService) SetDeviceMuted(ctx context.Context, deviceID string, muted bool) (*models.Device, error) {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	device.IsMuted = muted
	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, err
	}

	if device.DeviceGroupID != "" {
		if err := s.syncGroupMute(ctx, device.DeviceGroupID, muted); err != nil {
			return nil, err
		}
	}

	if err := s.PublishAffectedStatusUpdates(ctx, device, true); err != nil {
		return nil, err
	}
	return device, nil
}

// syncGroupMute mutes the group once every member is muted and unmutes it when any member is
// unmuted. A mute that leaves some member playing keeps the group flag as it was.
func (s *DeviceStatusService) syncGroupMute(ctx context.Context, groupID string, muted bool) error {
	group, err := s.stores.DeviceGroups.Get(ctx, groupID)
	if err != nil {
		return err
	}

	groupMuted := false
	if muted {
		members, err := s.stores.Devices.ListByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if slices.ContainsFunc(members, func(m *models.Device) bool { return !m.IsMuted }) {
			return nil
		}
		groupMuted = true
	}

	if group.IsMuted == groupMuted {
		return nil
	}
	group.IsMuted = groupMuted
	return s.stores.DeviceGroups.Update(ctx, group)
}

// SetDeviceVolume changes the volume of one device.
func (s *DeviceStatusService) SetDeviceVolume(ctx context.Context, deviceID string, percent int) (*models.Device, error) {
	if err := models.ValidateVolume(percent); err != nil {
		return nil, shared.BadRequest(fmt.Sprintf("Volume must be between 0 and 100, got %d", percent))
	}

	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	device.VolumePercent = percent
	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, err
	}

	if err := s.PublishAffectedStatusUpdates(ctx, device, false); err != nil {
		return nil, err
	}
	return device, nil
}

// SetDeviceGroupMuted mutes or unmutes every member of a group and returns the refreshed group.
func (s *DeviceStatusService) SetDeviceGroupMuted(ctx context.Context, groupID string, muted bool) (models.DeviceGroupStatus, error) {
	group, err := s.stores.DeviceGroups.Get(ctx, groupID)
	if err != nil {
		return models.DeviceGroupStatus{}, err
	}

	members, err := s.stores.Devices.ListByGroup(ctx, group.ID)
	if err != nil {
		return models.DeviceGroupStatus{}, err
	}

	for _, m := range members {
		if _, err := s.SetDeviceMuted(ctx, m.ID, muted); err != nil {
			return models.DeviceGroupStatus{}, err
		}
	}

	// An empty group has no member to carry the flag over.
	if len(members) == 0 && group.IsMuted != muted {
		group.IsMuted = muted
		if err := s.stores.DeviceGroups.Update(ctx, group); err != nil {
			return models.DeviceGroupStatus{}, err
		}
	}

	return groupStatus(ctx, s.stores, group.ID)
}

// ReceiveDeviceHeartbeat records that a device is alive. Status updates are published only on
// the offline to online transition.
func (s *DeviceStatusService) ReceiveDeviceHeartbeat(ctx context.Context, deviceID string) (*models.Device, error) {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	cameOnline := !device.IsOn || device.LastHeartbeatAt == nil
	now := time.Now().UTC()
	device.IsOn = true
	device.LastHeartbeatAt = &now

	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, err
	}

	if cameOnline {
		s.logger.Info("device online", "device", device.ID)
		if err := s.PublishAffectedStatusUpdates(ctx, device, false); err != nil {
			return nil, err
		}
	}
	return device, nil
}

// MarkDeviceAsOffline flags a device as off and announces it.
func (s *DeviceStatusService) MarkDeviceAsOffline(ctx context.Context, deviceID string) (*models.Device, error) {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	device.IsOn = false
	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, err
	}

	s.logger.Info("device offline", "device", device.ID)
	if err := s.PublishAffectedStatusUpdates(ctx, device, false); err != nil {
		return nil, err
	}
	return device, nil
}

// MarkStaleDevicesOffline turns off every online device whose last heartbeat is older than timeout.
// It returns how many devices changed.
func (s *DeviceStatusService) MarkStaleDevicesOffline(ctx context.Context, timeout time.Duration) (int, error) {
	stale, err := s.stores.Devices.ListStale(ctx, time.Now().UTC().Add(-timeout))
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, d := range stale {
		if _, err := s.MarkDeviceAsOffline(ctx, d.ID); err != nil {
			s.logger.Warn("failed to mark device offline", "device", d.ID, "error", err)
			continue
		}
		marked++
	}
	return marked, nil
}

func groupStatus(ctx context.Context, stores *Stores, groupID string) (models.DeviceGroupStatus, error) {
	group, err := stores.DeviceGroups.Get(ctx, groupID)
	if err != nil {
		return models.DeviceGroupStatus{}, err
	}
	members, err := stores.Devices.ListByGroup(ctx, group.ID)
	if err != nil {
		return models.DeviceGroupStatus{}, err
	}
	return models.NewDeviceGroupStatus(group, members), nil
}

func overviewStatus(ctx context.Context, stores *Stores, familyID string) (models.OverviewDeviceStatus, error) {
	groups, err := stores.DeviceGroups.ListByFamily(ctx, familyID)
	if err != nil {
		return models.OverviewDeviceStatus{}, err
	}
	standAlone, err := stores.Devices.ListNotInGroup(ctx, familyID)
	if err != nil {
		return models.OverviewDeviceStatus{}, err
	}

	overview := models.NewOverviewDeviceStatus(groups, standAlone)
	overview.FamilyID = familyID
	return overview, nil
}

func publishAffected(ctx context.Context, stores *Stores, n *notifier, device *models.Device, cascades bool) error {
	n.publish(ctx, events.DeviceStatusUpdated, models.NewDeviceStatus(device))

	if device.DeviceGroupID != "" {
		status, err := groupStatus(ctx, stores, device.DeviceGroupID)
		if err != nil {
			return err
		}
		n.publish(ctx, events.DeviceGroupStatusUpdated, status)
	}

	if device.DeviceGroupID == "" || cascades {
		overview, err := overviewStatus(ctx, stores, device.FamilyID)
		if err != nil {
			return err
		}
		n.publish(ctx, events.OverviewDeviceStatusUpdated, overview)
	}
	return nil
}
