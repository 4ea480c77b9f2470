package services

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

const deviceSecretBytes = 32

// DevicesService registers smart speakers and keeps one sound server per family.
type DevicesService struct {
	stores *Stores
	events *notifier
	logger *log.Logger
}

// NewDevicesService creates a [DevicesService].
func NewDevicesService(stores *Stores, publisher events.Publisher, logger *log.Logger) *DevicesService {
	logger = orDiscard(logger)
	return &DevicesService{stores: stores, events: newNotifier(publisher, logger), logger: logger}
}

// CreateDevice registers a device and returns it with its plaintext secret. The secret is
// only ever returned here; the store keeps a bcrypt hash. A family's first device becomes
// its sound server.
func (s *DevicesService) CreateDevice(ctx context.Context, familyID, name, clientID string) (*models.Device, string, error) {
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, "", err
	}

	clientID = strings.TrimSpace(clientID)
	_, err := s.stores.Devices.GetByClientID(ctx, clientID)
	if err == nil {
		return nil, "", shared.BadRequest("Device with this client id already exists")
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, "", err
	}

	existing, err := s.stores.Devices.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, "", err
	}

	secret, err := shared.GenerateSecret(deviceSecretBytes)
	if err != nil {
		return nil, "", err
	}
	hash, err := shared.HashSecret(secret)
	if err != nil {
		return nil, "", err
	}

	device := models.NewDevice(familyID, name, clientID)
	device.ClientSecretHash = hash
	device.IsSoundServer = len(existing) == 0

	if err := s.stores.Devices.Create(ctx, device); err != nil {
		return nil, "", err
	}

	s.logger.Info("device created", "device", device.ID, "family", familyID, "sound_server", device.IsSoundServer)
	return device, secret, nil
}

func (s *DevicesService) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	return s.stores.Devices.Get(ctx, deviceID)
}

func (s *DevicesService) GetDeviceByClientID(ctx context.Context, clientID string) (*models.Device, error) {
	return s.stores.Devices.GetByClientID(ctx, clientID)
}

func (s *DevicesService) GetDeviceFamily(ctx context.Context, deviceID string) (*models.Family, error) {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.stores.Families.Get(ctx, device.FamilyID)
}

func (s *DevicesService) GetDeviceDeviceGroup(ctx context.Context, deviceID string) (*models.DeviceGroup, error) {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.DeviceGroupID == "" {
		return nil, shared.BadRequest("Device is not in a device group")
	}
	return s.stores.DeviceGroups.Get(ctx, device.DeviceGroupID)
}

func (s *DevicesService) ListDevicesNotInDeviceGroup(ctx context.Context, familyID string) ([]*models.Device, error) {
	return s.stores.Devices.ListNotInGroup(ctx, familyID)
}

// UpdateDevice renames a device.
func (s *DevicesService) UpdateDevice(ctx context.Context, deviceID, name string) (*models.Device, error) {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	device.Name = strings.TrimSpace(name)
	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// DeleteDevice removes a device. If it was the sound server, the family's oldest remaining
// device takes over.
func (s *DevicesService) DeleteDevice(ctx context.Context, deviceID string) error {
	device, err := s.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	device.IsSoundServer = false
	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return err
	}
	if err := publishAffected(ctx, s.stores, s.events, device, false); err != nil {
		return err
	}

	if err := s.stores.Devices.Delete(ctx, device.ID); err != nil {
		return err
	}
	s.logger.Info("device deleted", "device", device.ID, "family", device.FamilyID)

	_, err = s.AssignDeviceAsSoundServerIfAny(ctx, device.FamilyID)
	return err
}

// AssignDeviceAsSoundServerIfAny returns the family's sound server, promoting the oldest device
// when there is none. It returns nil when the family has no devices.
func (s *DevicesService) AssignDeviceAsSoundServerIfAny(ctx context.Context, familyID string) (*models.Device, error) {
	devices, err := s.stores.Devices.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}

	for _, d := range devices {
		if d.IsSoundServer {
			return d, nil
		}
	}

	promoted := devices[0]
	promoted.IsSoundServer = true
	if err := s.stores.Devices.Update(ctx, promoted); err != nil {
		return nil, err
	}

	s.logger.Info("sound server assigned", "device", promoted.ID, "family", familyID)
	if err := publishAffected(ctx, s.stores, s.events, promoted, false); err != nil {
		return nil, err
	}
	return promoted, nil
}

// AuthenticateDevice checks a device's client id and secret.
func (s *DevicesService) AuthenticateDevice(ctx context.Context, clientID, secret string) (*models.Device, error) {
	device, err := s.stores.Devices.GetByClientID(ctx, strings.TrimSpace(clientID))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.Unauthorized("Invalid device credentials")
	}
	if err != nil {
		return nil, err
	}

	if !shared.CompareSecret(device.ClientSecretHash, secret) {
		return nil, shared.Unauthorized("Invalid device credentials")
	}
	return device, nil
}
