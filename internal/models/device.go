package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/pihome/internal/shared"
)

// Device is a smart speaker. It authenticates with a client id and a hashed secret.
type Device struct {
	Record
	Name             string     `json:"name"`
	ClientID         string     `json:"clientId"`
	ClientSecretHash string     `json:"-"`
	FamilyID         string     `json:"familyId"`
	DeviceGroupID    string     `json:"deviceGroupId,omitempty"`
	IsOn             bool       `json:"isOn"`
	IsMuted          bool       `json:"isMuted"`
	VolumePercent    int        `json:"volumePercent"`
	IsSoundServer    bool       `json:"isSoundServer"`
	LastHeartbeatAt  *time.Time `json:"lastHeartbeatAt,omitempty"`
}

// NewDevice creates a powered-on, unmuted [Device] at full volume.
func NewDevice(familyID, name, clientID string) *Device {
	d := &Device{
		Name:          strings.TrimSpace(name),
		ClientID:      strings.TrimSpace(clientID),
		FamilyID:      familyID,
		IsOn:          true,
		VolumePercent: 100,
	}
	d.Stamp(time.Now())
	return d
}

func (d *Device) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: device name is required", shared.ErrInvalidInput)
	}
	if d.ClientID == "" {
		return fmt.Errorf("%w: device client id is required", shared.ErrInvalidInput)
	}
	if d.FamilyID == "" {
		return fmt.Errorf("%w: device family is required", shared.ErrInvalidInput)
	}
	if err := ValidateVolume(d.VolumePercent); err != nil {
		return err
	}
	return nil
}

// ValidateVolume checks a volume percentage is within 0..100.
func ValidateVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: volume must be between 0 and 100, got %d", shared.ErrInvalidInput, percent)
	}
	return nil
}

// DeviceGroup clusters devices of one family. Its IsMuted flag tracks whether every member is muted.
type DeviceGroup struct {
	Record
	Name      string `json:"name"`
	FamilyID  string `json:"familyId"`
	IsDefault bool   `json:"isDefault"`
	IsMuted   bool   `json:"isMuted"`
}

// NewDeviceGroup creates an unmuted [DeviceGroup].
func NewDeviceGroup(familyID, name string, isDefault bool) *DeviceGroup {
	g := &DeviceGroup{Name: strings.TrimSpace(name), FamilyID: familyID, IsDefault: isDefault}
	g.Stamp(time.Now())
	return g
}

func (g *DeviceGroup) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("%w: device group name is required", shared.ErrInvalidInput)
	}
	if g.FamilyID == "" {
		return fmt.Errorf("%w: device group family is required", shared.ErrInvalidInput)
	}
	return nil
}
