package models

// DeviceStatus is the live state of one device.
type DeviceStatus struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	IsOn          bool   `json:"isOn"`
	IsMuted       bool   `json:"isMuted"`
	VolumePercent int    `json:"volumePercent"`
	DeviceGroupID string `json:"deviceGroupId,omitempty"`
}

// NewDeviceStatus projects a [Device] onto its status.
func NewDeviceStatus(d *Device) DeviceStatus {
	return DeviceStatus{
		ID:            d.ID,
		Name:          d.Name,
		IsOn:          d.IsOn,
		IsMuted:       d.IsMuted,
		VolumePercent: d.VolumePercent,
		DeviceGroupID: d.DeviceGroupID,
	}
}

// DeviceGroupStatus is the state of a group and, when loaded, its members.
type DeviceGroupStatus struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	IsMuted bool           `json:"isMuted"`
	Devices []DeviceStatus `json:"devices,omitempty"`
}

// NewDeviceGroupStatus projects a group and its member devices. Pass nil devices for the overview form.
func NewDeviceGroupStatus(g *DeviceGroup, devices []*Device) DeviceGroupStatus {
	s := DeviceGroupStatus{ID: g.ID, Name: g.Name, IsMuted: g.IsMuted}
	for _, d := range devices {
		s.Devices = append(s.Devices, NewDeviceStatus(d))
	}
	return s
}

// OverviewDeviceStatus is a family's groups (without members) plus the devices not in any group.
type OverviewDeviceStatus struct {
	FamilyID          string              `json:"familyId"`
	DeviceGroups      []DeviceGroupStatus `json:"deviceGroups"`
	StandAloneDevices []DeviceStatus      `json:"standAloneDevices"`
}

// NewOverviewDeviceStatus builds the overview for a family.
func NewOverviewDeviceStatus(groups []*DeviceGroup, standAlone []*Device) OverviewDeviceStatus {
	o := OverviewDeviceStatus{
		DeviceGroups:      make([]DeviceGroupStatus, 0, len(groups)),
		StandAloneDevices: make([]DeviceStatus, 0, len(standAlone)),
	}
	for _, g := range groups {
		o.DeviceGroups = append(o.DeviceGroups, NewDeviceGroupStatus(g, nil))
	}
	for _, d := range standAlone {
		o.StandAloneDevices = append(o.StandAloneDevices, NewDeviceStatus(d))
	}
	return o
}
