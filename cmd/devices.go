package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pihome/internal/formatter"
	"github.com/desertthunder/pihome/internal/models"
)

// DeviceCreate registers a device and prints its secret. The secret is only stored hashed, so this
// is the one chance to copy it onto the device.
func (r *Runner) DeviceCreate(ctx context.Context, cmd *cli.Command) error {
	device, secret, err := r.services.Devices.CreateDevice(ctx, cmd.String("family"), cmd.String("name"), cmd.String("client-id"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(struct {
			*models.Device
			ClientSecret string `json:"clientSecret"`
		}{device, secret}, true)
	}

	r.writePlain("✓ Registered device %s\n", device.Name)
	r.writePlain("  ID:            %s\n", device.ID)
	r.writePlain("  Client ID:     %s\n", device.ClientID)
	r.writePlain("  Client secret: %s\n", secret)
	if device.IsSoundServer {
		r.writePlain("  Sound server:  yes\n")
	}
	return r.writePlainln("Store the secret now; it cannot be shown again.")
}

func (r *Runner) DeviceShow(ctx context.Context, cmd *cli.Command) error {
	device, err := r.services.Devices.GetDevice(ctx, cmd.String("device"))
	if err != nil {
		return err
	}
	return r.emit(cmd, device, func() error {
		return r.writePlain("%s\n", formatter.DeviceListTable([]*models.Device{device}))
	})
}

func (r *Runner) DeviceRename(ctx context.Context, cmd *cli.Command) error {
	device, err := r.services.Devices.UpdateDevice(ctx, cmd.String("device"), cmd.String("name"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Renamed device to %s\n", device.Name)
}

// DeviceDelete removes a device. When it was the sound server another device takes over.
func (r *Runner) DeviceDelete(ctx context.Context, cmd *cli.Command) error {
	if err := r.services.Devices.DeleteDevice(ctx, cmd.String("device")); err != nil {
		return err
	}
	return r.writePlain("✓ Deleted device %s\n", cmd.String("device"))
}

func (r *Runner) DeviceMute(ctx context.Context, cmd *cli.Command) error {
	device, err := r.services.DeviceStatus.SetDeviceMuted(ctx, cmd.String("device"), !cmd.Bool("unmute"))
	if err != nil {
		return err
	}
	return r.writeDeviceStatus(models.NewDeviceStatus(device))
}

func (r *Runner) DeviceVolume(ctx context.Context, cmd *cli.Command) error {
	device, err := r.services.DeviceStatus.SetDeviceVolume(ctx, cmd.String("device"), cmd.Int("percent"))
	if err != nil {
		return err
	}
	return r.writeDeviceStatus(models.NewDeviceStatus(device))
}

func (r *Runner) DeviceStatus(ctx context.Context, cmd *cli.Command) error {
	status, err := r.services.DeviceStatus.GetDeviceStatus(ctx, cmd.String("device"))
	if err != nil {
		return err
	}
	return r.emit(cmd, status, func() error { return r.writeDeviceStatus(status) })
}

func (r *Runner) writeDeviceStatus(status models.DeviceStatus) error {
	return r.writePlain("%s\n", formatter.DeviceTable([]models.DeviceStatus{status}))
}

func (r *Runner) GroupCreate(ctx context.Context, cmd *cli.Command) error {
	group, err := r.services.DeviceGroups.CreateDeviceGroup(ctx, cmd.String("family"), cmd.String("name"), false)
	if err != nil {
		return err
	}
	return r.emit(cmd, group, func() error {
		r.writePlain("✓ Created group %s\n", group.Name)
		return r.writePlain("ID: %s\n", group.ID)
	})
}

// GroupShow prints a group of the family with the status of its members.
func (r *Runner) GroupShow(ctx context.Context, cmd *cli.Command) error {
	group, err := r.services.DeviceGroups.GetDeviceGroup(ctx, cmd.String("family"), cmd.String("group"))
	if err != nil {
		return err
	}
	status, err := r.services.DeviceStatus.GetDeviceGroupStatus(ctx, group.ID)
	if err != nil {
		return err
	}
	return r.emit(cmd, status, func() error {
		return formatter.WriteGroupStatus(r.output, status)
	})
}

func (r *Runner) GroupRename(ctx context.Context, cmd *cli.Command) error {
	group, err := r.services.DeviceGroups.UpdateDeviceGroup(ctx, cmd.String("family"), cmd.String("group"), cmd.String("name"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Renamed group to %s\n", group.Name)
}

func (r *Runner) GroupDelete(ctx context.Context, cmd *cli.Command) error {
	if err := r.services.DeviceGroups.DeleteDeviceGroup(ctx, cmd.String("family"), cmd.String("group")); err != nil {
		return err
	}
	return r.writePlain("✓ Deleted group %s\n", cmd.String("group"))
}

func (r *Runner) GroupAdd(ctx context.Context, cmd *cli.Command) error {
	group, err := r.services.DeviceGroups.AddDevices(ctx, cmd.String("family"), cmd.String("group"), cmd.StringSlice("device")...)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Added %d devices to %s\n", len(cmd.StringSlice("device")), group.Name)
}

func (r *Runner) GroupRemove(ctx context.Context, cmd *cli.Command) error {
	group, err := r.services.DeviceGroups.RemoveDevices(ctx, cmd.String("family"), cmd.String("group"), cmd.StringSlice("device")...)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Removed %d devices from %s\n", len(cmd.StringSlice("device")), group.Name)
}

// GroupMute mutes the group and every device in it.
func (r *Runner) GroupMute(ctx context.Context, cmd *cli.Command) error {
	status, err := r.services.DeviceStatus.SetDeviceGroupMuted(ctx, cmd.String("group"), !cmd.Bool("unmute"))
	if err != nil {
		return err
	}
	return formatter.WriteGroupStatus(r.output, status)
}
