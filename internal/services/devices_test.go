package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

func TestDevicesService(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateDevice", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)

		first, secret, err := svc.Devices.CreateDevice(ctx, family.ID, "Kitchen", "kitchen")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if secret == "" {
			t.Fatal("expected a plaintext secret")
		}
		if first.ClientSecretHash == secret {
			t.Error("expected secret to be stored hashed")
		}
		if !first.IsOn || first.IsMuted || first.VolumePercent != 100 {
			t.Errorf("unexpected defaults: %+v", first)
		}
		if !first.IsSoundServer {
			t.Error("expected first device to be the sound server")
		}

		second, _, err := svc.Devices.CreateDevice(ctx, family.ID, "Den", "den")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if second.IsSoundServer {
			t.Error("expected second device not to be the sound server")
		}

		_, _, err = svc.Devices.CreateDevice(ctx, family.ID, "Again", "kitchen")
		expectError(t, err, shared.ErrBadRequest, "Device with this client id already exists")

		_, _, err = svc.Devices.CreateDevice(ctx, "missing", "Nowhere", "nowhere")
		expectError(t, err, shared.ErrNotFound, "Family not found")
	})

	t.Run("CreateDevice trims the client id", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)

		device, secret, err := svc.Devices.CreateDevice(ctx, family.ID, "Porch", "  porch ")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if device.ClientID != "porch" {
			t.Errorf("expected client id porch, got %q", device.ClientID)
		}

		_, _, err = svc.Devices.CreateDevice(ctx, family.ID, "Porch again", "porch")
		expectError(t, err, shared.ErrBadRequest, "Device with this client id already exists")

		if _, err := svc.Devices.AuthenticateDevice(ctx, " porch", secret); err != nil {
			t.Errorf("expected padded client id to authenticate, got %v", err)
		}
	})

	t.Run("AuthenticateDevice", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)
		device, secret, _ := svc.Devices.CreateDevice(ctx, family.ID, "Kitchen", "kitchen")

		got, err := svc.Devices.AuthenticateDevice(ctx, "kitchen", secret)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.ID != device.ID {
			t.Errorf("expected device %s, got %s", device.ID, got.ID)
		}

		_, err = svc.Devices.AuthenticateDevice(ctx, "kitchen", "wrong")
		expectError(t, err, shared.ErrUnauthorized, "Invalid device credentials")

		_, err = svc.Devices.AuthenticateDevice(ctx, "unknown", secret)
		expectError(t, err, shared.ErrUnauthorized, "Invalid device credentials")
	})

	t.Run("DeleteDevice Reassigns Sound Server", func(t *testing.T) {
		svc, _, rec := setupServices(t)
		_, family := seedHousehold(t, svc)
		first, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Kitchen", "kitchen")
		second, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Den", "den")
		third, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Attic", "attic")
		rec.Reset()

		if err := svc.Devices.DeleteDevice(ctx, first.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		promoted, _ := svc.Devices.GetDevice(ctx, second.ID)
		if !promoted.IsSoundServer {
			t.Error("expected oldest remaining device to become sound server")
		}
		other, _ := svc.Devices.GetDevice(ctx, third.ID)
		if other.IsSoundServer {
			t.Error("expected only one sound server")
		}
		if rec.count(events.DeviceStatusUpdated) != 2 {
			t.Errorf("expected status updates for deleted and promoted device, got %v", rec.Topics())
		}

		// Deleting a non sound server leaves the role alone.
		if err := svc.Devices.DeleteDevice(ctx, third.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		current, err := svc.Devices.AssignDeviceAsSoundServerIfAny(ctx, family.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if current == nil || current.ID != second.ID {
			t.Errorf("expected %s to remain sound server, got %+v", second.ID, current)
		}

		if err := svc.Devices.DeleteDevice(ctx, second.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		none, err := svc.Devices.AssignDeviceAsSoundServerIfAny(ctx, family.ID)
		if err != nil || none != nil {
			t.Errorf("expected no sound server for empty family, got %v, %v", none, err)
		}
	})

	t.Run("GetDeviceDeviceGroup", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)
		device, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Kitchen", "kitchen")

		_, err := svc.Devices.GetDeviceDeviceGroup(ctx, device.ID)
		expectError(t, err, shared.ErrBadRequest, "Device is not in a device group")

		group, _ := svc.DeviceGroups.CreateDeviceGroup(ctx, family.ID, "Downstairs", false)
		if _, err := svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, device.ID); err != nil {
			t.Fatalf("failed to add device: %v", err)
		}

		got, err := svc.Devices.GetDeviceDeviceGroup(ctx, device.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.ID != group.ID {
			t.Errorf("expected group %s, got %s", group.ID, got.ID)
		}

		loose, _ := svc.Devices.ListDevicesNotInDeviceGroup(ctx, family.ID)
		if len(loose) != 0 {
			t.Errorf("expected no stand-alone devices, got %d", len(loose))
		}
	})
}

func TestDeviceGroupsService(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupServices(t)
	_, family := seedHousehold(t, svc)

	otherOwner, _ := svc.Users.CreateUser(ctx, "other@example.com", "Other", "")
	otherFamily, _ := svc.Families.CreateFamily(ctx, otherOwner.ID, "The Joneses")

	kitchen, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Kitchen", "kitchen")
	den, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Den", "den")
	foreign, _, _ := svc.Devices.CreateDevice(ctx, otherFamily.ID, "Theirs", "theirs")

	group, err := svc.DeviceGroups.CreateDeviceGroup(ctx, family.ID, "Downstairs", false)
	if err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	t.Run("family scoping", func(t *testing.T) {
		_, err := svc.DeviceGroups.GetDeviceGroup(ctx, otherFamily.ID, group.ID)
		expectError(t, err, shared.ErrNotFound, "Device group not found")

		err = svc.DeviceGroups.DeleteDeviceGroup(ctx, otherFamily.ID, group.ID)
		expectError(t, err, shared.ErrNotFound, "Device group not found")
	})

	t.Run("AddDevices", func(t *testing.T) {
		_, err := svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, kitchen.ID, foreign.ID)
		if !errors.Is(err, shared.ErrBadRequest) {
			t.Fatalf("expected bad request for foreign device, got %v", err)
		}

		if _, err := svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, kitchen.ID, den.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		members, _ := svc.DeviceGroups.ListDevices(ctx, family.ID, group.ID)
		if len(members) != 2 {
			t.Errorf("expected 2 members, got %d", len(members))
		}
	})

	t.Run("RemoveDevices", func(t *testing.T) {
		if _, err := svc.DeviceGroups.RemoveDevices(ctx, family.ID, group.ID, den.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		_, err := svc.DeviceGroups.RemoveDevices(ctx, family.ID, group.ID, den.ID)
		if !errors.Is(err, shared.ErrBadRequest) {
			t.Errorf("expected bad request for non-member, got %v", err)
		}

		members, _ := svc.DeviceGroups.ListDevices(ctx, family.ID, group.ID)
		if len(members) != 1 || members[0].ID != kitchen.ID {
			t.Errorf("expected only kitchen to remain, got %+v", members)
		}
	})

	t.Run("UpdateDeviceGroup", func(t *testing.T) {
		updated, err := svc.DeviceGroups.UpdateDeviceGroup(ctx, family.ID, group.ID, "Ground Floor")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if updated.Name != "Ground Floor" {
			t.Errorf("expected renamed group, got %s", updated.Name)
		}
	})

	t.Run("DeleteDeviceGroup", func(t *testing.T) {
		if err := svc.DeviceGroups.DeleteDeviceGroup(ctx, family.ID, group.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		device, _ := svc.Devices.GetDevice(ctx, kitchen.ID)
		if device.DeviceGroupID != "" {
			t.Errorf("expected kitchen to become stand-alone, got group %s", device.DeviceGroupID)
		}
	})
}

func TestDeviceStatusService(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishAffectedStatusUpdates", func(t *testing.T) {
		svc, _, rec := setupServices(t)
		_, family := seedHousehold(t, svc)
		grouped, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Kitchen", "kitchen")
		loose, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "Den", "den")
		group, _ := svc.DeviceGroups.CreateDeviceGroup(ctx, family.ID, "Downstairs", false)
		if _, err := svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, grouped.ID); err != nil {
			t.Fatalf("failed to add device: %v", err)
		}
		grouped, _ = svc.Devices.GetDevice(ctx, grouped.ID)

		tests := []struct {
			name     string
			device   *models.Device
			cascades bool
			expected []string
		}{
			{
				name:     "grouped without cascade",
				device:   grouped,
				expected: []string{events.DeviceStatusUpdated, events.DeviceGroupStatusUpdated},
			},
			{
				name:     "grouped with cascade",
				device:   grouped,
				cascades: true,
				expected: []string{events.DeviceStatusUpdated, events.DeviceGroupStatusUpdated, events.OverviewDeviceStatusUpdated},
			},
			{
				name:     "stand-alone",
				device:   loose,
				expected: []string{events.DeviceStatusUpdated, events.OverviewDeviceStatusUpdated},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec.Reset()
				if err := svc.DeviceStatus.PublishAffectedStatusUpdates(ctx, tt.device, tt.cascades); err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if got := rec.Topics(); !slices.Equal(got, tt.expected) {
					t.Errorf("expected topics %v, got %v", tt.expected, got)
				}
			})
		}
	})

	t.Run("SetDeviceMuted cascades to group", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)
		a, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "A", "a")
		b, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "B", "b")
		group, _ := svc.DeviceGroups.CreateDeviceGroup(ctx, family.ID, "Pair", false)
		_, _ = svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, a.ID, b.ID)

		if _, err := svc.DeviceStatus.SetDeviceMuted(ctx, a.ID, true); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		status, _ := svc.DeviceStatus.GetDeviceGroupStatus(ctx, group.ID)
		if status.IsMuted {
			t.Error("expected group unmuted while one member plays")
		}

		_, _ = svc.DeviceStatus.SetDeviceMuted(ctx, b.ID, true)
		status, _ = svc.DeviceStatus.GetDeviceGroupStatus(ctx, group.ID)
		if !status.IsMuted {
			t.Error("expected group muted once every member is muted")
		}

		_, _ = svc.DeviceStatus.SetDeviceMuted(ctx, a.ID, false)
		status, _ = svc.DeviceStatus.GetDeviceGroupStatus(ctx, group.ID)
		if status.IsMuted {
			t.Error("expected unmuting a member to unmute the group")
		}
	})

	t.Run("partial mute keeps the group flag", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)
		a, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "A", "a")
		b, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "B", "b")
		c, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "C", "c")
		group, _ := svc.DeviceGroups.CreateDeviceGroup(ctx, family.ID, "Trio", false)
		_, _ = svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, a.ID, b.ID)

		if _, err := svc.DeviceStatus.SetDeviceGroupMuted(ctx, group.ID, true); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, err := svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, c.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if _, err := svc.DeviceStatus.SetDeviceMuted(ctx, a.ID, true); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		status, _ := svc.DeviceStatus.GetDeviceGroupStatus(ctx, group.ID)
		if !status.IsMuted {
			t.Error("expected group to stay muted while a playing member joined")
		}
	})

	t.Run("SetDeviceGroupMuted", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)
		a, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "A", "a")
		b, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "B", "b")
		group, _ := svc.DeviceGroups.CreateDeviceGroup(ctx, family.ID, "Pair", false)
		_, _ = svc.DeviceGroups.AddDevices(ctx, family.ID, group.ID, a.ID, b.ID)

		status, err := svc.DeviceStatus.SetDeviceGroupMuted(ctx, group.ID, true)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !status.IsMuted {
			t.Error("expected group muted")
		}
		for _, d := range status.Devices {
			if !d.IsMuted {
				t.Errorf("expected device %s muted", d.ID)
			}
		}

		status, _ = svc.DeviceStatus.SetDeviceGroupMuted(ctx, group.ID, false)
		if status.IsMuted {
			t.Error("expected group unmuted")
		}
	})

	t.Run("SetDeviceVolume", func(t *testing.T) {
		svc, _, rec := setupServices(t)
		_, family := seedHousehold(t, svc)
		device, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "A", "a")
		rec.Reset()

		updated, err := svc.DeviceStatus.SetDeviceVolume(ctx, device.ID, 35)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if updated.VolumePercent != 35 {
			t.Errorf("expected volume 35, got %d", updated.VolumePercent)
		}
		if rec.count(events.DeviceStatusUpdated) != 1 {
			t.Errorf("expected one status update, got %v", rec.Topics())
		}

		_, err = svc.DeviceStatus.SetDeviceVolume(ctx, device.ID, 101)
		if !errors.Is(err, shared.ErrBadRequest) {
			t.Errorf("expected bad request, got %v", err)
		}
	})

	t.Run("GetOverviewDeviceStatus", func(t *testing.T) {
		svc, _, _ := setupServices(t)
		_, family := seedHousehold(t, svc)
		_, _, _ = svc.Devices.CreateDevice(ctx, family.ID, "A", "a")

		overview, err := svc.DeviceStatus.GetOverviewDeviceStatus(ctx, family.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if overview.FamilyID != family.ID {
			t.Errorf("expected family id on overview, got %s", overview.FamilyID)
		}
		if len(overview.DeviceGroups) != 1 || len(overview.DeviceGroups[0].Devices) != 0 {
			t.Errorf("expected the default group without members, got %+v", overview.DeviceGroups)
		}
		if len(overview.StandAloneDevices) != 1 {
			t.Errorf("expected one stand-alone device, got %d", len(overview.StandAloneDevices))
		}
	})

	t.Run("Heartbeats", func(t *testing.T) {
		svc, stores, rec := setupServices(t)
		_, family := seedHousehold(t, svc)
		device, _, _ := svc.Devices.CreateDevice(ctx, family.ID, "A", "a")
		rec.Reset()

		got, err := svc.DeviceStatus.ReceiveDeviceHeartbeat(ctx, device.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.LastHeartbeatAt == nil {
			t.Fatal("expected heartbeat time recorded")
		}
		if rec.count(events.DeviceStatusUpdated) != 1 {
			t.Errorf("expected first heartbeat to publish, got %v", rec.Topics())
		}

		rec.Reset()
		_, _ = svc.DeviceStatus.ReceiveDeviceHeartbeat(ctx, device.ID)
		if len(rec.Topics()) != 0 {
			t.Errorf("expected repeat heartbeat to stay quiet, got %v", rec.Topics())
		}

		stale := time.Now().UTC().Add(-5 * time.Minute)
		got.LastHeartbeatAt = &stale
		if err := stores.Devices.Update(ctx, got); err != nil {
			t.Fatalf("failed to age heartbeat: %v", err)
		}

		marked, err := svc.DeviceStatus.MarkStaleDevicesOffline(ctx, time.Minute)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if marked != 1 {
			t.Errorf("expected 1 device marked offline, got %d", marked)
		}

		offline, _ := svc.DeviceStatus.GetDeviceStatus(ctx, device.ID)
		if offline.IsOn {
			t.Error("expected device offline")
		}

		rec.Reset()
		_, _ = svc.DeviceStatus.ReceiveDeviceHeartbeat(ctx, device.ID)
		if rec.count(events.DeviceStatusUpdated) != 1 {
			t.Errorf("expected coming back online to publish, got %v", rec.Topics())
		}
	})

	t.Run("events reach bus subscribers", func(t *testing.T) {
		_, stores, _ := setupServices(t)
		bus := events.NewBus(nil, 32)
		defer bus.Close()

		ch, cancel := bus.Subscribe(events.DeviceStatusUpdated)
		defer cancel()

		status := NewDeviceStatusService(stores, bus, nil)
		users := NewUsersService(stores, nil)
		families := NewFamiliesService(stores, nil)
		devices := NewDevicesService(stores, bus, nil)

		owner, _ := users.CreateUser(ctx, "bus@example.com", "Bus", "")
		family, _ := families.CreateFamily(ctx, owner.ID, "Bus Riders")
		device, _, _ := devices.CreateDevice(ctx, family.ID, "A", "a")

		if _, err := status.SetDeviceVolume(ctx, device.ID, 10); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		select {
		case ev := <-ch:
			got, ok := ev.Payload.(models.DeviceStatus)
			if !ok {
				t.Fatalf("expected DeviceStatus payload, got %T", ev.Payload)
			}
			if got.VolumePercent != 10 {
				t.Errorf("expected volume 10, got %d", got.VolumePercent)
			}
		case <-time.After(time.Second):
			t.Fatal("expected a device status event")
		}
	})
}

// TestMuteCascadeProperty checks that after any sequence of mute changes a group is muted
// exactly when all of its members are.
func TestMuteCascadeProperty(t *testing.T) {
	ctx := context.Background()
	svc, stores, _ := setupServices(t)
	_, family := seedHousehold(t, svc)

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "devices")

		group := models.NewDeviceGroup(family.ID, "Group", false)
		if err := stores.DeviceGroups.Create(ctx, group); err != nil {
			rt.Fatalf("failed to create group: %v", err)
		}

		ids := make([]string, n)
		for i := range ids {
			d := models.NewDevice(family.ID, "Speaker", shared.GenerateID())
			d.DeviceGroupID = group.ID
			if err := stores.Devices.Create(ctx, d); err != nil {
				rt.Fatalf("failed to create device: %v", err)
			}
			ids[i] = d.ID
		}

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			idx := rapid.IntRange(0, n-1).Draw(rt, "device")
			muted := rapid.Bool().Draw(rt, "muted")

			if _, err := svc.DeviceStatus.SetDeviceMuted(ctx, ids[idx], muted); err != nil {
				rt.Fatalf("SetDeviceMuted failed: %v", err)
			}

			status, err := svc.DeviceStatus.GetDeviceGroupStatus(ctx, group.ID)
			if err != nil {
				rt.Fatalf("GetDeviceGroupStatus failed: %v", err)
			}

			allMuted := true
			for _, d := range status.Devices {
				allMuted = allMuted && d.IsMuted
			}
			if status.IsMuted != allMuted {
				rt.Fatalf("group muted=%v but all members muted=%v", status.IsMuted, allMuted)
			}
		}
	})
}
