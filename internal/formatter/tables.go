package formatter

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/pihome/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// DeviceTable renders device statuses as a table.
func DeviceTable(devices []models.DeviceStatus) string {
	t := newTable("ID", "Name", "Power", "Muted", "Volume")
	for _, d := range devices {
		t.Row(d.ID, d.Name, onOff(d.IsOn), yesNo(d.IsMuted), strconv.Itoa(d.VolumePercent)+"%")
	}
	return t.Render()
}

// DeviceListTable renders registered devices with their group and sound server flag.
func DeviceListTable(devices []*models.Device) string {
	t := newTable("ID", "Name", "Client ID", "Group", "Power", "Sound server")
	for _, d := range devices {
		t.Row(d.ID, d.Name, d.ClientID, d.DeviceGroupID, onOff(d.IsOn), yesNo(d.IsSoundServer))
	}
	return t.Render()
}

// GroupTable renders device groups.
func GroupTable(groups []models.DeviceGroupStatus) string {
	t := newTable("ID", "Name", "Muted", "Devices")
	for _, g := range groups {
		t.Row(g.ID, g.Name, yesNo(g.IsMuted), strconv.Itoa(len(g.Devices)))
	}
	return t.Render()
}

// WriteOverview prints a family's groups followed by its stand-alone devices.
func WriteOverview(w io.Writer, overview models.OverviewDeviceStatus) error {
	if _, err := fmt.Fprintln(w, titleStyle.Render("Device groups")); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, GroupTable(overview.DeviceGroups)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, titleStyle.Render("Stand-alone devices")); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, DeviceTable(overview.StandAloneDevices))
	return err
}

// WriteGroupStatus prints one group and its members.
func WriteGroupStatus(w io.Writer, group models.DeviceGroupStatus) error {
	header := fmt.Sprintf("%s (%s) muted: %s", group.Name, group.ID, yesNo(group.IsMuted))
	if _, err := fmt.Fprintln(w, titleStyle.Render(header)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, DeviceTable(group.Devices))
	return err
}
