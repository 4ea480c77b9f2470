package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var styles = NewPalette("#1DB954", "#7D56F4", "#04B575", "#FF0000", "#626262")

// Palette is the TUI stylesheet.
type Palette struct {
	title     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	err       lipgloss.Style
	help      lipgloss.Style
	border    lipgloss.Style
}

func NewPalette(title, user, assistant, err, muted string) *Palette {
	return &Palette{
		title:     NewBold(title).MarginBottom(1),
		user:      NewBold(user),
		assistant: NewBold(assistant),
		err:       NewBold(err),
		help:      NewEm(muted),
		border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(muted)),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
