package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/pihome/internal/models"
)

const previewLength = 60

var _ list.Item = chatItem{}

// chatItem wraps [models.ChatSummary] to implement [list.Item].
type chatItem struct {
	summary *models.ChatSummary
}

func (i chatItem) FilterValue() string { return i.summary.Name }
func (i chatItem) Title() string       { return i.summary.Name }
func (i chatItem) Description() string {
	updated := i.summary.UpdatedAt.Local().Format("Jan 2 15:04")
	if i.summary.LatestMessage == nil {
		return fmt.Sprintf("%s • no messages yet", updated)
	}
	return fmt.Sprintf("%s • %s", updated, preview(i.summary.LatestMessage.Content))
}

func preview(content string) string {
	line := strings.Join(strings.Fields(content), " ")
	if r := []rune(line); len(r) > previewLength {
		return string(r[:previewLength-1]) + "…"
	}
	return line
}
