// package formatter renders chat transcripts (CSV, Markdown, plain text, JSON) and device status tables
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// Format is a transcript export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
)

const timeLayout = "2006-01-02 15:04:05"

// ParseFormat accepts a format name or a common alias ("md", "text").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "txt", "text":
		return FormatText, nil
	case "json", "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

// Extension is the file extension used for f.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Transcript is a chat with its messages in chronological order and display names for senders.
type Transcript struct {
	Chat     *models.Chat      `json:"chat"`
	Messages []*models.Message `json:"messages"`
	Senders  map[string]string `json:"senders,omitempty"`
}

// SenderName returns the display name for a sender id, falling back to the id.
func (t *Transcript) SenderName(id string) string {
	if name, ok := t.Senders[id]; ok && name != "" {
		return name
	}
	if id == models.AssistantSenderID {
		return "Assistant"
	}
	return id
}

// ExportToCSV writes one row per message with columns: ID, Time, Sender, Content
func ExportToCSV(t *Transcript) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"ID", "Time", "Sender", "Content"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, m := range t.Messages {
		record := []string{m.ID, m.CreatedAt.UTC().Format(time.RFC3339), t.SenderName(m.SenderID), m.Content}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportToMarkdown renders the chat as a heading followed by one quoted block per message
func ExportToMarkdown(t *Transcript) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", t.Chat.Name)
	fmt.Fprintf(&buf, "**Messages**: %d\n", len(t.Messages))
	fmt.Fprintf(&buf, "**Started**: %s\n\n", t.Chat.CreatedAt.UTC().Format(timeLayout))

	buf.WriteString("## Conversation\n\n")
	for _, m := range t.Messages {
		fmt.Fprintf(&buf, "**%s** _%s_\n\n", t.SenderName(m.SenderID), m.CreatedAt.UTC().Format(timeLayout))
		for _, line := range strings.Split(m.Content, "\n") {
			fmt.Fprintf(&buf, "> %s\n", line)
		}
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// ExportToText renders "[time] sender: content" lines
func ExportToText(t *Transcript) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Chat: %s\n", t.Chat.Name)
	fmt.Fprintf(&buf, "Messages: %d\n\n", len(t.Messages))
	for _, m := range t.Messages {
		fmt.Fprintf(&buf, "[%s] %s: %s\n", m.CreatedAt.UTC().Format(timeLayout), t.SenderName(m.SenderID), m.Content)
	}
	return buf.Bytes(), nil
}

// ExportToJSON is the indented JSON form of the transcript.
func ExportToJSON(t *Transcript) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Export renders t in format f.
func Export(t *Transcript, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return ExportToCSV(t)
	case FormatMarkdown:
		return ExportToMarkdown(t)
	case FormatText:
		return ExportToText(t)
	case FormatJSON:
		return ExportToJSON(t)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, f)
	}
}

// WriteExport writes t to {dir}/{chatID}.{ext} and returns the path.
//
// The directory is created when missing; an empty dir writes to the working directory.
func WriteExport(t *Transcript, f Format, dir string) (string, error) {
	data, err := Export(t, f)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", f, err)
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s", t.Chat.ID, f.Extension()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", f, err)
	}
	return path, nil
}
