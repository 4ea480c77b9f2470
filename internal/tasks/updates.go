package tasks

import (
	"fmt"
)

// ProgressUpdate is a progress event from a long-running task, sent to the CLI or TUI for display.
type ProgressUpdate struct {
	Phase   Phase
	Step    int
	Total   int
	Message string
	Data    any // phase-specific payload, e.g. an [ExportResult]
}

type Phase int

const (
	ListChats Phase = iota
	ExportChats
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case ListChats:
		return "list_chats"
	case ExportChats:
		return "export_chats"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

// sendProgress never blocks; updates are dropped when nobody is reading.
func sendProgress(prog chan<- ProgressUpdate, update ProgressUpdate) {
	if prog == nil {
		return
	}
	select {
	case prog <- update:
	default:
	}
}

func listChatsUpdate(familyID string, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ListChats,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d chats for family %s", count, familyID),
	}
}

func exportCompletedUpdate(step, total int, res ExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportChats,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d messages)", step, total, res.ChatName, res.Messages),
		Data:    res,
	}
}

func exportFailedUpdate(step, total int, res ExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportChats,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, res.ChatName, res.Error),
		Data:    res,
	}
}

func manifestUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: "Manifest written to " + path,
	}
}
