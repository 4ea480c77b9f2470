package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

var errNoUserContext = errors.New("User or family not found")

// NoteBook is the note storage the note tools write to. [services.NotesService] implements it.
type NoteBook interface {
	SaveNote(ctx context.Context, familyID, userID, content string, isPrivate bool) (*models.Note, error)
	SearchNotes(ctx context.Context, familyID, userID, query string) ([]*models.Note, error)
}

// NoteTools returns the note tools for scope. The scoped user wins over a userId argument,
// which only fills in when the scope has none.
func NoteTools(notes NoteBook, scope Scope) Toolset {
	nt := &noteTools{notes: notes, scope: scope}
	return Toolset{nt.saveNote(), nt.searchNotes()}
}

type noteTools struct {
	notes NoteBook
	scope Scope
}

func (nt *noteTools) user(argument string) (string, error) {
	if nt.scope.UserID != "" {
		return nt.scope.UserID, nil
	}
	if argument == "" {
		return "", errNoUserContext
	}
	return argument, nil
}

func (nt *noteTools) saveNote() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "saveNote",
			Description: "Save a note for a user. Can be marked as private.",
			Parameters: schema(map[string]any{
				"userId":    prop("string", "The ID of the user saving the note"),
				"content":   prop("string", "The content of the note"),
				"isPrivate": prop("boolean", "Whether the note is private"),
			}, "content", "isPrivate"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				UserID    string `json:"userId"`
				Content   string `json:"content"`
				IsPrivate bool   `json:"isPrivate"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			userID, err := nt.user(args.UserID)
			if err != nil {
				return "", err
			}

			note, err := nt.notes.SaveNote(ctx, nt.scope.FamilyID, userID, args.Content, args.IsPrivate)
			if errors.Is(err, shared.ErrNotFound) {
				return "", errNoUserContext
			}
			if err != nil {
				return "", err
			}

			tags := "none"
			if len(note.Tags) > 0 {
				tags = strings.Join(note.Tags, ", ")
			}
			visibility := "family-visible"
			if note.IsPrivate {
				visibility = "private"
			}
			return fmt.Sprintf("Note saved successfully with ID: %s. Tags: %s. Visibility: %s", note.ID, tags, visibility), nil
		},
	}
}

func (nt *noteTools) searchNotes() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "searchNotes",
			Description: "Search for notes by content or tags",
			Parameters: schema(map[string]any{
				"userId": prop("string", "The ID of the user searching for notes"),
				"query":  prop("string", "The search query for finding notes"),
			}, "query"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				UserID string `json:"userId"`
				Query  string `json:"query"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			userID, err := nt.user(args.UserID)
			if err != nil {
				return "", err
			}

			notes, err := nt.notes.SearchNotes(ctx, nt.scope.FamilyID, userID, args.Query)
			if err != nil {
				return "", err
			}
			if len(notes) == 0 {
				return "No notes found for this query.", nil
			}
			return formatNotes(notes, userID), nil
		},
	}
}

func formatNotes(notes []*models.Note, userID string) string {
	lines := make([]string, 0, len(notes))
	for i, n := range notes {
		author := n.UserName
		if n.UserID == userID {
			author = "You"
		}
		tags := ""
		if len(n.Tags) > 0 {
			tags = "[Tags: " + strings.Join(n.Tags, ", ") + "]"
		}
		visibility := "👨‍👩‍👧‍👦 Family"
		if n.IsPrivate {
			visibility = "🔒 Private"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (By: %s) %s %s", i+1, n.Content, author, tags, visibility))
	}
	return fmt.Sprintf("Found %d notes:\n%s", len(notes), strings.Join(lines, "\n"))
}
