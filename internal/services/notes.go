package services

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/repositories"
	"github.com/desertthunder/pihome/internal/shared"
)

// NotesService stores family notes for the assistant's memory.
type NotesService struct {
	stores *Stores
	logger *log.Logger
}

// NewNotesService creates a [NotesService].
func NewNotesService(stores *Stores, logger *log.Logger) *NotesService {
	return &NotesService{stores: stores, logger: orDiscard(logger)}
}

// SaveNote stores content for a family member. Hashtags in the content become the note's tags.
func (s *NotesService) SaveNote(ctx context.Context, familyID, userID, content string, isPrivate bool) (*models.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, shared.BadRequest("Note content is required")
	}

	family, err := s.stores.Families.Get(ctx, familyID)
	if err != nil {
		return nil, err
	}
	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.FamilyID != family.ID {
		return nil, shared.BadRequest("User is not a member of the family")
	}

	note := &models.Note{
		Content:    content,
		Tags:       models.ExtractTags(content),
		UserID:     user.ID,
		UserName:   user.Name,
		FamilyID:   family.ID,
		FamilyName: family.Name,
		IsPrivate:  isPrivate,
	}
	if err := s.stores.Notes.Create(ctx, note); err != nil {
		return nil, err
	}

	s.logger.Debug("note saved", "note", note.ID, "family", family.ID, "private", isPrivate)
	return note, nil
}

// SearchNotes returns up to five of the newest notes visible to userID that mention query in their
// content or tags.
func (s *NotesService) SearchNotes(ctx context.Context, familyID, userID, query string) ([]*models.Note, error) {
	return s.stores.Notes.Search(ctx, familyID, userID, strings.TrimSpace(query), repositories.DefaultNoteSearchLimit)
}

// ListNotes returns the notes visible to userID, newest first.
func (s *NotesService) ListNotes(ctx context.Context, familyID, userID string, limit int) ([]*models.Note, error) {
	return s.stores.Notes.ListVisible(ctx, familyID, userID, limit)
}

// DeleteNote removes a note written by userID.
func (s *NotesService) DeleteNote(ctx context.Context, userID, noteID string) error {
	note, err := s.stores.Notes.Get(ctx, noteID)
	if err != nil {
		return err
	}
	if note.UserID != userID {
		return shared.Unauthorized("Only the author can delete a note")
	}
	return s.stores.Notes.Delete(ctx, note.ID)
}
