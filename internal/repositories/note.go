package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

const noteColumns = `id, content, tags, category, user_id, user_name, family_id, family_name, is_private, created_at, updated_at`

// DefaultNoteSearchLimit caps note search results.
const DefaultNoteSearchLimit = 5

var errNoteNotFound = shared.NotFound("Note not found")

// NoteRepository implements [models.Repository] for [models.Note] persistence.
//
// Tags are stored as a JSON array of strings.
type NoteRepository struct {
	db *sql.DB
}

// NewNoteRepository creates a new [NoteRepository] with the given database connection
func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// Create inserts a new note with generated ID and sequence
func (r *NoteRepository) Create(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tags, err := encodeTags(note.Tags)
	if err != nil {
		return err
	}

	sequence, err := NextSequence(ctx, r.db, "notes")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if note.ID == "" {
		note.ID = shared.GenerateID()
	}
	note.Stamp(time.Now())

	query := `
		INSERT INTO notes (id, sequence, content, tags, category, user_id, user_name, family_id, family_name,
			is_private, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		note.ID, sequence, note.Content, tags, note.Category, note.UserID, note.UserName, note.FamilyID,
		note.FamilyName, note.IsPrivate, note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}

	return nil
}

// Get retrieves a note by ID
func (r *NoteRepository) Get(ctx context.Context, id string) (*models.Note, error) {
	note, err := scanNote(r.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query note: %w", err)
	}
	return note, nil
}

// Update rewrites content, tags, category and visibility
func (r *NoteRepository) Update(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tags, err := encodeTags(note.Tags)
	if err != nil {
		return err
	}

	note.Stamp(time.Now())

	result, err := r.db.ExecContext(ctx,
		`UPDATE notes SET content = ?, tags = ?, category = ?, is_private = ?, updated_at = ? WHERE id = ?`,
		note.Content, tags, note.Category, note.IsPrivate, note.UpdatedAt, note.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}

	return affectedOne(result, errNoteNotFound)
}

// Delete removes a note by ID
func (r *NoteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	return affectedOne(result, errNoteNotFound)
}

// DeleteByFamily removes every note of a family and returns how many went.
func (r *NoteRepository) DeleteByFamily(ctx context.Context, familyID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE family_id = ?`, familyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete family notes: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// List retrieves notes newest first.
//
// Supported criteria: "family_id", "user_id" (string); "visible_to" (string) keeps public notes and
// the given user's private ones; "limit" (int).
func (r *NoteRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Note, error) {
	var where whereBuilder
	if familyID, ok := criteria["family_id"].(string); ok && familyID != "" {
		where.add("family_id = ?", familyID)
	}
	if userID, ok := criteria["user_id"].(string); ok && userID != "" {
		where.add("user_id = ?", userID)
	}
	if viewer, ok := criteria["visible_to"].(string); ok && viewer != "" {
		where.add("(is_private = 0 OR user_id = ?)", viewer)
	}

	limit, _ := criteria["limit"].(int)
	limit, _ = paginate(limit, 0)

	return r.query(ctx, `SELECT `+noteColumns+` FROM notes`+where.String()+` ORDER BY sequence DESC LIMIT ?`,
		append(where.args, limit)...)
}

// ListVisible returns the family notes userID may read, newest first.
func (r *NoteRepository) ListVisible(ctx context.Context, familyID, userID string, limit int) ([]*models.Note, error) {
	return r.List(ctx, map[string]any{"family_id": familyID, "visible_to": userID, "limit": limit})
}

// Search returns visible family notes whose content contains query case-insensitively
// or whose tags include the lowercased query, newest first.
func (r *NoteRepository) Search(ctx context.Context, familyID, userID, query string, limit int) ([]*models.Note, error) {
	if limit <= 0 {
		limit = DefaultNoteSearchLimit
	}

	tagNeedle := `"` + strings.ToLower(query) + `"`

	q := `SELECT ` + noteColumns + ` FROM notes
		WHERE family_id = ? AND (is_private = 0 OR user_id = ?)
			AND (instr(lower(content), lower(?)) > 0 OR instr(tags, ?) > 0)
		ORDER BY sequence DESC LIMIT ?`

	return r.query(ctx, q, familyID, userID, query, tagNeedle, limit)
}

func (r *NoteRepository) query(ctx context.Context, query string, args ...any) ([]*models.Note, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return notes, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}

func scanNote(row rowScanner) (*models.Note, error) {
	var (
		note models.Note
		tags string
	)

	err := row.Scan(&note.ID, &note.Content, &tags, &note.Category, &note.UserID, &note.UserName,
		&note.FamilyID, &note.FamilyName, &note.IsPrivate, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &note.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return &note, nil
}
