package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

const familyColumns = `id, name, owner_id, invite_code, chat_model_id, created_at, updated_at`

var errFamilyNotFound = shared.NotFound("Family not found")

// FamilyRepository implements [models.Repository] for [models.Family] persistence.
type FamilyRepository struct {
	db *sql.DB
}

// NewFamilyRepository creates a new [FamilyRepository] with the given database connection
func NewFamilyRepository(db *sql.DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// Create inserts a new family with generated ID and sequence
func (r *FamilyRepository) Create(ctx context.Context, family *models.Family) error {
	if err := family.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "families")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if family.ID == "" {
		family.ID = shared.GenerateID()
	}
	family.Stamp(time.Now())

	query := `
		INSERT INTO families (id, sequence, name, owner_id, invite_code, chat_model_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		family.ID, sequence, family.Name, family.OwnerID,
		nullable(family.InviteCode), nullable(family.ChatModelID), family.CreatedAt, family.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert family: %w", err)
	}

	return nil
}

// Get retrieves a family by ID
func (r *FamilyRepository) Get(ctx context.Context, id string) (*models.Family, error) {
	return r.getOne(ctx, `SELECT `+familyColumns+` FROM families WHERE id = ?`, id)
}

// GetByInviteCode retrieves the family currently advertising code
func (r *FamilyRepository) GetByInviteCode(ctx context.Context, code string) (*models.Family, error) {
	return r.getOne(ctx, `SELECT `+familyColumns+` FROM families WHERE invite_code = ?`, code)
}

func (r *FamilyRepository) getOne(ctx context.Context, query string, arg any) (*models.Family, error) {
	family, err := scanFamily(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFamilyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query family: %w", err)
	}
	return family, nil
}

// Update modifies name, owner, invite code and chat model of a family
func (r *FamilyRepository) Update(ctx context.Context, family *models.Family) error {
	if err := family.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	family.Stamp(time.Now())

	query := `
		UPDATE families
		SET name = ?, owner_id = ?, invite_code = ?, chat_model_id = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		family.Name, family.OwnerID, nullable(family.InviteCode), nullable(family.ChatModelID), family.UpdatedAt, family.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update family: %w", err)
	}

	return affectedOne(result, errFamilyNotFound)
}

// Delete removes a family. Devices, groups, chats, notes and the Spotify connection cascade;
// members are detached.
func (r *FamilyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM families WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete family: %w", err)
	}

	return affectedOne(result, errFamilyNotFound)
}

// List retrieves families matching criteria. Supported criteria: "owner_id" (string).
func (r *FamilyRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Family, error) {
	var where whereBuilder
	if ownerID, ok := criteria["owner_id"].(string); ok && ownerID != "" {
		where.add("owner_id = ?", ownerID)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+familyColumns+` FROM families`+where.String()+` ORDER BY sequence ASC`, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query families: %w", err)
	}
	defer rows.Close()

	var families []*models.Family
	for rows.Next() {
		family, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan family: %w", err)
		}
		families = append(families, family)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return families, nil
}

func scanFamily(row rowScanner) (*models.Family, error) {
	var (
		family      models.Family
		inviteCode  sql.NullString
		chatModelID sql.NullString
	)

	if err := row.Scan(&family.ID, &family.Name, &family.OwnerID, &inviteCode, &chatModelID,
		&family.CreatedAt, &family.UpdatedAt); err != nil {
		return nil, err
	}

	family.InviteCode = inviteCode.String
	family.ChatModelID = chatModelID.String
	return &family, nil
}
